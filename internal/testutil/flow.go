package testutil

import "fmt"

// SequentialFlushIDs generates flush ids "<prefix>-1", "<prefix>-2", ... from
// a DeterministicClock.
//
// Unlike engine.FixedGenerator it never runs out, so a scenario can flush
// any number of times and still produce byte-identical traces.
//
// Thread-safety: safe for concurrent use (the clock is).
type SequentialFlushIDs struct {
	prefix string
	clock  *DeterministicClock
}

// NewSequentialFlushIDs creates a generator. An empty prefix becomes "flush".
func NewSequentialFlushIDs(prefix string) *SequentialFlushIDs {
	if prefix == "" {
		prefix = "flush"
	}
	return &SequentialFlushIDs{prefix: prefix, clock: NewDeterministicClock()}
}

// Generate implements engine.FlushIDGenerator.
func (g *SequentialFlushIDs) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.clock.Next())
}

// Reset restarts numbering at 1.
func (g *SequentialFlushIDs) Reset() {
	g.clock.Reset()
}
