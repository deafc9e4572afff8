package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer(t *testing.T) {
	q := NewQuotaEnforcer(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("inv-1"), "step %d should be allowed", i+1)
	}

	err := q.Check("inv-1")
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))
	assert.Equal(t, "drive of inv-1 exceeded max steps quota: 4 steps > 3 limit", err.Error())
	assert.Equal(t, 4, q.Current())
	assert.Equal(t, 3, q.MaxSteps())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	resumed := NewClockAt(41)
	assert.Equal(t, int64(42), resumed.Next())
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), c.Current())
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("f1", "f2")
	assert.Equal(t, "f1", gen.Generate())
	assert.Equal(t, "f2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestErrorHelpers(t *testing.T) {
	err := errUnknownID("inv-9")
	assert.Equal(t, "UNKNOWN_ID: unknown id (id=inv-9)", err.Error())
	assert.True(t, IsUnknownID(err))
	assert.False(t, IsInvalidState(err))

	assert.True(t, IsClosed(errClosed()))
	assert.Equal(t, "CLOSED: engine is closed", errClosed().Error())
	assert.True(t, IsPendingCommand(newError(ErrCodePendingCommand, "x", "%s is pending", Recreate)))
	assert.False(t, IsReadOnly(nil))
}

func TestEnums_RoundTrip(t *testing.T) {
	for s := NoBackendExists; s < numStates; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	for in := LastActNone; in < numInputs; in++ {
		text, err := in.MarshalText()
		require.NoError(t, err)
		var back Input
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, in, back)
	}
	for c := CodeNone; c < numCodes; c++ {
		text, err := c.MarshalText()
		require.NoError(t, err)
		var back ErrorCode
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
		assert.NotEmpty(t, c.Description())
	}

	_, err := ParseState("Floating")
	assert.Error(t, err)
	assert.Equal(t, "State(42)", State(42).String())
	_, err = State(-1).MarshalText()
	assert.Error(t, err)
}

func TestInput_IsCommand(t *testing.T) {
	assert.False(t, LastActNone.IsCommand())
	assert.False(t, LastActSave.IsCommand())
	for _, in := range []Input{Recreate, VerificationRequested, LeaveAloneRequested, BlowoutRequested, SafeRemoveRequested} {
		assert.True(t, in.IsCommand(), in.String())
	}
	assert.False(t, numInputs.IsCommand())
}
