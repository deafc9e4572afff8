package ledger

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Journal is a file of front-end transactions keyed by front-end id.
type Journal struct {
	Transactions []JournalEntry `yaml:"transactions"`
}

// JournalEntry is one front-end transaction in a journal.
type JournalEntry struct {
	ID    string `yaml:"id"`
	Lines []Line `yaml:"lines"`
}

// LoadJournal reads and parses a journal YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return ParseJournal(data)
}

// ParseJournal parses journal YAML and checks that ids are present and unique.
func ParseJournal(data []byte) (*Journal, error) {
	var j Journal
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&j); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}

	seen := make(map[string]bool, len(j.Transactions))
	for i, entry := range j.Transactions {
		if entry.ID == "" {
			return nil, fmt.Errorf("transactions[%d]: id is required", i)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("transactions[%d]: duplicate id %q", i, entry.ID)
		}
		seen[entry.ID] = true
	}

	return &j, nil
}

// Plain builds one Plain transaction per entry, keyed by id.
func (j *Journal) Plain() map[string]*Plain {
	out := make(map[string]*Plain, len(j.Transactions))
	for _, entry := range j.Transactions {
		out[entry.ID] = NewPlain(entry.Lines...)
	}
	return out
}
