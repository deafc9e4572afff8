package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/ledgersync/internal/ledger"
)

// marshalPostings converts postings to JSON TEXT for storage.
// HTML escaping is disabled so memos are stored as written.
func marshalPostings(postings []ledger.Posting) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(postings); err != nil {
		return "", fmt.Errorf("marshal postings: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// unmarshalPostings converts JSON TEXT from storage back to postings.
func unmarshalPostings(data string) ([]ledger.Posting, error) {
	var postings []ledger.Posting
	if err := json.Unmarshal([]byte(data), &postings); err != nil {
		return nil, fmt.Errorf("unmarshal postings: %w", err)
	}
	return postings, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
