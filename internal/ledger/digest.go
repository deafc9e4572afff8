package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// DomainPostings separates posting digests from any other hash in the system.
// The version suffix allows a later change of the canonical form.
const DomainPostings = "ledgersync/postings/v1"

// Digest computes a content address for a posting list.
//
// Format: hex(SHA256(DomainPostings + 0x00 + canonical JSON)). Posting order is
// significant; account segments, memo, currency and cheque number are NFC
// normalised; amounts use their shortest decimal form so "10.00" and "10"
// digest the same.
func Digest(postings []Posting) (string, error) {
	canonical, err := MarshalCanonical(postings)
	if err != nil {
		return "", fmt.Errorf("digest postings: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainPostings))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(postings []Posting) string {
	d, err := Digest(postings)
	if err != nil {
		panic(err)
	}
	return d
}

// MarshalCanonical produces the canonical JSON form of a posting list.
func MarshalCanonical(postings []Posting) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range postings {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalObject(&buf, postingFields(p)); err != nil {
			return nil, fmt.Errorf("posting[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func postingFields(p Posting) map[string]any {
	path := make([]any, len(p.AccountPath))
	for i, seg := range p.AccountPath {
		path[i] = seg
	}

	date := ""
	if !p.Date.IsZero() {
		date = p.Date.Format(DateLayout)
	}

	return map[string]any{
		"account":  path,
		"amount":   p.Amount.String(),
		"cheque":   p.ChequeNumber,
		"currency": p.Currency,
		"date":     date,
		"memo":     p.Memo,
	}
}

// writeCanonicalObject writes keys in sorted order. All keys used here are
// ASCII, where byte order equals UTF-16 code unit order.
func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonicalValue(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeCanonicalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case string:
		return writeCanonicalString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// writeCanonicalString writes an NFC-normalised JSON string without HTML
// escaping.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
