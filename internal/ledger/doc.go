// Package ledger defines the front-end side of reconciliation: postings and the
// transactions that produce them.
//
// A Transaction is the authoritative domain object. The reconciliation engine
// never inspects it beyond asking for its postings through Collect, which
// validates every line and turns a malformed producer into a
// NotRepresentableError instead of a crash.
//
// # Amounts
//
// Amounts are fixed-point decimals (github.com/shopspring/decimal). Plain is the
// plain accounting object used by the CLI journal and the scenario harness: its
// lines carry amounts and dates as text, and a line that does not parse makes the
// whole transaction not representable.
//
// # Digest
//
// Digest computes a content address for a posting list from canonical JSON
// (sorted keys, NFC-normalised strings, decimals in shortest form). Backends use
// it to decide whether what they hold still matches what was written.
package ledger
