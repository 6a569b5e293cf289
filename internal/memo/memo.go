// Package memo implements the memoization layer of the build engine:
// per-rule records of non-file parameters and content hashes, persisted
// next to each rule's primary output.
package memo

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Entry kinds. Param entries are serialized at rule-definition time,
// content entries are hashes of value-tracked inputs taken at
// comparison/persist time.
const (
	KindParam   = "param"
	KindContent = "content"
)

// maxRawValue is the longest serialized value stored verbatim.
// Longer values are replaced by a digest so record files stay small.
const maxRawValue = 1024

// Entry is a single memoized fact about a rule invocation.
type Entry struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Record is the ordered list of entries for one rule. Order is part of
// the identity: the same entries in a different order do not match.
type Record struct {
	Entries []Entry
}

// Param builds a param entry from a canonically encoded value,
// digesting it when it exceeds maxRawValue.
func Param(key, encoded string) Entry {
	if len(encoded) > maxRawValue {
		sum := sha3.Sum256([]byte(encoded))
		encoded = "sha3:" + hex.EncodeToString(sum[:])
	}
	return Entry{Key: key, Kind: KindParam, Value: encoded}
}

// Content builds a content entry from a file hash.
func Content(key, hash string) Entry {
	return Entry{Key: key, Kind: KindContent, Value: hash}
}

// Compare reports how current relates to stored. It returns "" when the
// records match element-wise, otherwise the kind of the first differing
// entry. A length mismatch is a mismatch at the first unpaired position,
// never an error.
func Compare(current, stored Record) string {
	n := len(current.Entries)
	if len(stored.Entries) < n {
		n = len(stored.Entries)
	}
	for i := 0; i < n; i++ {
		if current.Entries[i] != stored.Entries[i] {
			return current.Entries[i].Kind
		}
	}
	if len(current.Entries) != len(stored.Entries) {
		if len(current.Entries) > n {
			return current.Entries[n].Kind
		}
		return stored.Entries[n].Kind
	}
	return ""
}
