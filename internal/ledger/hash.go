package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/cockroachdb/apd/v3"
)

// Domain prefix for the state content hash. The version suffix leaves room
// for future canonicalization changes without ambiguity.
const domainState = "diotec360/state/v1"

// StateHash computes the content hash of a set of account balances.
//
// The encoding is canonical: keys sorted, balances rendered reduced and in
// plain notation, fields separated by null bytes. Two nodes holding
// numerically identical state always produce the same hash, which is what
// the replication layer compares.
func StateHash(balances map[string]*apd.Decimal) string {
	keys := make([]string, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(domainState))
	h.Write([]byte{0x00})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0x00})
		h.Write([]byte(CanonicalString(balances[k])))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}
