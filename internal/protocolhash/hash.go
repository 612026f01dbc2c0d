// Package protocolhash computes the Blake2b-256 digests used throughout
// the core as opaque point and transaction identifiers. It is the
// Cardano-correct replacement for the teacher's double-SHA256 helper:
// the core never interprets ledger content, it only hashes whatever
// bytes a caller hands it.
package protocolhash

import (
	"golang.org/x/crypto/blake2b"
)

// Sum256 returns the Blake2b-256 digest of data.
func Sum256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Sum256Slice is a convenience wrapper returning the digest as a slice,
// for call sites that build up variable-length identifier lists.
func Sum256Slice(data []byte) []byte {
	h := Sum256(data)
	return h[:]
}
