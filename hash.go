package nrbf

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// idHasher hashes object ids under a secret per-instance seed. Ids come
// straight from the stream, so an identity or multiplicative hash would let
// the sender choose every bucket.
type idHasher struct {
	seed [8]byte
}

// newIDHasher draws a fresh seed from crypto/rand.
func newIDHasher() idHasher {
	var h idHasher
	if _, err := rand.Read(h.seed[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("nrbf: cannot seed id hasher: " + err.Error())
	}
	return h
}

// hash returns xxhash64(seed || id).
func (h idHasher) hash(id ObjectID) uint64 {
	var buf [12]byte
	copy(buf[:8], h.seed[:])
	binary.LittleEndian.PutUint32(buf[8:], uint32(id))
	return xxhash.Sum64(buf[:])
}
