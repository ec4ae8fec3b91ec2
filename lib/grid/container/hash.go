package container

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// newSeed creates a random seed for the key partitioner.
func newSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// the crypto source failed, fall back to the clock
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// hashKey is a seeded FNV-1a hash over the key bytes.
func hashKey(key string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	h := uint64(offset64) ^ seed
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return h
}

// segmentOf maps a hash to one of n segments.
// The low bits are skipped because they carry the least entropy for short keys.
func segmentOf(h uint64, n int) int {
	return int((h >> 7) % uint64(n))
}

// HashString is the unseeded key hash. Unlike the segment of a key it is
// stable across processes.
func HashString(s string) uint64 {
	return hashKey(s, 0)
}
