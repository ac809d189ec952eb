package hash

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hash returns the hash value of data.
func Hash(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// FastHash returns the xxhash of data. It is independent of Hash, so the
// two can be combined for double hashing.
func FastHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}
