package bloom

import (
	"context"
	_ "embed"
	"errors"
	"sync/atomic"

	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/redis"
)

var (
	// ErrTooLargeOffset indicates the offset is too large in bitset.
	ErrTooLargeOffset = errors.New("too large offset")
	// ErrNotReady indicates the filter has not been fully populated and
	// cannot be used to exclude anything.
	ErrNotReady = errors.New("bloom filter not ready")

	//go:embed set_script.lua
	setLuaScript string
	setScript    = redis.NewScript(setLuaScript)

	//go:embed get_script.lua
	getLuaScript string
	getScript    = redis.NewScript(getLuaScript)

	//go:embed get_many_script.lua
	getManyLuaScript string
	getManyScript    = redis.NewScript(getManyLuaScript)
)

// Filter represents a Bloom filter data structure.
//
// A filter only answers "definitely absent" once MarkReady has been called
// after a full population pass. Until then, or after a failed Add, lookups
// return ErrNotReady so callers never drop a member.
type Filter struct {
	bitSet         bitSetProvider
	bits           uint
	kHashFunctions uint
	degraded       atomic.Bool
}

// NewBloomFilter creates a new Bloom filter with the given parameters.
func NewBloomFilter(store redis.Cache, key string, bits uint, kHashFunctions uint) *Filter {
	return &Filter{
		bits:           bits,
		bitSet:         newRedisBitSet(store, key, bits),
		kHashFunctions: kHashFunctions,
	}
}

// getLocations computes the bit locations for the given data as
// h1 + i*h2 over two independent hashes.
func (f *Filter) getLocations(data []byte) []uint {
	locations := make([]uint, f.kHashFunctions)
	h1 := hash.Hash(data)
	h2 := hash.FastHash(data) | 1
	for i := uint(0); i < f.kHashFunctions; i++ {
		locations[i] = uint((h1 + uint64(i)*h2) % uint64(f.bits))
	}
	return locations
}

// AddWithCtx adds the given data to the Bloom filter with context.
func (f *Filter) AddWithCtx(ctx context.Context, data []byte) error {
	return f.AddMany(ctx, [][]byte{data})
}

// Add adds the given data to the Bloom filter.
func (f *Filter) Add(data []byte) error {
	return f.AddWithCtx(context.Background(), data)
}

// AddMany adds every item in one round trip. A failure invalidates the
// filter since some members may now be missing.
func (f *Filter) AddMany(ctx context.Context, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}
	locations := make([]uint, 0, len(items)*int(f.kHashFunctions))
	for _, item := range items {
		locations = append(locations, f.getLocations(item)...)
	}
	if err := f.bitSet.set(ctx, locations); err != nil {
		f.degraded.Store(true)
		_ = f.bitSet.invalidate(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// ExistsWithCtx checks if the given data may exist in the Bloom filter with context.
func (f *Filter) ExistsWithCtx(ctx context.Context, data []byte) (bool, error) {
	locations := f.getLocations(data)
	isSet, err := f.bitSet.check(ctx, locations)
	if err != nil {
		return false, err
	}
	return isSet, nil
}

// Exists checks if the given data may exist in the Bloom filter.
func (f *Filter) Exists(data []byte) (bool, error) {
	return f.ExistsWithCtx(context.Background(), data)
}

// ExistsMany reports, per item, whether it may be a member. It returns
// ErrNotReady when the filter cannot be trusted for exclusion.
func (f *Filter) ExistsMany(ctx context.Context, items [][]byte) ([]bool, error) {
	if f.degraded.Load() {
		return nil, ErrNotReady
	}
	if len(items) == 0 {
		return nil, nil
	}
	locations := make([]uint, 0, len(items)*int(f.kHashFunctions))
	for _, item := range items {
		locations = append(locations, f.getLocations(item)...)
	}
	return f.bitSet.checkMany(ctx, f.kHashFunctions, locations)
}

// Ready reports whether the filter has been populated and not invalidated.
func (f *Filter) Ready(ctx context.Context) (bool, error) {
	if f.degraded.Load() {
		return false, nil
	}
	return f.bitSet.ready(ctx)
}

// MarkReady records that a full population pass has completed.
func (f *Filter) MarkReady(ctx context.Context) error {
	if err := f.bitSet.markReady(ctx); err != nil {
		return err
	}
	f.degraded.Store(false)
	return nil
}
