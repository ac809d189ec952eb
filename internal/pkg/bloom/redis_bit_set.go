package bloom

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"mediaguard/internal/pkg/redis"
)

// redisBitSet is a bit set implementation using Redis as the backend.
type redisBitSet struct {
	store    redis.Cache
	key      string
	readyKey string
	bits     uint
}

// newRedisBitSet creates a new redisBitSet instance.
func newRedisBitSet(store redis.Cache, key string, bits uint) *redisBitSet {
	return &redisBitSet{
		store:    store,
		key:      key,
		readyKey: key + ":ready",
		bits:     bits,
	}
}

// buildOffsetArgs builds the arguments for the Lua scripts from the given offsets.
func (r *redisBitSet) buildOffsetArgs(offsets []uint) ([]any, error) {
	args := make([]any, 0, len(offsets))

	for _, offset := range offsets {
		if offset >= r.bits {
			return nil, ErrTooLargeOffset
		}
		args = append(args, strconv.FormatUint(uint64(offset), 10))
	}
	return args, nil
}

// check checks if all bits at the given offsets are set.
func (r *redisBitSet) check(ctx context.Context, offsets []uint) (bool, error) {
	args, err := r.buildOffsetArgs(offsets)
	if err != nil {
		return false, err
	}
	resp, err := r.store.ScriptRun(ctx, getScript, []string{r.key}, args...)
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	exists, ok := resp.(int64)
	if !ok {
		return false, nil
	}
	return exists == 1, nil
}

// checkMany checks len(offsets)/k items, k offsets each.
func (r *redisBitSet) checkMany(ctx context.Context, k uint, offsets []uint) ([]bool, error) {
	args, err := r.buildOffsetArgs(offsets)
	if err != nil {
		return nil, err
	}
	args = append([]any{strconv.FormatUint(uint64(k), 10)}, args...)
	resp, err := r.store.ScriptRun(ctx, getManyScript, []string{r.key, r.readyKey}, args...)
	if err != nil {
		return nil, err
	}

	switch v := resp.(type) {
	case int64:
		// -1: bitset or marker missing
		return nil, ErrNotReady
	case []any:
		want := len(offsets) / int(k)
		if len(v) != want {
			return nil, fmt.Errorf("bloom: got %d results for %d items", len(v), want)
		}
		out := make([]bool, len(v))
		for i, x := range v {
			n, _ := x.(int64)
			out[i] = n == 1
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bloom: unexpected reply %T", resp)
	}
}

// set sets the bits at the given offsets.
func (r *redisBitSet) set(ctx context.Context, offsets []uint) error {
	args, err := r.buildOffsetArgs(offsets)
	if err != nil {
		return err
	}
	_, err = r.store.ScriptRun(ctx, setScript, []string{r.key}, args...)
	if errors.Is(err, redis.Nil) {
		return nil
	}

	return err
}

func (r *redisBitSet) ready(ctx context.Context) (bool, error) {
	return r.store.Exists(ctx, r.readyKey)
}

func (r *redisBitSet) markReady(ctx context.Context) error {
	return r.store.SetString(ctx, r.readyKey, "1", 0)
}

// invalidate drops the ready marker, leaving the bits in place.
func (r *redisBitSet) invalidate(ctx context.Context) error {
	_, err := r.store.Del(ctx, r.readyKey)
	return err
}
