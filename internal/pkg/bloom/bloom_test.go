package bloom

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// fakeCache evaluates the filter's scripts in memory.
type fakeCache struct {
	mu      sync.Mutex
	bits    map[string]map[int]bool
	strings map[string]string
	failSet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{bits: map[string]map[int]bool{}, strings: map[string]string{}}
}

func (c *fakeCache) SetString(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = value
	return nil
}

func (c *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, s := c.strings[key]
	_, b := c.bits[key]
	return s || b, nil
}

func (c *fakeCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.strings[k]; ok {
			delete(c.strings, k)
			n++
		}
		if _, ok := c.bits[k]; ok {
			delete(c.bits, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) ScriptRun(_ context.Context, script *goredis.Script, keys []string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offsets := make([]int, 0, len(args))
	for _, a := range args {
		n, _ := strconv.Atoi(a.(string))
		offsets = append(offsets, n)
	}
	switch script.Hash() {
	case setScript.Hash():
		if c.failSet {
			return nil, errors.New("connection refused")
		}
		if c.bits[keys[0]] == nil {
			c.bits[keys[0]] = map[int]bool{}
		}
		for _, o := range offsets {
			c.bits[keys[0]][o] = true
		}
		return nil, goredis.Nil
	case getScript.Hash():
		for _, o := range offsets {
			if !c.bits[keys[0]][o] {
				return nil, goredis.Nil
			}
		}
		return int64(1), nil
	case getManyScript.Hash():
		_, hasBits := c.bits[keys[0]]
		_, hasReady := c.strings[keys[1]]
		if !hasBits || !hasReady {
			return int64(-1), nil
		}
		k := offsets[0]
		rest := offsets[1:]
		out := make([]any, 0, len(rest)/k)
		for i := 0; i < len(rest); i += k {
			hit := int64(1)
			for _, o := range rest[i : i+k] {
				if !c.bits[keys[0]][o] {
					hit = 0
					break
				}
			}
			out = append(out, hit)
		}
		return out, nil
	}
	return nil, errors.New("unknown script")
}

func TestFilter_AddExists(t *testing.T) {
	f := NewBloomFilter(newFakeCache(), "test:bloom", 1<<16, 4)

	if err := f.Add([]byte("image:0:1:42")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	ok, err := f.Exists([]byte("image:0:1:42"))
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("expected added member to exist")
	}
	ok, _ = f.Exists([]byte("image:0:1:43"))
	if ok {
		t.Error("expected absent member to be reported absent")
	}
}

func TestFilter_ExistsManyRequiresReady(t *testing.T) {
	ctx := context.Background()
	f := NewBloomFilter(newFakeCache(), "test:bloom", 1<<16, 4)

	if err := f.AddMany(ctx, [][]byte{[]byte("a"), []byte("b")}); err != nil {
		t.Fatalf("AddMany failed: %v", err)
	}
	if _, err := f.ExistsMany(ctx, [][]byte{[]byte("a")}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before MarkReady, got %v", err)
	}

	if err := f.MarkReady(ctx); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	got, err := f.ExistsMany(ctx, [][]byte{[]byte("a"), []byte("zzz"), []byte("b")})
	if err != nil {
		t.Fatalf("ExistsMany failed: %v", err)
	}
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFilter_FailedAddInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	f := NewBloomFilter(cache, "test:bloom", 1<<16, 4)
	_ = f.Add([]byte("a"))
	_ = f.MarkReady(ctx)

	cache.failSet = true
	if err := f.Add([]byte("b")); err == nil {
		t.Fatal("expected Add to fail")
	}
	if ready, _ := f.Ready(ctx); ready {
		t.Error("filter should not be ready after a failed add")
	}
	if _, err := f.ExistsMany(ctx, [][]byte{[]byte("a")}); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestFilter_TooLargeOffset(t *testing.T) {
	bs := newRedisBitSet(newFakeCache(), "k", 8)
	if _, err := bs.buildOffsetArgs([]uint{8}); !errors.Is(err, ErrTooLargeOffset) {
		t.Errorf("expected ErrTooLargeOffset, got %v", err)
	}
}
