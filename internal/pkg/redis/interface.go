package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by scripts and commands that reply with a null value.
const Nil = redis.Nil

// NewScript wraps a Lua script for EVALSHA execution.
func NewScript(script string) *redis.Script {
	return redis.NewScript(script)
}

// Cache is the subset of Redis commands used by the band pre-filter.
type Cache interface {
	SetString(ctx context.Context, key, value string, exp time.Duration) error

	Exists(ctx context.Context, key string) (bool, error)

	ScriptRun(ctx context.Context, script *redis.Script, keys []string,
		args ...any) (any, error)

	Del(ctx context.Context, keys ...string) (int64, error)
}
