package bloom

import "context"

type bitSetProvider interface {
	check(ctx context.Context, offsets []uint) (bool, error)
	checkMany(ctx context.Context, k uint, offsets []uint) ([]bool, error)
	set(ctx context.Context, offsets []uint) error
	ready(ctx context.Context) (bool, error)
	markReady(ctx context.Context) error
	invalidate(ctx context.Context) error
}
