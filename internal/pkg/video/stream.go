package video

import (
	"context"
	"sync"
)

// Stream is a lazy, finite, single-pass sequence of frames. Closing it stops
// the producer; frames not yet read are dropped.
type Stream struct {
	frames <-chan Frame
	cancel context.CancelFunc

	mu       sync.Mutex
	err      error
	produced int
	done     chan struct{}
	once     sync.Once
}

// Producer writes frames with emit until the source is exhausted. emit
// reports false once the consumer has gone away.
type Producer func(ctx context.Context, emit func(Frame) bool) error

// NewStream starts produce in its own goroutine. Errors after at least one
// frame truncate the sequence; an error before any frame is kept for Err.
func NewStream(ctx context.Context, produce Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Frame)
	s := &Stream{frames: ch, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer close(ch)
		idx := 0
		err := produce(ctx, func(f Frame) bool {
			f.Index = idx
			select {
			case ch <- f:
				idx++
				s.mu.Lock()
				s.produced = idx
				s.mu.Unlock()
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && idx == 0 && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

// FromFrames returns a stream over a fixed slice.
func FromFrames(ctx context.Context, frames []Frame) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit func(Frame) bool) error {
		for _, f := range frames {
			if !emit(f) {
				return ctx.Err()
			}
		}
		return nil
	})
}

// Frames returns the receive channel. It is closed when the sequence ends.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// Next blocks for the next frame. ok is false at the end of the sequence.
func (s *Stream) Next(ctx context.Context) (Frame, bool) {
	select {
	case f, ok := <-s.frames:
		return f, ok
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Err returns the failure that prevented any frame from being produced. It is
// only meaningful once the frame channel is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Produced returns how many frames have been handed to the consumer.
func (s *Stream) Produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.produced
}

// Close stops the producer and waits for it to exit.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
