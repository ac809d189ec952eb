package video

import (
	"context"
	"fmt"
	"image"
	"time"
)

// SamplePoints are the relative positions of the fingerprint frames.
var SamplePoints = [5]float64{0.1, 0.3, 0.5, 0.7, 0.9}

// endMargin keeps seeks off the very last timestamp, where decoders
// commonly return nothing.
const endMargin = 0.1

// SamplePositions returns the fingerprint timestamps for a video of the
// given duration. Positions are clamped into [0, duration-endMargin].
func SamplePositions(duration float64) ([5]float64, error) {
	var out [5]float64
	if duration < 0 {
		return out, fmt.Errorf("%w: negative duration %f", ErrStream, duration)
	}
	last := duration - endMargin
	if last < 0 {
		last = 0
	}
	for i, p := range SamplePoints {
		ts := duration * p
		if ts > last {
			ts = last
		}
		if ts < 0 {
			ts = 0
		}
		out[i] = ts
	}
	return out, nil
}

// Source is a seekable, probe-able video.
type Source interface {
	Duration(ctx context.Context) (float64, error)
	FrameAt(ctx context.Context, ts float64) (Frame, error)
	Dense(ctx context.Context, interval time.Duration) (*Stream, error)
}

// Sampler produces the positional and dense frame sequences of a Source.
type Sampler struct {
	src      Source
	interval time.Duration
}

// DefaultInterval is the dense sampling period.
const DefaultInterval = 3 * time.Second

// NewSampler creates a new Sampler.
func NewSampler(src Source, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{src: src, interval: interval}
}

// Positions probes the duration and fixes the five fingerprint timestamps.
func (s *Sampler) Positions(ctx context.Context) ([5]float64, error) {
	d, err := s.src.Duration(ctx)
	if err != nil {
		return [5]float64{}, err
	}
	return SamplePositions(d)
}

// Sample decodes the frames at the five fixed positions in order.
func (s *Sampler) Sample(ctx context.Context) ([5]image.Image, [5]float64, error) {
	positions, err := s.Positions(ctx)
	if err != nil {
		return [5]image.Image{}, positions, err
	}
	imgs, err := s.FramesAt(ctx, positions)
	return imgs, positions, err
}

// FramesAt decodes the frames at previously fixed positions.
func (s *Sampler) FramesAt(ctx context.Context, positions [5]float64) ([5]image.Image, error) {
	var imgs [5]image.Image
	for i, ts := range positions {
		f, err := s.src.FrameAt(ctx, ts)
		if err != nil {
			return imgs, err
		}
		f.Index = i
		img, err := f.Decode()
		if err != nil {
			return imgs, err
		}
		imgs[i] = img
	}
	return imgs, nil
}

// Dense starts the fixed-interval sequence used for classification.
func (s *Sampler) Dense(ctx context.Context) (*Stream, error) {
	return s.src.Dense(ctx, s.interval)
}

// Interval returns the dense sampling period.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}
