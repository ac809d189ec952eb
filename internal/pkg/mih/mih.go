// Package mih implements a multi-index hashing pre-filter for Hamming-radius
// search over fixed-width fingerprints.
//
// A fingerprint is cut into Bands equal substrings. If two fingerprints are
// within distance T, at least one band pair is within floor(T/Bands). Looking
// up every value within that radius of each query band therefore returns a
// superset of the true neighbours.
package mih

import (
	"math/bits"

	"mediaguard/internal/pkg/hash"
)

// Bands is the number of substrings a fingerprint is split into.
const Bands = 4

// DefaultMaxBallSize caps the per-band enumeration before falling back to a
// full scan.
const DefaultMaxBallSize = 4096

// BandWidth returns the number of bits per band for w.
func BandWidth(w hash.Width) int {
	return int(w) / Bands
}

// Split returns the band values of fp, lowest bits first.
func Split(fp hash.Fingerprint) [Bands]uint16 {
	var out [Bands]uint16
	bw := BandWidth(fp.Width)
	mask := uint64(1)<<uint(bw) - 1
	for i := 0; i < Bands; i++ {
		out[i] = uint16((fp.Value >> uint(i*bw)) & mask)
	}
	return out
}

// Radius returns the per-band search radius for threshold t.
func Radius(t int) int {
	if t < 0 {
		return -1
	}
	return t / Bands
}

// BallSize returns the number of bw-bit values within r of a fixed value.
func BallSize(bw, r int) int {
	if r < 0 {
		return 0
	}
	if r >= bw {
		return 1 << uint(bw)
	}
	total, c := 0, 1
	for k := 0; k <= r; k++ {
		total += c
		c = c * (bw - k) / (k + 1)
	}
	return total
}

// Ball returns all bw-bit values within Hamming distance r of v, v first.
func Ball(v uint16, bw, r int) []uint16 {
	if r < 0 {
		return nil
	}
	if r > bw {
		r = bw
	}
	out := make([]uint16, 0, BallSize(bw, r))
	out = append(out, v)
	var rec func(cur uint16, start, left int)
	rec = func(cur uint16, start, left int) {
		if left == 0 {
			return
		}
		for b := start; b < bw; b++ {
			next := cur ^ (1 << uint(b))
			out = append(out, next)
			rec(next, b+1, left-1)
		}
	}
	rec(v, 0, r)
	return out
}

// Plan describes how to collect candidates for one query.
type Plan struct {
	// Full means the balls would be too large; scan everything instead.
	Full   bool
	Radius int
	Bands  [Bands][]uint16
}

// NewPlan builds the lookup plan for fp at threshold t.
func NewPlan(fp hash.Fingerprint, t, maxBallSize int) Plan {
	if maxBallSize <= 0 {
		maxBallSize = DefaultMaxBallSize
	}
	bw := BandWidth(fp.Width)
	r := Radius(t)
	p := Plan{Radius: r}
	if r < 0 {
		return p
	}
	if BallSize(bw, r) > maxBallSize {
		p.Full = true
		return p
	}
	for i, v := range Split(fp) {
		p.Bands[i] = Ball(v, bw, r)
	}
	return p
}

// Empty reports whether the plan can match nothing.
func (p Plan) Empty() bool {
	return !p.Full && p.Radius < 0
}

// Size returns the number of band values the plan probes.
func (p Plan) Size() int {
	n := 0
	for _, b := range p.Bands {
		n += len(b)
	}
	return n
}

func distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
