package hash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode indicates the input could not be decoded into an image.
	ErrDecode = errors.New("hash: cannot decode image")
	// ErrWidthMismatch indicates two fingerprints of different widths were compared.
	ErrWidthMismatch = errors.New("hash: fingerprint width mismatch")
	// ErrUnsupportedWidth indicates a width the extractor cannot produce.
	ErrUnsupportedWidth = errors.New("hash: unsupported fingerprint width")
)

// Width is the number of bits in a fingerprint.
type Width int

const (
	// Width16 is a 4x4 DCT hash. Cheap to store, more false positives.
	Width16 Width = 16
	// Width64 is the standard 8x8 pHash.
	Width64 Width = 64
)

// Valid reports whether w is a supported width.
func (w Width) Valid() bool {
	return w == Width16 || w == Width64
}

// Mask returns a mask with the low w bits set.
func (w Width) Mask() uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(w)) - 1
}

// Fingerprint is a fixed-width perceptual hash.
type Fingerprint struct {
	Value uint64
	Width Width
}

// Distance returns the Hamming distance between f and o.
func (f Fingerprint) Distance(o Fingerprint) (int, error) {
	if f.Width != o.Width {
		return 0, fmt.Errorf("%w: %d vs %d", ErrWidthMismatch, f.Width, o.Width)
	}
	return HammingDistance(f.Value, o.Value), nil
}

// Similarity returns a similarity percentage (0-100) between f and o.
func (f Fingerprint) Similarity(o Fingerprint) (float64, error) {
	d, err := f.Distance(o)
	if err != nil {
		return 0, err
	}
	return (1 - float64(d)/float64(f.Width)) * 100, nil
}

// String returns a zero-padded hex representation of the fingerprint.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%0*x", int(f.Width)/4, f.Value)
}

// ParseFingerprint parses a hex fingerprint of the given width.
func ParseFingerprint(s string, w Width) (Fingerprint, error) {
	if !w.Valid() {
		return Fingerprint{}, ErrUnsupportedWidth
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parse fingerprint %q: %w", s, err)
	}
	if v&^w.Mask() != 0 {
		return Fingerprint{}, fmt.Errorf("parse fingerprint %q: %w", s, ErrWidthMismatch)
	}
	return Fingerprint{Value: v, Width: w}, nil
}

// Extractor computes perceptual fingerprints of a configured width.
type Extractor struct {
	width Width
}

// NewExtractor creates a new Extractor.
func NewExtractor(w Width) (*Extractor, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWidth, w)
	}
	return &Extractor{width: w}, nil
}

// Width returns the width of fingerprints produced by e.
func (e *Extractor) Width() Width {
	return e.width
}

// Extract computes the fingerprint of a decoded image.
func (e *Extractor) Extract(img image.Image) (Fingerprint, error) {
	if img == nil {
		return Fingerprint{}, ErrDecode
	}
	switch e.width {
	case Width64:
		h, err := goimagehash.PerceptionHash(img)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("compute pHash: %w", err)
		}
		return Fingerprint{Value: h.GetHash(), Width: Width64}, nil
	case Width16:
		h, err := goimagehash.ExtPerceptionHash(img, 4, 4)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("compute pHash 4x4: %w", err)
		}
		words := h.GetHash()
		if len(words) == 0 {
			return Fingerprint{}, fmt.Errorf("compute pHash 4x4: empty hash")
		}
		// goimagehash packs extended hash bits MSB-first into each word.
		return Fingerprint{Value: words[0] >> (64 - uint(Width16)), Width: Width16}, nil
	default:
		return Fingerprint{}, ErrUnsupportedWidth
	}
}

// ExtractBytes decodes data and computes its fingerprint. The decoded image is
// returned so callers can reuse it.
func (e *Extractor) ExtractBytes(data []byte) (Fingerprint, image.Image, error) {
	return e.ExtractReader(bytes.NewReader(data))
}

// ExtractReader decodes an image from r and computes its fingerprint.
func (e *Extractor) ExtractReader(r io.Reader) (Fingerprint, image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Fingerprint{}, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	fp, err := e.Extract(img)
	if err != nil {
		return Fingerprint{}, nil, err
	}
	return fp, img, nil
}

// HammingDistance calculates the Hamming distance between two hashes.
// Returns the number of different bits (0 = identical images).
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// IsSimilar checks if two fingerprints are within threshold of each other.
// Typical thresholds for 64-bit fingerprints:
//   - 0: Identical
//   - 1-5: Very similar (likely same image with minor edits)
//   - 6-10: Somewhat similar
//   - 11+: Different images
func IsSimilar(f1, f2 Fingerprint, threshold int) bool {
	d, err := f1.Distance(f2)
	return err == nil && d <= threshold
}
