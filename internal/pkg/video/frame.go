package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

var (
	// ErrStream indicates the source could not be opened, probed or read.
	ErrStream = errors.New("video: stream error")
	// ErrDecode indicates a frame could not be decoded.
	ErrDecode = errors.New("video: frame decode error")
)

// Frame is one sampled video frame.
type Frame struct {
	// Index is the position of the frame in its sequence.
	Index int
	// Timestamp is the offset from the start of the video in seconds.
	Timestamp float64
	// JPEG holds the encoded frame as produced by the decoder.
	JPEG []byte
}

// Decode decodes the frame image.
func (f Frame) Decode() (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d at %.2fs: %v", ErrDecode, f.Index, f.Timestamp, err)
	}
	return img, nil
}
