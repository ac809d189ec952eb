package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"
)

func jpegBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func TestSamplePositions(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		want     [5]float64
	}{
		{"ten seconds", 10, [5]float64{1, 3, 5, 7, 9}},
		{"short clip clamps to end margin", 0.5, [5]float64{0.05, 0.15, 0.25, 0.35, 0.4}},
		{"zero duration", 0, [5]float64{0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SamplePositions(tt.duration)
			if err != nil {
				t.Fatalf("SamplePositions failed: %v", err)
			}
			for i := range got {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("position %d = %f; want %f", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := SamplePositions(-1); !errors.Is(err, ErrStream) {
		t.Errorf("expected ErrStream for negative duration, got %v", err)
	}
}

type fakeSource struct {
	duration float64
	probeErr error
	frame    []byte
	seeks    []float64
}

func (s *fakeSource) Duration(context.Context) (float64, error) {
	return s.duration, s.probeErr
}

func (s *fakeSource) FrameAt(_ context.Context, ts float64) (Frame, error) {
	s.seeks = append(s.seeks, ts)
	return Frame{Timestamp: ts, JPEG: s.frame}, nil
}

func (s *fakeSource) Dense(ctx context.Context, interval time.Duration) (*Stream, error) {
	return FromFrames(ctx, []Frame{{Timestamp: 0, JPEG: s.frame}}), nil
}

func TestSampler_Sample(t *testing.T) {
	src := &fakeSource{duration: 20, frame: jpegBytes(t, color.White)}
	s := NewSampler(src, 0)

	imgs, positions, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	want := [5]float64{2, 6, 10, 14, 18}
	for i := range want {
		if diff := positions[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("position %d = %f; want %f", i, positions[i], want[i])
		}
	}
	for i, img := range imgs {
		if img == nil {
			t.Errorf("frame %d not decoded", i)
		}
	}
	if len(src.seeks) != 5 {
		t.Errorf("seeks = %d; want 5", len(src.seeks))
	}
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval = %v; want %v", s.Interval(), DefaultInterval)
	}
}

func TestSampler_ProbeFailure(t *testing.T) {
	src := &fakeSource{probeErr: ErrStream}
	if _, _, err := NewSampler(src, time.Second).Sample(context.Background()); !errors.Is(err, ErrStream) {
		t.Errorf("expected ErrStream, got %v", err)
	}
	if len(src.seeks) != 0 {
		t.Error("no frame should be decoded when probing fails")
	}
}

func TestSampler_CorruptFrame(t *testing.T) {
	src := &fakeSource{duration: 5, frame: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}}
	if _, _, err := NewSampler(src, time.Second).Sample(context.Background()); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestStream_Truncates(t *testing.T) {
	ctx := context.Background()
	s := NewStream(ctx, func(ctx context.Context, emit func(Frame) bool) error {
		emit(Frame{Timestamp: 0})
		emit(Frame{Timestamp: 3})
		return ErrStream
	})
	defer s.Close()

	var got []Frame
	for f := range s.Frames() {
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames; want 2", len(got))
	}
	if got[1].Index != 1 {
		t.Errorf("second frame index = %d; want 1", got[1].Index)
	}
	if s.Err() != nil {
		t.Errorf("partial decode should truncate, got %v", s.Err())
	}
}

func TestStream_FailsBeforeFirstFrame(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit func(Frame) bool) error {
		return ErrStream
	})
	defer s.Close()

	if _, ok := s.Next(context.Background()); ok {
		t.Fatal("expected empty stream")
	}
	if !errors.Is(s.Err(), ErrStream) {
		t.Errorf("expected ErrStream, got %v", s.Err())
	}
}

func TestStream_CloseStopsProducer(t *testing.T) {
	produced := make(chan int, 1)
	s := NewStream(context.Background(), func(ctx context.Context, emit func(Frame) bool) error {
		n := 0
		for emit(Frame{Timestamp: float64(n)}) {
			n++
		}
		produced <- n
		return nil
	})

	if _, ok := s.Next(context.Background()); !ok {
		t.Fatal("expected a frame")
	}
	s.Close()

	select {
	case n := <-produced:
		if n < 1 {
			t.Errorf("producer emitted %d frames", n)
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not stop after Close")
	}
	if s.Produced() < 1 {
		t.Errorf("Produced = %d; want >= 1", s.Produced())
	}
}

func TestReadJPEGFrames(t *testing.T) {
	a := jpegBytes(t, color.White)
	b := jpegBytes(t, color.Black)
	stream := append(append(append([]byte{}, a...), b...), 0xFF, 0xD8, 0x01)

	var frames [][]byte
	err := readJPEGFrames(context.Background(), bytes.NewReader(stream), func(data []byte) bool {
		frames = append(frames, data)
		return true
	})
	if err != nil {
		t.Fatalf("readJPEGFrames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames; want 2", len(frames))
	}
	for i, f := range frames {
		if _, err := (Frame{JPEG: f}).Decode(); err != nil {
			t.Errorf("frame %d does not decode: %v", i, err)
		}
	}
}
