package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// maxFrameBytes bounds a single JPEG read from the decoder pipe.
const maxFrameBytes = 10 << 20

// FFmpegConfig holds configuration for FFmpeg.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	// ScaleWidth resizes frames before JPEG encoding; 0 keeps the source size.
	ScaleWidth int
	Quality    int
}

// DefaultFFmpegConfig returns default configuration.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		ScaleWidth:  0,
		Quality:     3,
	}
}

// FFmpeg opens video files as frame sources using the ffmpeg binaries.
type FFmpeg struct {
	config FFmpegConfig
	log    *log.Helper
}

// NewFFmpeg creates a new FFmpeg.
func NewFFmpeg(config FFmpegConfig, logger log.Logger) *FFmpeg {
	def := DefaultFFmpegConfig()
	if config.FFmpegPath == "" {
		config.FFmpegPath = def.FFmpegPath
	}
	if config.FFprobePath == "" {
		config.FFprobePath = def.FFprobePath
	}
	if config.Quality == 0 {
		config.Quality = def.Quality
	}
	return &FFmpeg{config: config, log: log.NewHelper(log.With(logger, "module", "video/ffmpeg"))}
}

// Open returns a Source reading from path, which may be a local file or URL.
func (f *FFmpeg) Open(path string) Source {
	return &ffmpegSource{f: f, path: path}
}

type ffmpegSource struct {
	f    *FFmpeg
	path string
}

func (s *ffmpegSource) Duration(ctx context.Context) (float64, error) {
	cmd := exec.CommandContext(ctx, s.f.config.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		s.path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v: %s", ErrStream, err, strings.TrimSpace(stderr.String()))
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe duration %q: %v", ErrStream, strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

func (s *ffmpegSource) baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

func (s *ffmpegSource) outputArgs(filters []string) []string {
	if s.f.config.ScaleWidth > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", s.f.config.ScaleWidth))
	}
	var args []string
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(s.f.config.Quality),
		"pipe:1",
	)
}

func (s *ffmpegSource) FrameAt(ctx context.Context, ts float64) (Frame, error) {
	args := append(s.baseArgs(),
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", s.path,
		"-frames:v", "1",
	)
	args = append(args, s.outputArgs(nil)...)

	cmd := exec.CommandContext(ctx, s.f.config.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: ffmpeg seek %.3fs: %v: %s", ErrStream, ts, err, strings.TrimSpace(stderr.String()))
	}
	var frame []byte
	err = readJPEGFrames(ctx, bytes.NewReader(out), func(data []byte) bool {
		frame = data
		return false
	})
	if (err != nil && !errors.Is(err, errStopped)) || frame == nil {
		return Frame{}, fmt.Errorf("%w: no frame at %.3fs", ErrDecode, ts)
	}
	return Frame{Timestamp: ts, JPEG: frame}, nil
}

func (s *ffmpegSource) Dense(ctx context.Context, interval time.Duration) (*Stream, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: non-positive interval", ErrStream)
	}
	secs := interval.Seconds()
	args := append(s.baseArgs(), "-i", s.path)
	args = append(args, s.outputArgs([]string{"fps=1/" + strconv.FormatFloat(secs, 'f', -1, 64)})...)

	return NewStream(ctx, func(ctx context.Context, emit func(Frame) bool) error {
		cmd := exec.CommandContext(ctx, s.f.config.FFmpegPath, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("%w: ffmpeg stdout pipe: %v", ErrStream, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("%w: ffmpeg stderr pipe: %v", ErrStream, err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("%w: start ffmpeg: %v", ErrStream, err)
		}

		var stderrTail bytes.Buffer
		stderrDone := make(chan struct{})
		go func() {
			defer close(stderrDone)
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				s.f.log.Debugf("ffmpeg stderr: %s", scanner.Text())
				if stderrTail.Len() < 4096 {
					stderrTail.WriteString(scanner.Text())
					stderrTail.WriteByte('\n')
				}
			}
		}()

		n := 0
		readErr := readJPEGFrames(ctx, stdout, func(data []byte) bool {
			ts := float64(n) * secs
			n++
			return emit(Frame{Timestamp: ts, JPEG: data})
		})
		if readErr != nil {
			// Consumer stopped or the pipe broke; make sure ffmpeg goes away.
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		<-stderrDone
		waitErr := cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if readErr != nil && !errors.Is(readErr, errStopped) {
			return fmt.Errorf("%w: read frames: %v", ErrStream, readErr)
		}
		if waitErr != nil && n == 0 {
			return fmt.Errorf("%w: ffmpeg: %v: %s", ErrStream, waitErr, strings.TrimSpace(stderrTail.String()))
		}
		if waitErr != nil {
			s.f.log.Warnf("ffmpeg exited after %d frames of %s: %v", n, s.path, waitErr)
		}
		return nil
	}), nil
}

var errStopped = errors.New("consumer stopped")

// readJPEGFrames reads a stream of concatenated JPEG images, calling emit for
// each until it returns false or the stream ends. A stream ending mid-frame
// is treated as a normal end.
func readJPEGFrames(ctx context.Context, r io.Reader, emit func([]byte) bool) error {
	reader := bufio.NewReaderSize(r, 512*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Find JPEG start marker: FF D8
		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		// Read until JPEG end marker: FF D9
		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if !emit(frameData) {
			return errStopped
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
