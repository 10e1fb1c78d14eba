package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegOptions tunes the ffmpeg backend.
type FFmpegOptions struct {
	Binary      string
	Width       int
	Height      int
	FPS         int
	ReadTimeout time.Duration
}

// FFmpegOpener opens sources by piping ffmpeg's MJPEG output.
type FFmpegOpener struct {
	opts FFmpegOptions
}

// NewFFmpegOpener fills in defaults for zero option fields.
func NewFFmpegOpener(opts FFmpegOptions) *FFmpegOpener {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	return &FFmpegOpener{opts: opts}
}

// Available reports whether the ffmpeg binary can be found.
func (o *FFmpegOpener) Available() error {
	if _, err := exec.LookPath(o.opts.Binary); err != nil {
		return fmt.Errorf("ffmpeg backend unavailable: %w", err)
	}
	return nil
}

// Open starts ffmpeg for cfg.
func (o *FFmpegOpener) Open(ctx context.Context, cfg Config) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := &ffmpegSource{
		opts: o.opts,
		cfg:  cfg,
		log:  slog.Default().With("component", "ffmpeg", "source", cfg.Locator()),
	}
	if err := src.start(); err != nil {
		return nil, &OpenError{Kind: cfg.Kind, Locator: cfg.Locator(), Err: err}
	}
	return src, nil
}

// isNetworkSource checks if a locator is an HTTP/RTSP URL.
func isNetworkSource(locator string) bool {
	return strings.HasPrefix(locator, "http://") ||
		strings.HasPrefix(locator, "https://") ||
		strings.HasPrefix(locator, "rtsp://") ||
		strings.HasPrefix(locator, "rtsps://")
}

// ffmpegArgs builds the command line for cfg.
func ffmpegArgs(cfg Config, opts FFmpegOptions) []string {
	var args []string

	switch cfg.Kind {
	case KindDevice:
		device := cfg.Path
		if device == "" {
			device = "/dev/video" + strconv.Itoa(cfg.Index)
		}
		args = append(args, "-f", "v4l2")
		if opts.Width > 0 && opts.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
		}
		args = append(args, "-framerate", strconv.Itoa(opts.FPS), "-i", device)
	case KindFile:
		// -re paces a file at its native frame rate
		args = append(args, "-re", "-i", cfg.Path)
	case KindNetwork:
		if strings.HasPrefix(cfg.Path, "rtsp") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args, "-i", cfg.Path)
	}

	return append(args,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", strconv.Itoa(opts.FPS),
		"-q:v", "5",
		"-",
	)
}

type ffmpegSource struct {
	opts FFmpegOptions
	cfg  Config
	log  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	frames chan []byte
	done   chan struct{}
}

func (s *ffmpegSource) start() error {
	cmd := exec.Command(s.opts.Binary, ffmpegArgs(s.cfg, s.opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames := make(chan []byte, 2)
	done := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.log.Debug("ffmpeg", "line", scanner.Text())
		}
	}()
	go s.pump(stdout, frames, done)

	s.mu.Lock()
	s.cmd, s.frames, s.done = cmd, frames, done
	s.mu.Unlock()
	return nil
}

// pump splits ffmpeg output into JPEG frames. Files keep every frame; live
// sources drop the oldest queued frame so reads stay current.
func (s *ffmpegSource) pump(r io.Reader, frames chan []byte, done <-chan struct{}) {
	defer close(frames)

	buf := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buf)
				if frame == nil {
					break
				}
				if !s.deliver(frames, frame, done) {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				s.log.Debug("ffmpeg stdout closed", "error", err)
			}
			return
		}
	}
}

func (s *ffmpegSource) deliver(frames chan []byte, frame []byte, done <-chan struct{}) bool {
	if s.cfg.Kind == KindFile {
		select {
		case frames <- frame:
			return true
		case <-done:
			return false
		}
	}
	for {
		select {
		case frames <- frame:
			return true
		case <-done:
			return false
		default:
		}
		// queue full: make room by discarding the oldest pending frame
		select {
		case <-frames:
		default:
		}
	}
}

// Read waits for the next JPEG and decodes it.
func (s *ffmpegSource) Read() (*Frame, error) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames == nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, ErrNotOpened)
	}

	timer := time.NewTimer(s.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-frames:
		if !ok {
			return nil, fmt.Errorf("%w: end of stream", ErrReadFailure)
		}
		img, err := decodeJPEG(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
		return &Frame{Image: img, Timestamp: time.Now()}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame within %s", ErrReadFailure, s.opts.ReadTimeout)
	}
}

// Rewind restarts ffmpeg, which begins again at position 0.
func (s *ffmpegSource) Rewind() error {
	s.stop()
	return s.start()
}

func (s *ffmpegSource) Close() error {
	s.stop()
	return nil
}

func (s *ffmpegSource) stop() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd, s.frames, s.done = nil, nil, nil
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func decodeJPEG(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return ToRGBA(img), nil
}

// ToRGBA returns img as *image.RGBA with a zero origin, copying if needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := bytes.Index(buf, []byte{0xFF, 0xD8})
	if start == -1 {
		// keep a trailing 0xFF in case the marker is split across reads
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}
	end += start + 2 + 2

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = append(buf[:0], buf[end:]...)
	return frame
}
