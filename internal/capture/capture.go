// Package capture owns a single video source and turns it into a stream of
// decoded frames, recovering from read failures without operator action.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

// Kind selects how a source is opened.
type Kind string

const (
	KindDevice  Kind = "device"
	KindFile    Kind = "file"
	KindNetwork Kind = "network-stream"
)

// ParseKind accepts the canonical names and the legacy webcam/video/ipcam
// aliases. An empty string means device.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "device", "webcam":
		return KindDevice, nil
	case "file", "video":
		return KindFile, nil
	case "network-stream", "network", "stream", "ipcam":
		return KindNetwork, nil
	default:
		return "", &ConfigError{Field: "source", Reason: fmt.Sprintf("unknown source kind %q", s)}
	}
}

// LegacyName returns the webcam/video/ipcam name stored in camera records.
func (k Kind) LegacyName() string {
	switch k {
	case KindFile:
		return "video"
	case KindNetwork:
		return "ipcam"
	default:
		return "webcam"
	}
}

// Config describes one capture run. It is never mutated once a run starts.
type Config struct {
	Kind     Kind   `json:"source"`
	Index    int    `json:"index"`
	Path     string `json:"path,omitempty"`
	Loop     bool   `json:"loop"`
	TenantID int64  `json:"masjid_id"`
	CameraID string `json:"camera_id,omitempty"`
}

// Validate rejects configs that cannot be opened.
func (c Config) Validate() error {
	switch c.Kind {
	case KindDevice:
		if c.Index < 0 {
			return &ConfigError{Field: "index", Reason: "must be >= 0"}
		}
	case KindFile, KindNetwork:
		if strings.TrimSpace(c.Path) == "" {
			return &ConfigError{Field: "path", Reason: fmt.Sprintf("required for %s sources", c.Kind)}
		}
	default:
		return &ConfigError{Field: "source", Reason: fmt.Sprintf("unknown source kind %q", c.Kind)}
	}
	return nil
}

// Locator is the human readable source address used in logs and errors.
func (c Config) Locator() string {
	if c.Kind == KindDevice {
		return fmt.Sprintf("device:%d", c.Index)
	}
	return c.Path
}

// Frame is one decoded image. Consumers must not modify Image.
type Frame struct {
	Image     *image.RGBA
	Seq       uint64
	Timestamp time.Time
}

// Width of the frame in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height of the frame in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Source is an opened video handle.
type Source interface {
	// Read blocks until the next frame or a failure.
	Read() (*Frame, error)
	// Rewind seeks a file source back to its first frame.
	Rewind() error
	Close() error
}

// Opener produces sources for a config.
type Opener interface {
	Open(ctx context.Context, cfg Config) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg Config) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, cfg Config) (Source, error) { return f(ctx, cfg) }

// Prober is implemented by openers that can tell whether their decoder
// backend is installed.
type Prober interface {
	Available() error
}

var (
	// ErrReadFailure marks a failed single read. It is transient.
	ErrReadFailure = errors.New("capture read failed")
	// ErrNotOpened is returned when a backend produced a handle that reports
	// it is not open.
	ErrNotOpened = errors.New("capture source not opened")
	// ErrNoInitialFrame means the first read failed even after a reopen.
	ErrNoInitialFrame = errors.New("no initial frame after reopen")
)

// ConfigError is a bad or missing source setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid capture config %s: %s", e.Field, e.Reason)
}

// OpenError wraps a failure to produce a usable handle.
type OpenError struct {
	Kind    Kind
	Locator string
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s source %q: %v", e.Kind, e.Locator, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Policy holds the recovery thresholds.
type Policy struct {
	LoopRewindAfter int           // consecutive failures before a looping file rewinds
	ReopenAfter     int           // consecutive failures before a full reopen
	RetryDelay      time.Duration // wait between plain retries
	ReopenBackoff   time.Duration // wait after a failed reopen
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LoopRewindAfter: 2,
		ReopenAfter:     15,
		RetryDelay:      20 * time.Millisecond,
		ReopenBackoff:   time.Second,
	}
}

// State of a Session.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateReading
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateRecovering:
		return "recovering"
	default:
		return "closed"
	}
}
