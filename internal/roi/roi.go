// Package roi persists the normalized region of interest that restricts where
// presence is evaluated.
package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// MinPixelSide is the smallest width or height a pixel ROI may have.
const MinPixelSide = 4

// ROI is a rectangle in normalized [0,1] frame coordinates.
type ROI struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ValidationError reports which rectangle rule was violated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid roi %s: %s", e.Field, e.Reason)
}

// Validate checks the rectangle invariants.
func (r ROI) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"x", r.X}, {"y", r.Y}, {"w", r.W}, {"h", r.H}} {
		if f.v < 0 || f.v > 1 || f.v != f.v {
			return &ValidationError{Field: f.name, Reason: "must be within [0,1]"}
		}
	}
	if r.W <= 0 {
		return &ValidationError{Field: "w", Reason: "must be > 0"}
	}
	if r.H <= 0 {
		return &ValidationError{Field: "h", Reason: "must be > 0"}
	}
	if r.X+r.W > 1 {
		return &ValidationError{Field: "x+w", Reason: "exceeds frame width"}
	}
	if r.Y+r.H > 1 {
		return &ValidationError{Field: "y+h", Reason: "exceeds frame height"}
	}
	return nil
}

// Pixels maps the ROI onto a width x height frame. ok is false when the
// clamped rectangle is smaller than MinPixelSide on either axis.
func (r ROI) Pixels(width, height int) (rect image.Rectangle, ok bool) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, false
	}
	x1 := clamp(int(r.X*float64(width)), 0, width-1)
	y1 := clamp(int(r.Y*float64(height)), 0, height-1)
	x2 := clamp(int((r.X+r.W)*float64(width)), 1, width)
	y2 := clamp(int((r.Y+r.H)*float64(height)), 1, height)
	if x2-x1 < MinPixelSide || y2-y1 < MinPixelSide {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2), true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Store keeps the ROI as a small JSON file.
type Store struct {
	path string
}

// NewStore returns a store backed by path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored ROI, or nil when the file is missing, empty,
// malformed or holds an invalid rectangle.
func (s *Store) Load() *ROI {
	raw, err := os.ReadFile(s.path)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var r ROI
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	if r.Validate() != nil {
		return nil
	}
	return &r
}

// Save validates r and replaces the file atomically.
func (s *Store) Save(r ROI) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode roi: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".roi-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp roi file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write roi: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write roi: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace roi file: %w", err)
	}
	return nil
}

// Clear removes the file. Clearing an absent ROI is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear roi: %w", err)
	}
	return nil
}

// ModTime returns the file's modification time, or the zero time when the
// file does not exist.
func (s *Store) ModTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// ChangedSince reports whether the modification time differs from last and
// returns the current one. Content changes that keep the mtime are not seen.
func (s *Store) ChangedSince(last time.Time) (bool, time.Time) {
	now := s.ModTime()
	return !now.Equal(last), now
}
