// Package detection defines the presence detector boundary and the
// detectors that sit behind it.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// MaxDetections caps how many boxes one inference may return.
const MaxDetections = 50

// ErrUnavailable is returned when a detector cannot serve requests.
var ErrUnavailable = errors.New("detector unavailable")

// BBox is a pixel rectangle in full-frame coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Area returns the box area, never less than 1.
func (b BBox) Area() int {
	a := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	if a < 1 {
		return 1
	}
	return a
}

// Offset shifts the box by (dx, dy).
func (b BBox) Offset(dx, dy int) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is a single detected object.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Detector finds objects in a frame. Implementations are owned by a single
// capture worker and need not be safe for concurrent Detect calls.
type Detector interface {
	Name() string
	// Healthy reports whether the detector can currently serve requests.
	Healthy(ctx context.Context) bool
	// Detect returns detections in the coordinate space of img.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// Filter selects the detections that count as the target object.
// ClassIDs take precedence over Labels; when both are empty every class
// matches.
type Filter struct {
	ClassIDs     []int
	Labels       []string
	MinAreaRatio float64
}

// Match reports whether the detection's class is a target.
func (f Filter) Match(d Detection) bool {
	if len(f.ClassIDs) > 0 {
		for _, id := range f.ClassIDs {
			if id == d.ClassID {
				return true
			}
		}
		return false
	}
	if len(f.Labels) > 0 {
		label := strings.ToLower(d.Label)
		for _, l := range f.Labels {
			if strings.ToLower(l) == label {
				return true
			}
		}
		return false
	}
	return true
}

// Apply keeps matching detections whose area relative to baseArea is at
// least MinAreaRatio.
func (f Filter) Apply(dets []Detection, baseArea int) []Detection {
	if baseArea < 1 {
		baseArea = 1
	}
	out := dets[:0:0]
	for _, d := range dets {
		if !f.Match(d) {
			continue
		}
		if f.MinAreaRatio > 0 && float64(d.BBox.Area())/float64(baseArea) < f.MinAreaRatio {
			continue
		}
		out = append(out, d)
		if len(out) == MaxDetections {
			break
		}
	}
	return out
}

// LabelFor resolves a class id against a label table, falling back to
// "obj".
func LabelFor(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) && labels[classID] != "" {
		return labels[classID]
	}
	return "obj"
}
