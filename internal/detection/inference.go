package detection

import (
	"context"
	"image"
	"image/draw"
)

// Result is the outcome of one processed frame.
type Result struct {
	Detections []Detection
	// Present is the raw per-frame presence sample.
	Present bool
	// Inferred is false when the frame reused the previous detections.
	Inferred bool
	// Degraded is set when the detector failed and the frame was counted
	// as present.
	Degraded bool
}

// Inference runs a Detector over frames, restricting it to the ROI and
// skipping frames according to the inference cadence.
type Inference struct {
	det    Detector
	filter Filter
	every  int

	counter int
	primed  bool
	last    []Detection
}

// NewInference wraps det. A nil det makes every frame count as present.
// every <= 1 runs the detector on each frame.
func NewInference(det Detector, filter Filter, every int) *Inference {
	if every < 1 {
		every = 1
	}
	return &Inference{det: det, filter: filter, every: every}
}

// Enabled reports whether a detector is attached.
func (in *Inference) Enabled() bool { return in.det != nil }

// Run processes one frame. roi is the pixel rectangle to restrict
// inference to; an empty rectangle means the full frame. Returned boxes are
// always in full-frame coordinates.
func (in *Inference) Run(ctx context.Context, img image.Image, roi image.Rectangle) (Result, error) {
	if in.det == nil {
		return Result{Present: true}, nil
	}

	in.counter++
	if in.counter%in.every != 0 && in.primed {
		return Result{Detections: in.last, Present: len(in.last) > 0}, nil
	}

	src := img
	base := img.Bounds()
	if !roi.Empty() {
		base = roi.Intersect(img.Bounds())
		src = crop(img, base)
	}

	dets, err := in.det.Detect(ctx, src)
	if err != nil {
		return Result{Detections: in.last, Present: true, Degraded: true}, err
	}

	if !roi.Empty() {
		for i := range dets {
			dets[i].BBox = dets[i].BBox.Offset(base.Min.X, base.Min.Y)
		}
	}
	dets = in.filter.Apply(dets, base.Dx()*base.Dy())
	in.last = dets
	in.primed = true

	return Result{Detections: dets, Present: len(dets) > 0, Inferred: true}, nil
}

// Reset forgets the cadence counter and cached detections.
func (in *Inference) Reset() {
	in.counter = 0
	in.primed = false
	in.last = nil
}

// crop copies r out of img into a new zero-origin image.
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
