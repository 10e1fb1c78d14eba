package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"kotakwatch/internal/detection"
)

// JPEGQuality is the quality of published frames.
const JPEGQuality = 85

var (
	ROIColor       = color.RGBA{255, 165, 0, 255}
	DetectionColor = color.RGBA{0, 215, 0, 255}
	hudBackground  = color.RGBA{0, 0, 0, 160}
	hudText        = color.RGBA{255, 255, 255, 255}
)

// HUD is the status line drawn in the top-left corner.
type HUD struct {
	Status     string
	AvgAbsent  float64
	Detections int
}

func (h HUD) String() string {
	return fmt.Sprintf("%s absent=%.2f det=%d", h.Status, h.AvgAbsent, h.Detections)
}

// Annotator draws overlays onto frames and encodes them.
type Annotator struct {
	Quality int
	// DrawHUD enables the status line.
	DrawHUD bool
}

// NewAnnotator returns an annotator with the default quality and HUD on.
func NewAnnotator() *Annotator {
	return &Annotator{Quality: JPEGQuality, DrawHUD: true}
}

// Annotate draws the ROI, detections and HUD onto img in place and returns
// the JPEG encoding. An empty roi is not drawn.
func (a *Annotator) Annotate(img *image.RGBA, roi image.Rectangle, dets []detection.Detection, hud HUD) ([]byte, error) {
	if !roi.Empty() {
		drawBox(img, roi, ROIColor, 2)
	}
	for _, d := range dets {
		r := d.BBox.Rect()
		drawBox(img, r, DetectionColor, 2)
		y := r.Min.Y - 6
		if y < 12 {
			y = 12
		}
		drawLabel(img, r.Min.X, y, d.String(), DetectionColor, color.RGBA{0, 0, 0, 180})
	}
	if a.DrawHUD {
		drawLabel(img, 4, 14, hud.String(), hudText, hudBackground)
	}

	quality := a.Quality
	if quality <= 0 {
		quality = JPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox outlines r with the given thickness, clipped to img.
func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Canon()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at y over a filled background.
func drawLabel(img *image.RGBA, x, y int, label string, fg, bg color.RGBA) {
	if x < 0 {
		x = 0
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	box := image.Rect(x-2, y-face.Ascent-2, x+width+2, y+face.Descent+2)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}
