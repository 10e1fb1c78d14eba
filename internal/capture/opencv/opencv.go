//go:build gocv

// Package opencv is the OpenCV capture backend. It needs cgo and an OpenCV
// install, so it is only built with the gocv tag.
package opencv

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"kotakwatch/internal/capture"
)

// Opener opens devices, files and network streams through gocv.
type Opener struct {
	Width  int
	Height int
	FPS    int
}

// Available always succeeds: if this package is linked, OpenCV is present.
func (o *Opener) Available() error { return nil }

// Open dispatches on cfg.Kind.
func (o *Opener) Open(ctx context.Context, cfg capture.Config) (capture.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if cfg.Kind == capture.KindDevice {
		vc, err = gocv.VideoCaptureDevice(cfg.Index)
	} else {
		vc, err = gocv.VideoCaptureFile(cfg.Path)
	}
	if err != nil {
		return nil, &capture.OpenError{Kind: cfg.Kind, Locator: cfg.Locator(), Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &capture.OpenError{Kind: cfg.Kind, Locator: cfg.Locator(), Err: capture.ErrNotOpened}
	}

	if cfg.Kind == capture.KindDevice {
		if o.Width > 0 && o.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(o.Width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(o.Height))
		}
		if o.FPS > 0 {
			vc.Set(gocv.VideoCaptureFPS, float64(o.FPS))
		}
	}

	return &source{vc: vc, mat: gocv.NewMat()}, nil
}

type source struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (s *source) Read() (*capture.Frame, error) {
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, capture.ErrReadFailure
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrReadFailure, err)
	}
	return &capture.Frame{Image: capture.ToRGBA(img), Timestamp: time.Now()}, nil
}

func (s *source) Rewind() error {
	s.vc.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

func (s *source) Close() error {
	s.mat.Close()
	return s.vc.Close()
}
