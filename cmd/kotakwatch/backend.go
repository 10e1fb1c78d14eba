//go:build !gocv

package main

import (
	"errors"
	"fmt"

	"kotakwatch/internal/capture"
	"kotakwatch/internal/config"
	"kotakwatch/internal/detection"
)

var errNeedsGocv = errors.New("requires a build with -tags gocv")

func newOpener(cfg *config.Config) (capture.Opener, error) {
	if cfg.CaptureBackend == "opencv" {
		return nil, fmt.Errorf("opencv capture backend %w", errNeedsGocv)
	}
	return newFFmpegOpener(cfg), nil
}

func newDNNDetector(cfg *config.Config) (detection.Detector, error) {
	return nil, fmt.Errorf("dnn detector %w", errNeedsGocv)
}
