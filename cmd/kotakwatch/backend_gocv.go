//go:build gocv

package main

import (
	"kotakwatch/internal/capture"
	"kotakwatch/internal/capture/opencv"
	"kotakwatch/internal/config"
	"kotakwatch/internal/detection"
	"kotakwatch/internal/detection/dnn"
)

func newOpener(cfg *config.Config) (capture.Opener, error) {
	if cfg.CaptureBackend == "opencv" {
		return &opencv.Opener{Width: cfg.CaptureWidth, Height: cfg.CaptureHeight, FPS: cfg.CaptureFPS}, nil
	}
	return newFFmpegOpener(cfg), nil
}

func newDNNDetector(cfg *config.Config) (detection.Detector, error) {
	d, err := dnn.New(dnn.Config{
		ModelPath:     cfg.DNNModel,
		ConfigPath:    cfg.DNNConfig,
		LabelsPath:    cfg.DNNLabels,
		ConfThreshold: cfg.DetectConf,
		InputSize:     300,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
