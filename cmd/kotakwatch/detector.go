package main

import (
	"fmt"

	"kotakwatch/internal/capture"
	"kotakwatch/internal/config"
	"kotakwatch/internal/detection"
)

func newFFmpegOpener(cfg *config.Config) *capture.FFmpegOpener {
	return capture.NewFFmpegOpener(capture.FFmpegOptions{
		Width:  cfg.CaptureWidth,
		Height: cfg.CaptureHeight,
		FPS:    cfg.CaptureFPS,
	})
}

// newDetector builds the detector named by DETECTOR. "none" returns nil,
// which the pipeline treats as always present.
func newDetector(cfg *config.Config) (detection.Detector, error) {
	switch cfg.Detector {
	case "http":
		return detection.NewHTTPDetector(detection.HTTPConfig{
			Endpoint:      cfg.YOLOEndpoint,
			ConfThreshold: cfg.DetectConf,
			ClassesFilter: cfg.TargetLabels,
		}), nil
	case "grpc":
		d, err := detection.NewGRPCDetector(detection.GRPCConfig{
			Address:       cfg.YOLOGRPCAddr,
			ConfThreshold: cfg.DetectConf,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case "dnn":
		return newDNNDetector(cfg)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}
