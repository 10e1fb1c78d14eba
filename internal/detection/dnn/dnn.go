//go:build gocv

// Package dnn runs an SSD-style network in process through OpenCV.
package dnn

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"kotakwatch/internal/detection"
)

// Config locates the network files.
type Config struct {
	ModelPath     string
	ConfigPath    string
	LabelsPath    string
	ConfThreshold float32
	// InputSize is the square blob size fed to the network.
	InputSize int
}

// Detector wraps a gocv.Net.
type Detector struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	conf   float32
	size   int
	log    *slog.Logger
}

var _ detection.Detector = (*Detector)(nil)

// New loads the network. A missing file or an empty net is an error.
func New(cfg Config) (*Detector, error) {
	for _, p := range []string{cfg.ModelPath, cfg.ConfigPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %v", detection.ErrUnavailable, err)
		}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network %s", detection.ErrUnavailable, cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	labels, err := readLabels(cfg.LabelsPath)
	if err != nil {
		net.Close()
		return nil, err
	}

	d := &Detector{
		net:    net,
		labels: labels,
		conf:   cfg.ConfThreshold,
		size:   cfg.InputSize,
		log:    slog.Default().With("component", "detector", "detector", "dnn"),
	}
	if d.conf <= 0 {
		d.conf = 0.5
	}
	if d.size <= 0 {
		d.size = 300
	}
	d.log.Info("detection network loaded", "model", cfg.ModelPath, "labels", len(labels))
	return d, nil
}

func readLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	return labels, sc.Err()
}

func (d *Detector) Name() string { return "dnn" }

func (d *Detector) Healthy(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.net.Empty()
}

// Detect runs one forward pass. The output is read as rows of
// [batch, class, confidence, x1, y1, x2, y2] with normalized corners.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("converted frame is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(d.size, d.size), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := float32(mat.Cols()), float32(mat.Rows())
	var dets []detection.Detection
	for i := 0; i < rows.Rows() && len(dets) < detection.MaxDetections; i++ {
		conf := rows.GetFloatAt(i, 2)
		if conf < d.conf {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		dets = append(dets, detection.Detection{
			BBox: detection.BBox{
				X1: int(rows.GetFloatAt(i, 3) * cols),
				Y1: int(rows.GetFloatAt(i, 4) * height),
				X2: int(rows.GetFloatAt(i, 5) * cols),
				Y2: int(rows.GetFloatAt(i, 6) * height),
			},
			Confidence: conf,
			ClassID:    classID,
			Label:      detection.LabelFor(d.labels, classID),
		})
	}
	return dets, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
