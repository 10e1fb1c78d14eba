package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// healthTTL is how long a successful health check is trusted.
const healthTTL = 30 * time.Second

// HTTPConfig configures an HTTPDetector.
type HTTPConfig struct {
	Endpoint      string
	ConfThreshold float32
	// ClassesFilter is forwarded to the service as a comma separated list.
	ClassesFilter []string
	Timeout       time.Duration
}

// HTTPDetector calls a YOLO inference service over HTTP.
type HTTPDetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float32
	classesFilter string
	log           *slog.Logger

	mu          sync.RWMutex
	healthCheck time.Time
}

type httpDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

type httpResult struct {
	Detections      []httpDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
}

// HealthInfo is the body of the service's /health endpoint.
type HealthInfo struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// NewHTTPDetector creates a detector for the service at cfg.Endpoint.
func NewHTTPDetector(cfg HTTPConfig) *HTTPDetector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	conf := cfg.ConfThreshold
	if conf <= 0 {
		conf = 0.5
	}
	return &HTTPDetector{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		client:        &http.Client{Timeout: timeout},
		confThreshold: conf,
		classesFilter: strings.Join(cfg.ClassesFilter, ","),
		log:           slog.Default().With("component", "detector", "detector", "http"),
	}
}

func (d *HTTPDetector) Name() string { return "http" }

// Healthy checks the service's /health endpoint, caching a positive answer
// for healthTTL.
func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	d.mu.RLock()
	fresh := time.Since(d.healthCheck) < healthTTL
	d.mu.RUnlock()
	if fresh {
		return true
	}

	info, err := d.HealthInfo(ctx)
	if err != nil || !info.ModelLoaded {
		if err != nil {
			d.log.Debug("health check failed", "error", err)
		}
		return false
	}

	d.mu.Lock()
	d.healthCheck = time.Now()
	d.mu.Unlock()
	return true
}

// HealthInfo returns the service's health report.
func (d *HTTPDetector) HealthInfo(ctx context.Context) (*HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check detector health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector health check returned status %d", resp.StatusCode)
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &info, nil
}

// Detect uploads img as JPEG to /detect.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(fw, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", d.confThreshold)); err != nil {
		return nil, err
	}
	if d.classesFilter != "" {
		if err := w.WriteField("classes_filter", d.classesFilter); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.invalidate()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			d.invalidate()
		}
		return nil, fmt.Errorf("detection failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result httpResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detection response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, hd := range result.Detections {
		if len(hd.BBox) < 4 {
			continue
		}
		dets = append(dets, Detection{
			BBox: BBox{
				X1: int(hd.BBox[0]), Y1: int(hd.BBox[1]),
				X2: int(hd.BBox[2]), Y2: int(hd.BBox[3]),
			},
			Confidence: hd.Confidence,
			ClassID:    hd.ClassID,
			Label:      hd.Class,
		})
	}
	return dets, nil
}

func (d *HTTPDetector) invalidate() {
	d.mu.Lock()
	d.healthCheck = time.Time{}
	d.mu.Unlock()
}

func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
