package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DetectionServiceName is the gRPC service the detector talks to. It is
	// also the name checked through the standard health service.
	DetectionServiceName = "kotakwatch.detection.v1.DetectionService"
	// DetectMethod is the full method name of the unary detect call. Both
	// request and response are google.protobuf.Struct messages.
	DetectMethod = "/" + DetectionServiceName + "/Detect"
)

// GRPCConfig configures a GRPCDetector.
type GRPCConfig struct {
	Address       string
	ConfThreshold float32
	Timeout       time.Duration
	// DialOptions are appended to the defaults, mainly for tests.
	DialOptions []grpc.DialOption
}

// GRPCDetector calls a detection service over gRPC.
type GRPCDetector struct {
	address string
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	conf    float32
	timeout time.Duration
	log     *slog.Logger

	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
	seq        int64
}

// NewGRPCDetector creates the client connection. The connection is lazy;
// an unreachable service shows up in Healthy and Detect.
func NewGRPCDetector(cfg GRPCConfig) (*GRPCDetector, error) {
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create detection client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conf := cfg.ConfThreshold
	if conf <= 0 {
		conf = 0.5
	}

	return &GRPCDetector{
		address: cfg.Address,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		conf:    conf,
		timeout: timeout,
		log:     slog.Default().With("component", "detector", "detector", "grpc", "address", cfg.Address),
	}, nil
}

func (gd *GRPCDetector) Name() string { return "grpc" }

// Healthy asks the standard health service about DetectionServiceName,
// caching a positive answer for healthTTL.
func (gd *GRPCDetector) Healthy(ctx context.Context) bool {
	gd.mu.RLock()
	if gd.healthy && time.Since(gd.lastHealth) < healthTTL {
		gd.mu.RUnlock()
		return true
	}
	gd.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DetectionServiceName})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if err != nil {
		gd.log.Debug("health check failed", "error", err)
	}

	gd.mu.Lock()
	gd.healthy = healthy
	gd.lastHealth = time.Now()
	gd.mu.Unlock()
	return healthy
}

// Detect sends img as a base64 JPEG and parses the returned boxes.
func (gd *GRPCDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	gd.mu.Lock()
	gd.seq++
	seq := gd.seq
	gd.mu.Unlock()

	req, err := structpb.NewStruct(map[string]any{
		"jpeg":           base64.StdEncoding.EncodeToString(buf.Bytes()),
		"conf_threshold": float64(gd.conf),
		"frame_seq":      float64(seq),
		"timestamp_ns":   float64(time.Now().UnixNano()),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		gd.mu.Lock()
		gd.healthy = false
		gd.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return DecodeDetections(resp), nil
}

// DecodeDetections reads the "detections" list of a detect response.
// Malformed entries are skipped.
func DecodeDetections(resp *structpb.Struct) []Detection {
	list := resp.GetFields()["detections"].GetListValue().GetValues()
	dets := make([]Detection, 0, len(list))
	for _, v := range list {
		f := v.GetStructValue().GetFields()
		box := f["bbox"].GetStructValue().GetFields()
		if box == nil {
			continue
		}
		dets = append(dets, Detection{
			BBox: BBox{
				X1: int(box["x1"].GetNumberValue()),
				Y1: int(box["y1"].GetNumberValue()),
				X2: int(box["x2"].GetNumberValue()),
				Y2: int(box["y2"].GetNumberValue()),
			},
			Confidence: float32(f["confidence"].GetNumberValue()),
			ClassID:    int(f["class_id"].GetNumberValue()),
			Label:      f["class_name"].GetStringValue(),
		})
	}
	return dets
}

// EncodeDetections builds a detect response from dets.
func EncodeDetections(dets []Detection) (*structpb.Struct, error) {
	list := make([]any, 0, len(dets))
	for _, d := range dets {
		list = append(list, map[string]any{
			"class_name": d.Label,
			"class_id":   float64(d.ClassID),
			"confidence": float64(d.Confidence),
			"bbox": map[string]any{
				"x1": float64(d.BBox.X1), "y1": float64(d.BBox.Y1),
				"x2": float64(d.BBox.X2), "y2": float64(d.BBox.Y2),
			},
		})
	}
	return structpb.NewStruct(map[string]any{"detections": list})
}

// Close shuts down the gRPC connection.
func (gd *GRPCDetector) Close() error {
	return gd.conn.Close()
}
