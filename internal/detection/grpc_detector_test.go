package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type detectionService interface {
	detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type stubService struct {
	dets    []Detection
	lastReq *structpb.Struct
}

func (s *stubService) detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.lastReq = req
	return EncodeDetections(s.dets)
}

var stubServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectionServiceName,
	HandlerType: (*detectionService)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Detect",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			req := &structpb.Struct{}
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(detectionService).detect(ctx, req)
		},
	}},
}

func startStubServer(t *testing.T, svc *stubService, status healthpb.HealthCheckResponse_ServingStatus) *GRPCDetector {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&stubServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(DetectionServiceName, status)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	d, err := NewGRPCDetector(GRPCConfig{
		Address: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestGRPCDetectorDetect(t *testing.T) {
	svc := &stubService{dets: []Detection{
		{BBox: BBox{5, 6, 50, 60}, Confidence: 0.75, ClassID: 3, Label: "kotak"},
	}}
	d := startStubServer(t, svc, healthpb.HealthCheckResponse_SERVING)

	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 16, 16)))
	require.NoError(t, err)
	assert.Equal(t, svc.dets, dets)

	require.NotNil(t, svc.lastReq)
	raw := svc.lastReq.GetFields()["jpeg"].GetStringValue()
	jpegBytes, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpegBytes[:2])
	assert.InDelta(t, 0.5, svc.lastReq.GetFields()["conf_threshold"].GetNumberValue(), 1e-6)
}

func TestGRPCDetectorHealth(t *testing.T) {
	d := startStubServer(t, &stubService{}, healthpb.HealthCheckResponse_SERVING)
	assert.True(t, d.Healthy(context.Background()))

	down := startStubServer(t, &stubService{}, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, down.Healthy(context.Background()))
}

func TestGRPCDetectorUnavailable(t *testing.T) {
	lis := bufconn.Listen(1024)
	require.NoError(t, lis.Close())

	d, err := NewGRPCDetector(GRPCConfig{
		Address: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestDecodeDetectionsSkipsMalformed(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"detections": []any{
			map[string]any{"class_name": "no box"},
			map[string]any{"class_name": "ok", "bbox": map[string]any{"x1": 1.0, "y1": 2.0, "x2": 3.0, "y2": 4.0}},
		},
	})
	require.NoError(t, err)

	dets := DecodeDetections(resp)
	require.Len(t, dets, 1)
	assert.Equal(t, "ok", dets[0].Label)
	assert.Equal(t, BBox{1, 2, 3, 4}, dets[0].BBox)
}
