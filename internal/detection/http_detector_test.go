package detection

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYOLOServer(t *testing.T, modelLoaded bool) (*httptest.Server, *int) {
	t.Helper()
	healthCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCalls++
		_ = json.NewEncoder(w).Encode(HealthInfo{Status: "ok", ModelLoaded: modelLoaded})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		_, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "frame.jpg", hdr.Filename)
		}
		assert.Equal(t, "0.400", r.FormValue("conf_threshold"))
		assert.Equal(t, "person,box", r.FormValue("classes_filter"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 2,
			"detections": []map[string]any{
				{"class": "person", "class_id": 0, "confidence": 0.91, "bbox": []float32{10, 20, 110, 220}},
				{"class": "broken", "class_id": 9, "confidence": 0.5, "bbox": []float32{1, 2}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &healthCalls
}

func TestHTTPDetectorDetect(t *testing.T) {
	srv, _ := newYOLOServer(t, true)
	d := NewHTTPDetector(HTTPConfig{Endpoint: srv.URL + "/", ConfThreshold: 0.4, ClassesFilter: []string{"person", "box"}})
	defer d.Close()

	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 32)))
	require.NoError(t, err)
	require.Len(t, dets, 1, "entries with short bbox are skipped")
	assert.Equal(t, Detection{BBox: BBox{10, 20, 110, 220}, Confidence: 0.91, ClassID: 0, Label: "person"}, dets[0])
}

func TestHTTPDetectorHealthIsCached(t *testing.T) {
	srv, calls := newYOLOServer(t, true)
	d := NewHTTPDetector(HTTPConfig{Endpoint: srv.URL})

	assert.True(t, d.Healthy(context.Background()))
	assert.True(t, d.Healthy(context.Background()))
	assert.Equal(t, 1, *calls)
}

func TestHTTPDetectorUnhealthyWithoutModel(t *testing.T) {
	srv, _ := newYOLOServer(t, false)
	d := NewHTTPDetector(HTTPConfig{Endpoint: srv.URL})
	assert.False(t, d.Healthy(context.Background()))
}

func TestHTTPDetectorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewHTTPDetector(HTTPConfig{Endpoint: url})
	assert.False(t, d.Healthy(context.Background()))

	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHTTPDetectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(HTTPConfig{Endpoint: srv.URL})
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}
