package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(3)
	m.SetPresence(true, 0.708)
	m.SetRunning(true)
	m.ObserveNotification("sent")
	m.ObserveNotification("sent")
	m.ObserveNotification("cooldown")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "kotakwatch_frames_processed_total 3")
	assert.Contains(t, text, "kotakwatch_alert_active 1")
	assert.Contains(t, text, "kotakwatch_avg_absent_percent 71")
	assert.Contains(t, text, "kotakwatch_session_running 1")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("cooldown")))
}
