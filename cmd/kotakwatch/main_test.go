package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotakwatch/internal/config"
	"kotakwatch/internal/database"
	"kotakwatch/internal/pipeline"
	"kotakwatch/internal/presence"
)

func TestAlertRecorderStoresEdgeAndOutcome(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "kotakwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	reg, err := db.RegisterTenant(ctx, database.Registration{
		TenantName:   "Masjid Raya",
		Username:     "raya",
		PasswordHash: "hash",
		Camera:       database.CameraRecord{Source: "ipcam", Path: "rtsp://10.0.0.1/live"},
	})
	require.NoError(t, err)

	bus := pipeline.NewEventBus()
	bus.Subscribe(newAlertRecorder(db))

	at := time.Now().UTC().Truncate(time.Second)
	bus.Publish(pipeline.Event{
		Type:        pipeline.EventAlert,
		TenantID:    reg.TenantID,
		CameraID:    reg.CameraID,
		RunID:       "run-1",
		AlertID:     "alert-1",
		Presence:    presence.StatusAlert,
		AlertStatus: presence.FlagMissing,
		AvgAbsent:   0.75,
		At:          at,
	})

	events, err := db.ListAlertEvents(ctx, reg.TenantID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0].Notification)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.InDelta(t, 0.75, events[0].AvgAbsent, 1e-9)

	bus.Publish(pipeline.Event{
		Type:     pipeline.EventNotification,
		TenantID: reg.TenantID,
		AlertID:  "alert-1",
		Outcome:  "failed",
		Error:    "telegram sendPhoto error 400: chat not found",
	})

	events, err = db.ListAlertEvents(ctx, reg.TenantID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0].Notification)
	assert.Equal(t, "telegram sendPhoto error 400: chat not found", events[0].NotificationError)
	assert.NotNil(t, events[0].NotifiedAt)
}

func TestMonitorReportsIdleController(t *testing.T) {
	m := &monitor{ctrl: pipeline.NewController(pipeline.Deps{})}

	rep := m.Report()
	assert.False(t, rep.Running)
	assert.Equal(t, "NORMAL", rep.Presence)
	assert.True(t, rep.LastFrame.IsZero())

	_, ok := m.Snapshot()
	assert.False(t, ok)
}

func TestNewDetector(t *testing.T) {
	det, err := newDetector(&config.Config{Detector: "none"})
	require.NoError(t, err)
	assert.Nil(t, det)

	det, err = newDetector(&config.Config{Detector: "http", YOLOEndpoint: "http://127.0.0.1:1", DetectConf: 0.5})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "http", det.Name())
	det.Close()

	_, err = newDetector(&config.Config{Detector: "magic"})
	assert.Error(t, err)
}

func TestNewOpenerDefaultsToFFmpeg(t *testing.T) {
	op, err := newOpener(&config.Config{CaptureBackend: "ffmpeg", CaptureWidth: 640, CaptureHeight: 480, CaptureFPS: 15})
	require.NoError(t, err)
	assert.NotNil(t, op)
}
