package main

import (
	"context"
	"log/slog"
	"time"

	"kotakwatch/internal/database"
	"kotakwatch/internal/pipeline"
	"kotakwatch/internal/telegram"
)

const recordTimeout = 5 * time.Second

// alertStore is the part of the database the recorder writes to.
type alertStore interface {
	RecordAlertEvent(ctx context.Context, ev *database.AlertEvent) error
	UpdateAlertNotification(ctx context.Context, id, outcome, errMsg string) error
}

// alertRecorder persists alert edges and their notification outcomes.
// The bus calls it synchronously, so an alert row is always inserted before
// its outcome update.
type alertRecorder struct {
	store alertStore
	log   *slog.Logger
}

func newAlertRecorder(store alertStore) *alertRecorder {
	return &alertRecorder{store: store, log: slog.Default().With("component", "alert-log")}
}

func (r *alertRecorder) OnEvent(ev pipeline.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	switch ev.Type {
	case pipeline.EventAlert:
		err := r.store.RecordAlertEvent(ctx, &database.AlertEvent{
			ID:        ev.AlertID,
			TenantID:  ev.TenantID,
			CameraID:  ev.CameraID,
			RunID:     ev.RunID,
			AvgAbsent: ev.AvgAbsent,
			CreatedAt: ev.At,
		})
		if err != nil {
			r.log.Error("failed to record alert", "alert_id", ev.AlertID, "error", err)
		}
	case pipeline.EventNotification:
		if err := r.store.UpdateAlertNotification(ctx, ev.AlertID, ev.Outcome, ev.Error); err != nil {
			r.log.Error("failed to record notification outcome", "alert_id", ev.AlertID, "error", err)
		}
	}
}

// monitor exposes the controller to Telegram chat commands.
type monitor struct {
	ctrl *pipeline.Controller
}

func (m *monitor) Report() telegram.Report {
	st := m.ctrl.Status()
	rep := telegram.Report{
		Running:     st.Running,
		TenantID:    st.TenantID,
		Source:      st.Source,
		AlertStatus: string(st.AlertStatus),
		Presence:    string(st.Presence),
		AvgAbsent:   st.AvgAbsent,
		LastFrame:   m.ctrl.Broadcaster().LastFrameTime(),
	}
	if st.LastCapError != nil {
		rep.LastError = *st.LastCapError
	}
	return rep
}

func (m *monitor) Snapshot() ([]byte, bool) {
	if !m.ctrl.Running() {
		return nil, false
	}
	f, ok := m.ctrl.Broadcaster().Latest()
	if !ok {
		return nil, false
	}
	return f.Data, true
}
