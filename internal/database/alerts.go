package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AlertEvent is one transition into ALERT and what happened to its
// notification.
type AlertEvent struct {
	ID                string     `json:"id"`
	TenantID          int64      `json:"masjid_id"`
	CameraID          string     `json:"camera_id"`
	RunID             string     `json:"run_id"`
	AvgAbsent         float64    `json:"avg_absent"`
	Notification      string     `json:"notification"`
	NotificationError string     `json:"notification_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
}

// RecordAlertEvent stores a new alert with a pending notification.
func (d *Database) RecordAlertEvent(ctx context.Context, ev *AlertEvent) error {
	if ev.Notification == "" {
		ev.Notification = "pending"
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO alert_events (id, masjid_id, camera_id, run_id, avg_absent, notification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, ev.ID, ev.TenantID, ev.CameraID, ev.RunID, ev.AvgAbsent, ev.Notification, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record alert event: %w", err)
	}
	return nil
}

// UpdateAlertNotification records the dispatch outcome of an alert.
func (d *Database) UpdateAlertNotification(ctx context.Context, id, outcome, errMsg string) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE alert_events SET notification = ?, notification_error = ?, notified_at = ? WHERE id = ?",
		outcome, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update alert notification: %w", err)
	}
	return nil
}

// ListAlertEvents returns a tenant's most recent alerts, newest first.
func (d *Database) ListAlertEvents(ctx context.Context, tenantID int64, limit int) ([]*AlertEvent, error) {
	query := `SELECT id, masjid_id, camera_id, run_id, avg_absent, notification, notification_error, created_at, notified_at
		FROM alert_events WHERE masjid_id = ? ORDER BY created_at DESC, id`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []*AlertEvent
	for rows.Next() {
		var ev AlertEvent
		var notified sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.CameraID, &ev.RunID, &ev.AvgAbsent,
			&ev.Notification, &ev.NotificationError, &ev.CreatedAt, &notified); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		if notified.Valid {
			t := notified.Time
			ev.NotifiedAt = &t
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
