package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kotakwatch/internal/capture"
)

// Camera statuses written by the capture controller.
const (
	CameraRunning = "running"
	CameraStopped = "stopped"
)

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID       string
	TenantID int64
	Name     string
	// Source is the legacy webcam/video/ipcam kind.
	Source    string
	Index     int
	Path      string
	Loop      bool
	Status    string
	CreatedAt time.Time
}

// CaptureConfig converts the record into a capture config.
func (c *CameraRecord) CaptureConfig() (capture.Config, error) {
	kind, err := capture.ParseKind(c.Source)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		Kind:     kind,
		Index:    c.Index,
		Path:     c.Path,
		Loop:     c.Loop,
		TenantID: c.TenantID,
		CameraID: c.ID,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(ctx context.Context, cam *CameraRecord) error {
	return saveCamera(ctx, d.db, cam, time.Now().UTC())
}

func saveCamera(ctx context.Context, db execer, cam *CameraRecord, now time.Time) error {
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = now
	}
	if cam.Status == "" {
		cam.Status = CameraStopped
	}
	query := `INSERT INTO cameras (id, masjid_id, name, source, device_index, path, loop, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			device_index = excluded.device_index,
			path = excluded.path,
			loop = excluded.loop`

	_, err := db.ExecContext(ctx, query, cam.ID, cam.TenantID, cam.Name, cam.Source, cam.Index, cam.Path,
		boolToInt(cam.Loop), cam.Status, cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

const cameraColumns = `id, masjid_id, name, source, device_index, path, loop, status, created_at`

// GetCamera retrieves a camera by ID. It returns nil when none exists.
func (d *Database) GetCamera(ctx context.Context, id string) (*CameraRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id)
	return scanCamera(row)
}

// FirstCamera returns the tenant's oldest camera, or nil when it has none.
func (d *Database) FirstCamera(ctx context.Context, tenantID int64) (*CameraRecord, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+cameraColumns+` FROM cameras WHERE masjid_id = ? ORDER BY created_at, id LIMIT 1`, tenantID)
	return scanCamera(row)
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(ctx context.Context, id, status string) error {
	_, err := d.db.ExecContext(ctx, "UPDATE cameras SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(s scanner) (*CameraRecord, error) {
	var cam CameraRecord
	var loop int
	err := s.Scan(&cam.ID, &cam.TenantID, &cam.Name, &cam.Source, &cam.Index, &cam.Path, &loop, &cam.Status, &cam.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan camera: %w", err)
	}
	cam.Loop = loop == 1
	return &cam, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
