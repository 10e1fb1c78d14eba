package ws

import (
	"time"

	"kotakwatch/internal/pipeline"
)

// Message is the JSON pushed to websocket clients.
type Message struct {
	Type        string    `json:"type"` // "status", "alert", "notification", "run"
	MasjidID    int64     `json:"masjid_id"`
	CameraID    string    `json:"camera_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	AlertID     string    `json:"alert_id,omitempty"`
	Presence    string    `json:"presence,omitempty"`
	AlertStatus string    `json:"alert_status,omitempty"`
	AvgAbsent   float64   `json:"avg_absent"`
	Running     *bool     `json:"running,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMessage converts a pipeline event.
func NewMessage(ev pipeline.Event) *Message {
	return &Message{
		Type:        string(ev.Type),
		MasjidID:    ev.TenantID,
		CameraID:    ev.CameraID,
		RunID:       ev.RunID,
		AlertID:     ev.AlertID,
		Presence:    string(ev.Presence),
		AlertStatus: string(ev.AlertStatus),
		AvgAbsent:   ev.AvgAbsent,
		Running:     ev.Running,
		Outcome:     ev.Outcome,
		Error:       ev.Error,
		Timestamp:   ev.At,
	}
}
