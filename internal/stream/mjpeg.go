package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultPollInterval is how often a stream reader checks for a new frame.
const DefaultPollInterval = 20 * time.Millisecond

// MJPEGHandler serves the latest frames as multipart/x-mixed-replace.
type MJPEGHandler struct {
	b        *Broadcaster
	interval time.Duration
	// active, when set, ends the stream once it returns false.
	active func() bool
	log    *slog.Logger
}

// NewMJPEGHandler creates a stream handler over b. active may be nil.
func NewMJPEGHandler(b *Broadcaster, active func() bool) *MJPEGHandler {
	return &MJPEGHandler{
		b:        b,
		interval: DefaultPollInterval,
		active:   active,
		log:      slog.Default().With("component", "mjpeg"),
	}
}

// ServeHTTP streams until the client disconnects or the session stops. A
// frame is written only when its sequence number is newer than the last
// one sent, and nothing is written before the first frame.
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug("client connected", "remote", r.RemoteAddr)
	defer h.log.Debug("client disconnected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		if h.active != nil && !h.active() {
			return
		}

		if f, ok := h.b.Latest(); ok && f.Seq > lastSeq {
			if err := writePart(w, f.Data); err != nil {
				return
			}
			flusher.Flush()
			lastSeq = f.Seq
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// SnapshotHandler serves the latest frame as a single JPEG.
type SnapshotHandler struct {
	b *Broadcaster
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(b *Broadcaster) *SnapshotHandler {
	return &SnapshotHandler{b: b}
}

// ServeHTTP writes 204 when nothing has been published yet.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, ok := h.b.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(f.Data)
}
