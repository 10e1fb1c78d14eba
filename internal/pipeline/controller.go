// Package pipeline runs the capture → detect → debounce → dispatch/publish
// loop for the single active capture session and reports its state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kotakwatch/internal/alert"
	"kotakwatch/internal/capture"
	"kotakwatch/internal/detection"
	"kotakwatch/internal/metrics"
	"kotakwatch/internal/presence"
	"kotakwatch/internal/roi"
	"kotakwatch/internal/stream"
)

const (
	// roiPollEvery is how many processed frames pass between ROI mtime checks.
	roiPollEvery = 30

	dispatchTimeout     = 30 * time.Second
	cameraStatusTimeout = 5 * time.Second
)

var (
	// ErrCaptureDisabled is returned by Start when capture is switched off.
	ErrCaptureDisabled = errors.New("capture disabled")
	// ErrBackendUnavailable is returned by Start when no decoder backend can
	// open sources.
	ErrBackendUnavailable = errors.New("capture backend unavailable")
	// ErrNotRunning is returned to stream readers when no session is active.
	ErrNotRunning = errors.New("capture not running")
)

// CameraStatusRecorder persists a camera's running/stopped state.
type CameraStatusRecorder interface {
	UpdateCameraStatus(ctx context.Context, cameraID, status string) error
}

// Deps are the controller's collaborators. Only Opener and Broadcaster are
// required; every other field has an absent variant.
type Deps struct {
	Opener capture.Opener
	Policy capture.Policy

	// Detector nil means every frame counts as present.
	Detector         detection.Detector
	Filter           detection.Filter
	InferEvery       int
	DetectorRequired bool

	ROI      *roi.Store
	Presence presence.Config

	Dispatcher  *alert.Dispatcher
	Broadcaster *stream.Broadcaster
	Annotator   *stream.Annotator
	Events      *EventBus
	Cameras     CameraStatusRecorder
	Metrics     *metrics.Metrics

	CaptureDisabled bool
}

// StartResult describes what Start did.
type StartResult struct {
	AlreadyRunning bool
	RunID          string
	TenantID       int64
	Source         string
}

// Status is the externally visible session state.
type Status struct {
	Running      bool            `json:"running"`
	StreamReady  bool            `json:"stream_ready"`
	LastFrameTS  *float64        `json:"last_frame_ts"`
	LastCapError *string         `json:"last_cap_error"`
	AlertStatus  presence.Flag   `json:"alert_status"`
	Presence     presence.Status `json:"presence"`
	AvgAbsent    float64         `json:"avg_absent"`
	Source       string          `json:"source"`
	Index        int             `json:"index"`
	Path         string          `json:"path"`
	Loop         bool            `json:"loop"`
	TenantID     int64           `json:"masjid_id"`
	CameraID     string          `json:"camera_id"`
	RunID        string          `json:"run_id"`
	Frames       uint64          `json:"frames"`
	Reopens      uint64          `json:"reopens"`
	Detector     string          `json:"detector"`
}

// Controller owns the run flag and the only active capture session.
type Controller struct {
	deps Deps
	log  *slog.Logger

	running atomic.Bool

	// mu guards the fields below. It is never held across I/O.
	mu        sync.RWMutex
	cfg       capture.Config
	runID     string
	cancel    context.CancelFunc
	done      chan struct{}
	sess      *capture.Session
	runErr    error
	status    presence.Status
	avgAbsent float64
	frames    uint64

	workers    sync.WaitGroup
	dispatches sync.WaitGroup
}

// NewController builds an idle controller.
func NewController(deps Deps) *Controller {
	if deps.Broadcaster == nil {
		deps.Broadcaster = stream.NewBroadcaster()
	}
	if deps.Annotator == nil {
		deps.Annotator = stream.NewAnnotator()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Policy == (capture.Policy{}) {
		deps.Policy = capture.DefaultPolicy()
	}
	if deps.Presence == (presence.Config{}) {
		deps.Presence = presence.DefaultConfig()
	}
	return &Controller{
		deps:   deps,
		log:    slog.Default().With("component", "pipeline"),
		status: presence.StatusNormal,
	}
}

// Broadcaster returns the frame buffer stream readers poll.
func (c *Controller) Broadcaster() *stream.Broadcaster { return c.deps.Broadcaster }

// Running reports whether a session is active.
func (c *Controller) Running() bool { return c.running.Load() }

// CaptureEnabled reports whether Start may launch runs at all.
func (c *Controller) CaptureEnabled() bool { return !c.deps.CaptureDisabled }

// BackendError returns why the capture backend cannot open sources, or nil.
func (c *Controller) BackendError() error {
	if c.deps.Opener == nil {
		return ErrBackendUnavailable
	}
	if p, ok := c.deps.Opener.(capture.Prober); ok {
		return p.Available()
	}
	return nil
}

// DetectorHealth names the configured detector and probes it. A missing
// detector reports "none" and false.
func (c *Controller) DetectorHealth(ctx context.Context) (string, bool) {
	if c.deps.Detector == nil {
		return "none", false
	}
	return c.deps.Detector.Name(), c.deps.Detector.Healthy(ctx)
}

// Start launches a capture run for cfg. Starting while a run is active is a
// no-op success.
func (c *Controller) Start(ctx context.Context, cfg capture.Config) (StartResult, error) {
	if c.deps.CaptureDisabled {
		return StartResult{}, ErrCaptureDisabled
	}
	if c.deps.Opener == nil {
		return StartResult{}, ErrBackendUnavailable
	}
	if p, ok := c.deps.Opener.(capture.Prober); ok {
		if err := p.Available(); err != nil {
			return StartResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return StartResult{}, err
	}

	c.mu.Lock()
	if c.running.Load() {
		res := StartResult{AlreadyRunning: true, RunID: c.runID, TenantID: c.cfg.TenantID, Source: c.cfg.Kind.LegacyName()}
		c.mu.Unlock()
		return res, nil
	}

	runID := uuid.NewString()
	prev := c.done
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.deps.Broadcaster.Reset()
	c.cfg = cfg
	c.runID = runID
	c.cancel = cancel
	c.done = done
	c.sess = nil
	c.runErr = nil
	c.status = presence.StatusNormal
	c.avgAbsent = 0
	c.frames = 0
	c.running.Store(true)
	c.workers.Add(1)
	c.mu.Unlock()

	c.deps.Metrics.SetRunning(true)
	c.deps.Metrics.SetPresence(false, 0)
	c.log.Info("capture run starting", "run_id", runID, "masjid_id", cfg.TenantID, "source", cfg.Kind, "locator", cfg.Locator(), "loop", cfg.Loop)

	go c.run(runCtx, runID, cfg, prev, done)

	running := true
	c.deps.Events.Publish(Event{Type: EventRun, TenantID: cfg.TenantID, CameraID: cfg.CameraID, RunID: runID, Running: &running})
	return StartResult{RunID: runID, TenantID: cfg.TenantID, Source: cfg.Kind.LegacyName()}, nil
}

// Stop clears the run flag and cancels the worker. It reports whether a run
// was active. The worker exits asynchronously; use Wait to join it.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	was := c.running.Swap(false)
	if c.cancel != nil {
		c.cancel()
	}
	runID, cfg := c.runID, c.cfg
	c.mu.Unlock()

	if was {
		c.deps.Metrics.SetRunning(false)
		c.log.Info("capture run stopping", "run_id", runID)
		running := false
		c.deps.Events.Publish(Event{Type: EventRun, TenantID: cfg.TenantID, CameraID: cfg.CameraID, RunID: runID, Running: &running})
	}
	return was
}

// Wait blocks until the worker and all in-flight notifications finish or
// ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		c.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a consistent copy of the session state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Running:     c.running.Load(),
		StreamReady: c.deps.Broadcaster.Ready(),
		AlertStatus: presence.FlagFor(c.status),
		Presence:    c.status,
		AvgAbsent:   c.avgAbsent,
		Source:      c.cfg.Kind.LegacyName(),
		Index:       c.cfg.Index,
		Path:        c.cfg.Path,
		Loop:        c.cfg.Loop,
		TenantID:    c.cfg.TenantID,
		CameraID:    c.cfg.CameraID,
		RunID:       c.runID,
		Frames:      c.frames,
		Detector:    "none",
	}
	if c.deps.Detector != nil {
		st.Detector = c.deps.Detector.Name()
	}
	if at := c.deps.Broadcaster.LastFrameTime(); !at.IsZero() {
		ts := float64(at.UnixNano()) / 1e9
		st.LastFrameTS = &ts
	}

	lastErr := c.runErr
	if c.sess != nil {
		st.Reopens = c.sess.Reopens()
		if lastErr == nil && c.sess.State() != capture.StateReading {
			lastErr = c.sess.LastError()
		}
	}
	if lastErr != nil {
		msg := lastErr.Error()
		st.LastCapError = &msg
	}
	return st
}

// runState is owned by the worker goroutine.
type runState struct {
	id  string
	cfg capture.Config
	log *slog.Logger

	inf *detection.Inference
	deb *presence.Debouncer

	roi      *roi.ROI
	roiMTime time.Time

	frames      uint64
	seenFails   uint64
	seenReopens uint64
}

func (c *Controller) run(ctx context.Context, runID string, cfg capture.Config, prev <-chan struct{}, done chan struct{}) {
	defer c.workers.Done()
	defer close(done)

	log := c.log.With("run_id", runID, "masjid_id", cfg.TenantID)

	// The previous worker must release its source before this one opens.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			c.finish(runID, nil)
			return
		}
	}

	if det := c.deps.Detector; c.deps.DetectorRequired && (det == nil || !det.Healthy(ctx)) {
		log.Error("detector required but unavailable")
		c.finish(runID, detection.ErrUnavailable)
		return
	}

	sess := capture.NewSession(c.deps.Opener, cfg, c.deps.Policy)
	defer sess.Close()
	if !c.attach(runID, sess) {
		return
	}

	frame, err := sess.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.finish(runID, nil)
			return
		}
		log.Error("capture failed to start", "error", err)
		c.finish(runID, err)
		return
	}

	c.recordCamera(cfg, "running")
	defer c.recordCamera(cfg, "stopped")

	st := &runState{
		id:  runID,
		cfg: cfg,
		log: log,
		inf: detection.NewInference(c.deps.Detector, c.deps.Filter, c.deps.InferEvery),
		deb: presence.NewDebouncer(c.deps.Presence),
	}
	if c.deps.ROI != nil {
		_, st.roiMTime = c.deps.ROI.ChangedSince(time.Time{})
		st.roi = c.deps.ROI.Load()
	}

	for {
		if !c.running.Load() || ctx.Err() != nil {
			break
		}
		if !c.process(ctx, st, sess, frame) {
			break
		}
		frame, err = sess.Next(ctx)
		c.syncCaptureMetrics(st, sess)
		if err != nil {
			break
		}
	}

	log.Info("capture run ended", "frames", st.frames, "reopens", sess.Reopens())
	c.finish(runID, nil)
}

// process handles one frame. It returns false when the run was superseded.
func (c *Controller) process(ctx context.Context, st *runState, sess *capture.Session, frame *capture.Frame) bool {
	started := time.Now()
	st.frames++
	c.deps.Metrics.FramesProcessed.Add(1)

	if st.frames%roiPollEvery == 0 && c.deps.ROI != nil {
		if changed, mt := c.deps.ROI.ChangedSince(st.roiMTime); changed {
			st.roiMTime = mt
			st.roi = c.deps.ROI.Load()
			st.log.Info("roi reloaded", "roi", st.roi)
		}
	}

	var rect image.Rectangle
	if st.roi != nil {
		if r, ok := st.roi.Pixels(frame.Width(), frame.Height()); ok {
			rect = r
		}
	}

	res, err := st.inf.Run(ctx, frame.Image, rect)
	if res.Inferred {
		c.deps.Metrics.Inferences.Add(1)
	}
	if err != nil {
		c.deps.Metrics.DetectionErrors.Add(1)
		st.log.Warn("detection failed, counting frame as present", "seq", frame.Seq, "error", err)
	}

	obs := st.deb.Observe(res.Present)

	jpeg, err := c.deps.Annotator.Annotate(frame.Image, rect, res.Detections, stream.HUD{
		Status:     string(obs.Status),
		AvgAbsent:  obs.AvgAbsent,
		Detections: len(res.Detections),
	})
	if err != nil {
		st.log.Warn("frame encode failed", "seq", frame.Seq, "error", err)
	}

	c.mu.Lock()
	if c.runID != st.id {
		c.mu.Unlock()
		return false
	}
	if len(jpeg) > 0 {
		c.deps.Broadcaster.Publish(jpeg)
	}
	c.status = obs.Status
	c.avgAbsent = obs.AvgAbsent
	c.frames = st.frames
	c.mu.Unlock()

	if len(jpeg) > 0 {
		c.deps.Metrics.FramesPublished.Add(1)
	}
	c.deps.Metrics.SetPresence(presence.FlagFor(obs.Status) == presence.FlagMissing, obs.AvgAbsent)
	c.deps.Metrics.UpdateProcessLatency(time.Since(started))

	if obs.Status != obs.Previous {
		st.log.Info("presence status changed", "from", obs.Previous, "to", obs.Status, "avg_absent", obs.AvgAbsent)
		c.deps.Events.Publish(Event{
			Type:        EventStatus,
			TenantID:    st.cfg.TenantID,
			CameraID:    st.cfg.CameraID,
			RunID:       st.id,
			Presence:    obs.Status,
			Previous:    obs.Previous,
			AlertStatus: presence.FlagFor(obs.Status),
			AvgAbsent:   obs.AvgAbsent,
			At:          frame.Timestamp,
		})
	}
	if obs.EnteredAlert {
		c.raiseAlert(st, obs, frame.Timestamp, jpeg)
	}
	return true
}

func (c *Controller) raiseAlert(st *runState, obs presence.Result, at time.Time, photo []byte) {
	alertID := uuid.NewString()
	st.log.Warn("object missing", "alert_id", alertID, "avg_absent", obs.AvgAbsent)

	base := Event{
		TenantID:    st.cfg.TenantID,
		CameraID:    st.cfg.CameraID,
		RunID:       st.id,
		AlertID:     alertID,
		Presence:    obs.Status,
		AlertStatus: presence.FlagMissing,
		AvgAbsent:   obs.AvgAbsent,
		At:          at,
	}
	ev := base
	ev.Type = EventAlert
	c.deps.Events.Publish(ev)

	if c.deps.Dispatcher == nil {
		return
	}
	n := alert.Notification{
		TenantID: st.cfg.TenantID,
		CameraID: st.cfg.CameraID,
		Photo:    photo,
		At:       at,
	}
	c.dispatches.Add(1)
	go func() {
		defer c.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		outcome, err := c.deps.Dispatcher.Dispatch(ctx, n)
		c.deps.Metrics.ObserveNotification(outcome.String())

		ev := base
		ev.Type = EventNotification
		ev.Outcome = outcome.String()
		if err != nil {
			ev.Error = err.Error()
		}
		c.deps.Events.Publish(ev)
	}()
}

// attach records sess as the current run's session. It returns false when
// the run was superseded before the source was opened.
func (c *Controller) attach(runID string, sess *capture.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != runID {
		return false
	}
	c.sess = sess
	return true
}

// finish marks the run as ended. A superseded run leaves state alone.
func (c *Controller) finish(runID string, err error) {
	c.mu.Lock()
	current := c.runID == runID
	if current {
		if err != nil {
			c.runErr = err
		}
		c.running.Store(false)
	}
	c.mu.Unlock()

	if current {
		c.deps.Metrics.SetRunning(false)
	}
}

func (c *Controller) syncCaptureMetrics(st *runState, sess *capture.Session) {
	if fails := sess.ReadFailures(); fails > st.seenFails {
		c.deps.Metrics.ReadFailures.Add(fails - st.seenFails)
		st.seenFails = fails
	}
	if reopens := sess.Reopens(); reopens > st.seenReopens {
		c.deps.Metrics.Reopens.Add(reopens - st.seenReopens)
		st.seenReopens = reopens
	}
}

func (c *Controller) recordCamera(cfg capture.Config, status string) {
	if c.deps.Cameras == nil || cfg.CameraID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cameraStatusTimeout)
	defer cancel()
	if err := c.deps.Cameras.UpdateCameraStatus(ctx, cfg.CameraID, status); err != nil {
		c.log.Warn("failed to record camera status", "camera_id", cfg.CameraID, "status", status, "error", err)
	}
}
