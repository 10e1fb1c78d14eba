// Package presence turns per-frame presence samples into a smoothed
// NORMAL/WARN/ALERT status.
package presence

import "fmt"

// Status is the debounced alert state.
type Status string

const (
	StatusNormal Status = "NORMAL"
	StatusWarn   Status = "WARN"
	StatusAlert  Status = "ALERT"
)

// Flag is the binary, externally visible alert state.
type Flag string

const (
	FlagPresent Flag = "present"
	FlagMissing Flag = "missing"
)

// Config holds the debouncer parameters.
type Config struct {
	// Window is the number of samples averaged.
	Window int
	// WarnThreshold and AlertThreshold are compared against the mean
	// absence over the window.
	WarnThreshold  float64
	AlertThreshold float64
	// Grace is how many consecutive raw misses still count as present.
	Grace int
}

// DefaultConfig returns window 24, WARN at 0.40, ALERT at 0.70, grace 10.
func DefaultConfig() Config {
	return Config{Window: 24, WarnThreshold: 0.40, AlertThreshold: 0.70, Grace: 10}
}

// Validate checks the thresholds and sizes.
func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("presence window must be >= 1, got %d", c.Window)
	case c.Grace < 0:
		return fmt.Errorf("presence grace must be >= 0, got %d", c.Grace)
	case c.WarnThreshold < 0 || c.WarnThreshold > 1:
		return fmt.Errorf("warn threshold must be in [0,1], got %v", c.WarnThreshold)
	case c.AlertThreshold < 0 || c.AlertThreshold > 1:
		return fmt.Errorf("alert threshold must be in [0,1], got %v", c.AlertThreshold)
	case c.WarnThreshold > c.AlertThreshold:
		return fmt.Errorf("warn threshold %v above alert threshold %v", c.WarnThreshold, c.AlertThreshold)
	}
	return nil
}

// Result describes one observed frame.
type Result struct {
	// Present is the sample after the grace period was applied.
	Present   bool
	AvgAbsent float64
	Status    Status
	Previous  Status
	// EnteredAlert is set only on the frame that moves into ALERT.
	EnteredAlert bool
}

// Debouncer is not safe for concurrent use; the capture worker owns it.
type Debouncer struct {
	cfg Config

	ring   []uint8
	next   int
	filled int
	sum    int

	missingStreak int
	status        Status
	avg           float64
}

// NewDebouncer creates a debouncer in the NORMAL state. A zero Window falls
// back to the default.
func NewDebouncer(cfg Config) *Debouncer {
	if cfg.Window < 1 {
		cfg.Window = DefaultConfig().Window
	}
	return &Debouncer{cfg: cfg, ring: make([]uint8, cfg.Window), status: StatusNormal}
}

// Observe feeds one raw sample and returns the new status.
func (d *Debouncer) Observe(presentRaw bool) Result {
	if presentRaw {
		d.missingStreak = 0
	} else {
		d.missingStreak++
	}
	present := presentRaw || d.missingStreak <= d.cfg.Grace

	var sample uint8
	if !present {
		sample = 1
	}
	if d.filled == len(d.ring) {
		d.sum -= int(d.ring[d.next])
	} else {
		d.filled++
	}
	d.ring[d.next] = sample
	d.sum += int(sample)
	d.next = (d.next + 1) % len(d.ring)

	switch {
	case d.filled > 0:
		d.avg = float64(d.sum) / float64(d.filled)
	case present:
		d.avg = 0
	default:
		d.avg = 1
	}

	prev := d.status
	switch {
	case d.avg >= d.cfg.AlertThreshold:
		d.status = StatusAlert
	case d.avg >= d.cfg.WarnThreshold:
		d.status = StatusWarn
	default:
		d.status = StatusNormal
	}

	return Result{
		Present:      present,
		AvgAbsent:    d.avg,
		Status:       d.status,
		Previous:     prev,
		EnteredAlert: prev != StatusAlert && d.status == StatusAlert,
	}
}

// Status returns the current status.
func (d *Debouncer) Status() Status { return d.status }

// AvgAbsent returns the last computed mean absence.
func (d *Debouncer) AvgAbsent() float64 { return d.avg }

// Flag returns FlagMissing iff the status is ALERT.
func (d *Debouncer) Flag() Flag { return FlagFor(d.status) }

// FlagFor maps a status to the binary flag.
func FlagFor(s Status) Flag {
	if s == StatusAlert {
		return FlagMissing
	}
	return FlagPresent
}

// Reset empties the window and returns to NORMAL.
func (d *Debouncer) Reset() {
	for i := range d.ring {
		d.ring[i] = 0
	}
	d.next, d.filled, d.sum = 0, 0, 0
	d.missingStreak = 0
	d.status = StatusNormal
	d.avg = 0
}
