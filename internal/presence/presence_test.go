package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(d *Debouncer, present bool, n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = d.Observe(present)
	}
	return out
}

func TestSingleMissDoesNotChangeStatus(t *testing.T) {
	d := NewDebouncer(DefaultConfig())
	feed(d, true, 24)

	r := d.Observe(false)
	assert.True(t, r.Present, "grace absorbs a transient miss")
	assert.Equal(t, StatusNormal, r.Status)
	assert.Zero(t, r.AvgAbsent)
	assert.Equal(t, FlagPresent, d.Flag())
}

func TestSustainedAbsenceReachesAlertOnce(t *testing.T) {
	d := NewDebouncer(DefaultConfig())
	feed(d, true, 24)

	results := feed(d, false, 40)

	// misses 1..10 are inside the grace period
	for i := 0; i < 10; i++ {
		assert.True(t, results[i].Present, "miss %d", i+1)
	}
	assert.False(t, results[10].Present)

	assert.Equal(t, StatusNormal, results[18].Status, "19th miss")
	assert.Equal(t, StatusWarn, results[19].Status, "20th miss")
	assert.Equal(t, StatusWarn, results[25].Status, "26th miss")
	assert.Equal(t, StatusAlert, results[26].Status, "27th miss")
	assert.InDelta(t, 17.0/24.0, results[26].AvgAbsent, 1e-9)

	edges := 0
	for _, r := range results {
		if r.EnteredAlert {
			edges++
		}
	}
	assert.Equal(t, 1, edges, "staying in ALERT does not re-trigger")
	assert.Equal(t, FlagMissing, d.Flag())
}

func TestColdStartAbsence(t *testing.T) {
	d := NewDebouncer(DefaultConfig())
	results := feed(d, false, 27)

	assert.Equal(t, StatusAlert, results[26].Status)
	assert.True(t, results[26].EnteredAlert)
	assert.NotEqual(t, StatusAlert, results[25].Status)
}

func TestWarnIsNotMissing(t *testing.T) {
	d := NewDebouncer(DefaultConfig())
	feed(d, true, 24)
	results := feed(d, false, 20)

	require.Equal(t, StatusWarn, results[19].Status)
	assert.Equal(t, FlagPresent, d.Flag())
}

func TestRecoveryLeavesAlertAndReentryFiresAgain(t *testing.T) {
	cfg := Config{Window: 4, WarnThreshold: 0.5, AlertThreshold: 0.75, Grace: 0}
	d := NewDebouncer(cfg)

	results := feed(d, false, 4)
	assert.True(t, results[0].EnteredAlert, "a partial window averages what it holds")
	assert.False(t, results[3].EnteredAlert)

	results = feed(d, true, 4)
	assert.Equal(t, StatusAlert, results[0].Status)
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.Equal(t, StatusAlert, results[1].Previous)
	assert.Equal(t, StatusNormal, results[3].Status)

	results = feed(d, false, 3)
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.True(t, results[2].EnteredAlert)
}

func TestPresentSampleResetsMissingStreak(t *testing.T) {
	cfg := Config{Window: 24, WarnThreshold: 0.4, AlertThreshold: 0.7, Grace: 2}
	d := NewDebouncer(cfg)

	feed(d, false, 2)
	d.Observe(true)
	r := d.Observe(false)
	assert.True(t, r.Present, "streak restarted after a hit")
}

func TestReset(t *testing.T) {
	d := NewDebouncer(Config{Window: 2, WarnThreshold: 0.4, AlertThreshold: 0.7})
	feed(d, false, 2)
	require.Equal(t, StatusAlert, d.Status())

	d.Reset()
	assert.Equal(t, StatusNormal, d.Status())
	assert.Zero(t, d.AvgAbsent())

	r := d.Observe(true)
	assert.Equal(t, StatusNormal, r.Status)
	assert.False(t, r.EnteredAlert)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Window: 0, AlertThreshold: 0.7}.Validate())
	assert.Error(t, Config{Window: 4, WarnThreshold: 0.8, AlertThreshold: 0.7}.Validate())
	assert.Error(t, Config{Window: 4, AlertThreshold: 1.5}.Validate())
}
