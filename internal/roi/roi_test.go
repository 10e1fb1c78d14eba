package roi

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "roi_config.json"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	for _, r := range []ROI{
		{X: 0, Y: 0, W: 1, H: 1},
		{X: 0.25, Y: 0.1, W: 0.5, H: 0.3},
		{X: 0.9, Y: 0.9, W: 0.1, H: 0.1},
	} {
		require.NoError(t, s.Save(r))
		got := s.Load()
		require.NotNil(t, got)
		assert.Equal(t, r, *got)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	cases := map[string]ROI{
		"zero width":      {X: 0.1, Y: 0.1, W: 0, H: 0.5},
		"negative height": {X: 0.1, Y: 0.1, W: 0.5, H: -0.1},
		"x overflow":      {X: 0.6, Y: 0.1, W: 0.5, H: 0.5},
		"y overflow":      {X: 0.1, Y: 0.7, W: 0.2, H: 0.4},
		"out of range":    {X: -0.1, Y: 0, W: 0.5, H: 0.5},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Save(r)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Reason)
		})
	}
	assert.Nil(t, s.Load(), "rejected saves must not persist")
}

func TestLoadFailsSoft(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.Load(), "missing file")

	require.NoError(t, os.WriteFile(s.Path(), nil, 0o644))
	assert.Nil(t, s.Load(), "empty file")

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	assert.Nil(t, s.Load(), "malformed file")

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"x":0.8,"y":0,"w":0.5,"h":0.5}`), 0o644))
	assert.Nil(t, s.Load(), "invalid rectangle")
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Clear())

	require.NoError(t, s.Save(ROI{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	assert.Nil(t, s.Load())
}

func TestChangedSinceUsesModTimeOnly(t *testing.T) {
	s := newTestStore(t)

	changed, mtime := s.ChangedSince(time.Time{})
	assert.False(t, changed, "absent file keeps the zero mtime")
	assert.True(t, mtime.IsZero())

	require.NoError(t, s.Save(ROI{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}))
	changed, mtime = s.ChangedSince(mtime)
	require.True(t, changed)

	pinned := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(s.Path(), pinned, pinned))
	_, mtime = s.ChangedSince(mtime)

	// rewrite content but restore the old mtime
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"x":0.5,"y":0.5,"w":0.2,"h":0.2}`), 0o644))
	require.NoError(t, os.Chtimes(s.Path(), pinned, pinned))

	changed, _ = s.ChangedSince(mtime)
	assert.False(t, changed)

	require.NoError(t, s.Clear())
	changed, mtime = s.ChangedSince(mtime)
	assert.True(t, changed)
	assert.True(t, mtime.IsZero())
}

func TestPixels(t *testing.T) {
	rect, ok := ROI{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}.Pixels(640, 480)
	require.True(t, ok)
	assert.Equal(t, image.Rect(160, 240, 480, 360), rect)

	rect, ok = ROI{X: 0, Y: 0, W: 1, H: 1}.Pixels(640, 480)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 640, 480), rect)

	_, ok = ROI{X: 0.5, Y: 0.5, W: 0.001, H: 0.3}.Pixels(640, 480)
	assert.False(t, ok, "narrower than the minimum side")

	_, ok = ROI{X: 0, Y: 0, W: 1, H: 1}.Pixels(0, 480)
	assert.False(t, ok)
}
