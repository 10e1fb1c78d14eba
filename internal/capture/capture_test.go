package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"":               KindDevice,
		"device":         KindDevice,
		"Webcam":         KindDevice,
		"file":           KindFile,
		"video":          KindFile,
		"network-stream": KindNetwork,
		" ipcam ":        KindNetwork,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("floppy")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "source", ce.Field)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"device ok", Config{Kind: KindDevice, Index: 2}, ""},
		{"negative index", Config{Kind: KindDevice, Index: -1}, "index"},
		{"file without path", Config{Kind: KindFile}, "path"},
		{"stream blank path", Config{Kind: KindNetwork, Path: "  "}, "path"},
		{"stream ok", Config{Kind: KindNetwork, Path: "rtsp://cam/1"}, ""},
		{"unknown kind", Config{Kind: "tape"}, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLocator(t *testing.T) {
	assert.Equal(t, "device:3", Config{Kind: KindDevice, Index: 3}.Locator())
	assert.Equal(t, "/srv/clip.mp4", Config{Kind: KindFile, Path: "/srv/clip.mp4"}.Locator())
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2, p.LoopRewindAfter)
	assert.Equal(t, 15, p.ReopenAfter)
}
