package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EDGE_ADDR", ":9090")
	t.Setenv("EDGE_CAMERA_WIDTH", "640")
	t.Setenv("EDGE_REFRESH_RATE", "15")
	t.Setenv("EDGE_SIM_INTERVAL", "500ms")
	t.Setenv("EDGE_SIMULATE", "false")
	t.Setenv("EDGE_STUN_SERVERS", "stun:a.example:3478, ,stun:b.example:3478")
	t.Setenv("API_KEY", "fallback-key")

	cfg := DefaultConfig()
	require.NoError(t, LoadEnv(&cfg))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 640, cfg.CameraWidth)
	assert.Equal(t, 720, cfg.CameraHeight)
	assert.Equal(t, 15.0, cfg.RefreshRate)
	assert.Equal(t, 500*time.Millisecond, cfg.SimInterval)
	assert.False(t, cfg.Simulate)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.STUNServers)
	assert.Equal(t, "fallback-key", cfg.GeminiAPIKey)
}

func TestLoadEnvPrefersGeminiKey(t *testing.T) {
	t.Setenv("API_KEY", "fallback-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg := DefaultConfig()
	require.NoError(t, LoadEnv(&cfg))
	assert.Equal(t, "gemini-key", cfg.GeminiAPIKey)
}

func TestLoadEnvRejectsMalformed(t *testing.T) {
	for key, val := range map[string]string{
		"EDGE_JPEG_QUALITY":    "high",
		"EDGE_FONT_SIZE":       "big",
		"EDGE_ANALYZE_TIMEOUT": "20",
		"EDGE_SIMULATE":        "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			cfg := DefaultConfig()
			err := LoadEnv(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
