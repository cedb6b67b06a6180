package dashboard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/insight"
	"github.com/nexus-edge/edge-dashboard/internal/overlay"
	"github.com/nexus-edge/edge-dashboard/internal/simulator"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr string

	// Live feed
	CameraURL    string // MJPEG camera; empty uses the synthetic pattern
	CameraWidth  int
	CameraHeight int
	RefreshRate  float64
	JPEGQuality  int

	// Overlay
	Accent   string
	FontSize float64

	// Inputs
	Simulate    bool
	SimInterval time.Duration
	DropDir     string // Detection batch drop directory; empty disables
	HistorySize int

	// Deep analysis
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	AnalyzeTimeout  time.Duration
	AnalyzeInterval time.Duration

	// Push
	STUNServers      []string
	MaxWebRTCClients int
	KeepAlive        time.Duration
}

// DefaultConfig returns a config matching the stock dashboard.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		CameraWidth:      camera.DefaultWidth,
		CameraHeight:     camera.DefaultHeight,
		RefreshRate:      overlay.DefaultRefreshRate,
		JPEGQuality:      insight.DefaultJPEGQuality,
		Accent:           overlay.DefaultAccent,
		FontSize:         12,
		Simulate:         true,
		SimInterval:      simulator.DefaultInterval,
		HistorySize:      21,
		GeminiModel:      insight.DefaultGeminiModel,
		GeminiBaseURL:    insight.DefaultGeminiBaseURL,
		AnalyzeTimeout:   20 * time.Second,
		AnalyzeInterval:  5 * time.Second,
		STUNServers:      []string{"stun:stun.l.google.com:19302"},
		MaxWebRTCClients: 4,
		KeepAlive:        30 * time.Second,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// LoadEnv overrides cfg from EDGE_* variables and the Gemini key variables.
// Unset variables leave the field untouched.
func LoadEnv(cfg *Config) error {
	cfg.Addr = getEnv("EDGE_ADDR", cfg.Addr)
	cfg.CameraURL = getEnv("EDGE_CAMERA_URL", cfg.CameraURL)
	cfg.Accent = getEnv("EDGE_ACCENT", cfg.Accent)
	cfg.DropDir = getEnv("EDGE_DROP_DIR", cfg.DropDir)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiBaseURL = getEnv("GEMINI_BASE_URL", cfg.GeminiBaseURL)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", getEnv("API_KEY", cfg.GeminiAPIKey))

	if v := os.Getenv("EDGE_STUN_SERVERS"); v != "" {
		cfg.STUNServers = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"EDGE_CAMERA_WIDTH", &cfg.CameraWidth},
		{"EDGE_CAMERA_HEIGHT", &cfg.CameraHeight},
		{"EDGE_JPEG_QUALITY", &cfg.JPEGQuality},
		{"EDGE_HISTORY_SIZE", &cfg.HistorySize},
		{"EDGE_MAX_WEBRTC_CLIENTS", &cfg.MaxWebRTCClients},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"EDGE_REFRESH_RATE", &cfg.RefreshRate},
		{"EDGE_FONT_SIZE", &cfg.FontSize},
	}
	for _, e := range floats {
		if v := os.Getenv(e.key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = f
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"EDGE_SIM_INTERVAL", &cfg.SimInterval},
		{"EDGE_ANALYZE_TIMEOUT", &cfg.AnalyzeTimeout},
		{"EDGE_ANALYZE_INTERVAL", &cfg.AnalyzeInterval},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = d
		}
	}

	if v := os.Getenv("EDGE_SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EDGE_SIMULATE: %w", err)
		}
		cfg.Simulate = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
