package insight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

var (
	// ErrNoFrame is returned when the camera has no frame to capture.
	ErrNoFrame = errors.New("no camera frame available")
	// ErrRateLimited is returned when analyses are requested faster than allowed.
	ErrRateLimited = errors.New("analysis rate limit exceeded")
)

// FrameSource provides the frame to analyze.
type FrameSource interface {
	Snapshot() (types.Frame, bool)
}

// AnalyzerConfig tunes capture size and request pacing.
type AnalyzerConfig struct {
	Timeout     time.Duration
	MinInterval time.Duration // Minimum spacing between model calls
	Burst       int
	MaxWidth    int
	MaxHeight   int
	Quality     int
}

// DefaultAnalyzerConfig returns the settings used by the dashboard.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Timeout:     20 * time.Second,
		MinInterval: 5 * time.Second,
		Burst:       2,
		MaxWidth:    1280,
		MaxHeight:   720,
		Quality:     DefaultJPEGQuality,
	}
}

// Fallback is the insight reported when the model cannot be reached.
func Fallback() types.SceneInsight {
	return types.SceneInsight{
		Summary:         "Autonomous reasoning failed. Falling back to local edge heuristics.",
		Anomalies:       []string{"API connection latency detected"},
		Recommendations: "Check system network link.",
		Degraded:        true,
	}
}

// Analyzer runs deep scene analysis. Concurrent callers share the in-flight
// request.
type Analyzer struct {
	model   Model
	cfg     AnalyzerConfig
	limiter *rate.Limiter
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewAnalyzer creates an analyzer. A nil model always answers with the
// fallback insight.
func NewAnalyzer(model Model, cfg AnalyzerConfig, m *metrics.Metrics) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Analyzer{
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		metrics: m,
	}
}

// Analyze captures the current frame, describes batch and asks the model for
// an insight. Model failures produce Fallback rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, src FrameSource, batch []types.Detection) (types.SceneInsight, error) {
	ch := a.group.DoChan("analyze", func() (any, error) {
		return a.run(context.WithoutCancel(ctx), src, batch)
	})
	select {
	case <-ctx.Done():
		return types.SceneInsight{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.SceneInsight{}, res.Err
		}
		if res.Shared {
			logger.Debug("Insight", "Joined in-flight analysis")
		}
		return res.Val.(types.SceneInsight), nil
	}
}

func (a *Analyzer) run(ctx context.Context, src FrameSource, batch []types.Detection) (types.SceneInsight, error) {
	if src == nil {
		return types.SceneInsight{}, ErrNoFrame
	}
	frame, ok := src.Snapshot()
	if !ok || frame.Image == nil {
		return types.SceneInsight{}, ErrNoFrame
	}
	// Only requests that can reach the model spend rate budget
	if !a.limiter.Allow() {
		return types.SceneInsight{}, ErrRateLimited
	}

	id := uuid.NewString()
	start := time.Now()

	insight, err := a.ask(ctx, frame, batch)
	if err != nil {
		logger.Warn("Insight", "Analysis %s failed after %v: %v", id, time.Since(start).Round(time.Millisecond), err)
		insight = Fallback()
		if a.metrics != nil {
			a.metrics.AnalysisFallback.Add(1)
		}
	} else {
		logger.Info("Insight", "Analysis %s completed in %v (%d anomalies)", id, time.Since(start).Round(time.Millisecond), len(insight.Anomalies))
	}
	if a.metrics != nil {
		a.metrics.Analyses.Add(1)
	}

	insight.RequestID = id
	insight.CreatedAt = time.Now()
	return insight, nil
}

func (a *Analyzer) ask(ctx context.Context, frame types.Frame, batch []types.Detection) (types.SceneInsight, error) {
	if a.model == nil {
		return types.SceneInsight{}, ErrNoAPIKey
	}
	img, err := EncodeFrame(frame.Image, a.cfg.MaxWidth, a.cfg.MaxHeight, a.cfg.Quality)
	if err != nil {
		return types.SceneInsight{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	insight, err := a.model.AnalyzeScene(ctx, img, Summarize(batch))
	if err != nil {
		return types.SceneInsight{}, fmt.Errorf("analyze scene: %w", err)
	}
	return insight, nil
}
