// Package simulator produces mock telemetry and detection batches for running
// the dashboard without an inference pipeline.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// DefaultInterval matches the refresh period of the dashboard widgets.
const DefaultInterval = 2 * time.Second

// Labels are the object classes the mock detector reports.
var Labels = []string{"Person", "Pallet", "Forklift", "Safety Vest"}

// Sink receives simulated samples.
type Sink interface {
	PublishTelemetry(types.Telemetry)
	PublishDetections([]types.Detection) error
}

// Config controls the generators.
type Config struct {
	Interval time.Duration
	Seed     uint64 // 0 picks a random seed
	Clock    clock.Clock
}

// Simulator periodically publishes telemetry and a fresh detection batch.
type Simulator struct {
	sink     Sink
	interval time.Duration
	clk      clock.Clock
	rng      *rand.Rand
}

// New creates a simulator publishing to sink.
func New(sink Sink, cfg Config) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		sink:     sink,
		interval: cfg.Interval,
		clk:      cfg.Clock,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run publishes once immediately and then on every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	logger.Info("Simulator", "Publishing mock telemetry and detections every %v", s.interval)
	s.publish()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Simulator", "Stopped")
			return nil
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *Simulator) publish() {
	now := s.clk.Now()
	s.sink.PublishTelemetry(s.Telemetry(now))
	if err := s.sink.PublishDetections(s.Detections(now)); err != nil {
		logger.Warn("Simulator", "Detection batch rejected: %v", err)
	}
}

// Telemetry draws one device sample.
func (s *Simulator) Telemetry(now time.Time) types.Telemetry {
	r := s.rng
	return types.Telemetry{
		GPUUsage:  45 + r.Float64()*40,
		CPUUsage:  20 + r.Float64()*30,
		RAMUsage:  12.4 + r.Float64()*2,
		Temp:      58 + r.Float64()*10,
		FPS:       28 + r.Float64()*4,
		Status:    types.StatusOnline,
		Timestamp: now,
	}
}

// Detections draws a batch of 3 to 5 detections sharing one timestamp.
func (s *Simulator) Detections(now time.Time) []types.Detection {
	r := s.rng
	n := 3 + r.IntN(3)
	batch := make([]types.Detection, n)
	for i := range batch {
		batch[i] = types.Detection{
			ID:         fmt.Sprintf("det-%d", i),
			Label:      Labels[r.IntN(len(Labels))],
			Confidence: 0.85 + r.Float64()*0.14,
			BBox: types.BoundingBox{
				X:      100 + r.Float64()*300,
				Y:      100 + r.Float64()*200,
				Width:  50 + r.Float64()*100,
				Height: 100 + r.Float64()*150,
			},
			Timestamp: now,
		}
	}
	return batch
}
