package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

type chanSink struct {
	telemetry  chan types.Telemetry
	detections chan []types.Detection
	err        error
}

func newChanSink() *chanSink {
	return &chanSink{
		telemetry:  make(chan types.Telemetry, 8),
		detections: make(chan []types.Detection, 8),
	}
}

func (s *chanSink) PublishTelemetry(t types.Telemetry) { s.telemetry <- t }
func (s *chanSink) PublishDetections(d []types.Detection) error {
	s.detections <- d
	return s.err
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		var zero T
		return zero
	}
}

func TestDetectionsWithinRanges(t *testing.T) {
	sim := New(newChanSink(), Config{Seed: 7})
	now := time.Unix(1700000000, 0)

	for range 200 {
		batch := sim.Detections(now)
		require.GreaterOrEqual(t, len(batch), 3)
		require.LessOrEqual(t, len(batch), 5)
		require.NoError(t, types.ValidateBatch(batch))

		for i, d := range batch {
			assert.Equal(t, "det-"+string(rune('0'+i)), d.ID)
			assert.Contains(t, Labels, d.Label)
			assert.True(t, d.Confidence >= 0.85 && d.Confidence < 0.99, "confidence %v", d.Confidence)
			assert.True(t, d.BBox.X >= 100 && d.BBox.X < 400)
			assert.True(t, d.BBox.Y >= 100 && d.BBox.Y < 300)
			assert.True(t, d.BBox.Width >= 50 && d.BBox.Width < 150)
			assert.True(t, d.BBox.Height >= 100 && d.BBox.Height < 250)
			assert.Equal(t, now, d.Timestamp)
		}
	}
}

func TestTelemetryWithinRanges(t *testing.T) {
	sim := New(newChanSink(), Config{Seed: 7})
	for range 200 {
		tm := sim.Telemetry(time.Now())
		assert.True(t, tm.GPUUsage >= 45 && tm.GPUUsage < 85)
		assert.True(t, tm.CPUUsage >= 20 && tm.CPUUsage < 50)
		assert.True(t, tm.RAMUsage >= 12.4 && tm.RAMUsage < 14.4)
		assert.True(t, tm.Temp >= 58 && tm.Temp < 68)
		assert.True(t, tm.FPS >= 28 && tm.FPS < 32)
		assert.Equal(t, types.StatusOnline, tm.Status)
	}
}

func TestSameSeedSameSequence(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(newChanSink(), Config{Seed: 42})
	b := New(newChanSink(), Config{Seed: 42})
	assert.Equal(t, a.Detections(now), b.Detections(now))
	assert.Equal(t, a.Telemetry(now), b.Telemetry(now))
}

func TestRunPublishesOnEveryTick(t *testing.T) {
	mock := clock.NewMock()
	sink := newChanSink()
	sim := New(sink, Config{Seed: 1, Clock: mock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	// immediate publish
	recv(t, sink.telemetry)
	recv(t, sink.detections)

	mock.Add(DefaultInterval)
	tm := recv(t, sink.telemetry)
	assert.Equal(t, mock.Now(), tm.Timestamp)
	recv(t, sink.detections)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunKeepsGoingWhenSinkRejects(t *testing.T) {
	mock := clock.NewMock()
	sink := newChanSink()
	sink.err = errors.New("rejected")
	sim := New(sink, Config{Seed: 1, Clock: mock, Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sim.Run(ctx) }()

	recv(t, sink.detections)
	mock.Add(time.Second)
	recv(t, sink.detections)
}
