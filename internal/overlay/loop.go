package overlay

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// ErrLoopStarted is returned by Start on a loop that was already started or stopped.
var ErrLoopStarted = errors.New("overlay loop already started")

// skipLogEvery rate-limits the "surface unavailable" debug line.
const skipLogEvery = 100

// Cycle is handed to the OnPaint hook after every successful paint.
type Cycle struct {
	Seq        uint64
	Width      int
	Height     int
	Resized    bool
	Detections []types.Detection // Read-only
	Overlay    image.Image       // Valid only during the hook call
	PaintedAt  time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithMetrics records cycle counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithOnPaint installs a hook run synchronously on the loop goroutine after
// each paint. The hook must not call Stop.
func WithOnPaint(fn func(Cycle)) Option {
	return func(l *Loop) { l.onPaint = fn }
}

// Loop repaints the latest detection batch on every scheduler tick until it
// is stopped. Cycles run on a single goroutine and never overlap.
type Loop struct {
	renderer *Renderer
	source   FrameSource
	sched    Scheduler
	metrics  *metrics.Metrics
	onPaint  func(Cycle)

	batch atomic.Pointer[[]types.Detection]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the loop goroutine
	seq     uint64
	skipped int
}

// NewLoop wires a renderer to its frame source and refresh scheduler.
func NewLoop(renderer *Renderer, source FrameSource, sched Scheduler, opts ...Option) *Loop {
	l := &Loop{
		renderer: renderer,
		source:   source,
		sched:    sched,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Update replaces the batch wholesale. The loop sees either the previous
// batch or this one, never a mix.
func (l *Loop) Update(batch []types.Detection) {
	cp := types.CloneBatch(batch)
	l.batch.Store(&cp)
}

// Batch returns a copy of the batch the next cycle will paint.
func (l *Loop) Batch() []types.Detection {
	return types.CloneBatch(l.current())
}

func (l *Loop) current() []types.Detection {
	p := l.batch.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Start paints once immediately and then once per scheduler tick until ctx
// is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrLoopStarted
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
	return nil
}

// Stop cancels the loop and waits for the running cycle to finish. No cycle
// runs after Stop returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.sched.Stop()
		close(l.done)
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.sched.Stop()

	logger.Debug("Overlay", "Paint loop started")
	l.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Overlay", "Paint loop stopped after %d cycles", l.seq)
			return
		case <-l.sched.C():
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	batch := l.current()
	start := time.Now()

	res, err := l.renderer.Paint(l.source, batch)
	if err != nil {
		l.skipped++
		if l.metrics != nil {
			l.metrics.SkippedCycles.Add(1)
		}
		if l.skipped == 1 || l.skipped%skipLogEvery == 0 {
			logger.Debug("Overlay", "Surface unavailable, skipping paint (skipped %d cycles)", l.skipped)
		}
		return
	}

	if l.skipped > 0 {
		logger.Info("Overlay", "Frame source available at %dx%d after %d skipped cycles", res.Width, res.Height, l.skipped)
		l.skipped = 0
	}
	if res.Resized {
		logger.Debug("Overlay", "Surface resized to %dx%d", res.Width, res.Height)
	}

	l.seq++
	if l.metrics != nil {
		l.metrics.ObservePaint(time.Since(start), res.Painted, res.Resized)
	}

	if l.onPaint == nil || ctx.Err() != nil {
		return
	}
	l.onPaint(Cycle{
		Seq:        l.seq,
		Width:      res.Width,
		Height:     res.Height,
		Resized:    res.Resized,
		Detections: batch,
		Overlay:    l.renderer.Surface().Image(),
		PaintedAt:  start,
	})
}
