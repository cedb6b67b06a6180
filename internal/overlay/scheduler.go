package overlay

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRefreshRate is the paint rate of the live feed in frames per second.
const DefaultRefreshRate = 30

// Scheduler signals the next opportunity to paint.
type Scheduler interface {
	C() <-chan time.Time
	Stop()
}

// RefreshScheduler ticks at a fixed refresh rate. Ticks that arrive while a
// cycle is still running are coalesced by the underlying ticker.
type RefreshScheduler struct {
	ticker *clock.Ticker
	period time.Duration
}

// NewRefreshScheduler starts ticking immediately. A nil clk uses wall time.
func NewRefreshScheduler(clk clock.Clock, fps float64) *RefreshScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if fps <= 0 {
		fps = DefaultRefreshRate
	}
	period := time.Duration(float64(time.Second) / fps)
	return &RefreshScheduler{
		ticker: clk.Ticker(period),
		period: period,
	}
}

func (s *RefreshScheduler) C() <-chan time.Time {
	return s.ticker.C
}

func (s *RefreshScheduler) Stop() {
	s.ticker.Stop()
}

// Period is the interval between refresh opportunities.
func (s *RefreshScheduler) Period() time.Duration {
	return s.period
}
