package overlay

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestRefreshSchedulerPeriod(t *testing.T) {
	mock := clock.NewMock()

	s := NewRefreshScheduler(mock, 10)
	defer s.Stop()
	assert.Equal(t, 100*time.Millisecond, s.Period())

	d := NewRefreshScheduler(mock, 0)
	defer d.Stop()
	assert.Equal(t, time.Second/DefaultRefreshRate, d.Period())
}

func TestRefreshSchedulerTicks(t *testing.T) {
	mock := clock.NewMock()
	s := NewRefreshScheduler(mock, 10)

	mock.Add(100 * time.Millisecond)
	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("no tick after one period")
	}

	s.Stop()
	mock.Add(time.Second)
	select {
	case <-s.C():
		t.Fatal("tick after Stop")
	case <-time.After(20 * time.Millisecond):
	}
}
