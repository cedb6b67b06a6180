package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePaint(t *testing.T) {
	m := New()
	m.ObservePaint(1500*time.Microsecond, 3, true)
	m.ObservePaint(500*time.Microsecond, 2, false)

	assert.Equal(t, uint64(2), m.PaintCycles.Load())
	assert.Equal(t, uint64(5), m.DetectionsPainted.Load())
	assert.Equal(t, uint64(1), m.SurfaceResizes.Load())
	assert.Equal(t, uint64(500), m.PaintLatencyUs.Load())
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.SkippedCycles.Add(4)
	m.StreamClients.Add(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "dashboard_paint_cycles_skipped_total 4")
	assert.Contains(t, string(body), "dashboard_stream_clients 2")
}
