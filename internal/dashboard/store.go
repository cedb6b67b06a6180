package dashboard

import (
	"sync"
	"time"

	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// Status is the JSON shape of /api/status.
type Status struct {
	Telemetry  *types.Telemetry       `json:"telemetry"`
	History    []types.TelemetryPoint `json:"history"`
	Detections types.DetectionEvent   `json:"detections"`
	Insight    *types.SceneInsight    `json:"insight"`
	Analyzing  bool                   `json:"analyzing"`
	Camera     CameraStatus           `json:"camera"`
	Uptime     float64                `json:"uptime_seconds"`
	Timestamp  float64                `json:"timestamp"`
}

// CameraStatus reports whether a stream is attached and its size.
type CameraStatus struct {
	Attached bool `json:"attached"`
	Width    int  `json:"width"`
	Height   int  `json:"height"`
}

// Store holds the latest dashboard state shared by the HTTP handlers.
type Store struct {
	startTime   time.Time
	historySize int

	mu         sync.Mutex
	telemetry  *types.Telemetry
	history    []types.TelemetryPoint
	detections types.DetectionEvent
	insight    *types.SceneInsight
	analyzing  int
}

// NewStore keeps at most historySize telemetry points.
func NewStore(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Store{
		startTime:   time.Now(),
		historySize: historySize,
		detections:  types.DetectionEvent{Detections: []types.Detection{}},
	}
}

// UpdateTelemetry stores the sample and appends it to the throughput history.
func (s *Store) UpdateTelemetry(t types.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.telemetry = &t
	s.history = append(s.history, types.TelemetryPoint{Time: t.Timestamp, GPU: t.GPUUsage, FPS: t.FPS})
	if len(s.history) > s.historySize {
		s.history = append([]types.TelemetryPoint(nil), s.history[len(s.history)-s.historySize:]...)
	}
}

// Telemetry returns the latest sample.
func (s *Store) Telemetry() (types.Telemetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.telemetry == nil {
		return types.Telemetry{}, false
	}
	return *s.telemetry, true
}

// History returns a copy of the throughput history, oldest first.
func (s *Store) History() []types.TelemetryPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TelemetryPoint{}, s.history...)
}

// UpdateDetections replaces the batch and bumps the version.
func (s *Store) UpdateDetections(batch []types.Detection, ts time.Time) types.DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	dets := types.CloneBatch(batch)
	if dets == nil {
		dets = []types.Detection{}
	}
	s.detections = types.DetectionEvent{
		Version:    s.detections.Version + 1,
		Timestamp:  ts,
		Detections: dets,
	}
	return s.detectionsLocked()
}

// Detections returns the latest versioned batch.
func (s *Store) Detections() types.DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectionsLocked()
}

func (s *Store) detectionsLocked() types.DetectionEvent {
	ev := s.detections
	ev.Detections = types.CloneBatch(ev.Detections)
	return ev
}

func (s *Store) SetInsight(in types.SceneInsight) {
	s.mu.Lock()
	s.insight = &in
	s.mu.Unlock()
}

func (s *Store) Insight() (types.SceneInsight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insight == nil {
		return types.SceneInsight{}, false
	}
	return *s.insight, true
}

// BeginAnalysis marks an analysis request in progress; call the returned
// func when it finishes.
func (s *Store) BeginAnalysis() func() {
	s.mu.Lock()
	s.analyzing++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.analyzing--
		s.mu.Unlock()
	}
}

// Snapshot returns the full dashboard state.
func (s *Store) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		History:    append([]types.TelemetryPoint{}, s.history...),
		Detections: s.detectionsLocked(),
		Analyzing:  s.analyzing > 0,
		Uptime:     time.Since(s.startTime).Seconds(),
		Timestamp:  float64(time.Now().Unix()),
	}
	if s.telemetry != nil {
		t := *s.telemetry
		st.Telemetry = &t
	}
	if s.insight != nil {
		in := *s.insight
		st.Insight = &in
	}
	return st
}
