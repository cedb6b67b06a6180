package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/cors"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/feed"
	"github.com/nexus-edge/edge-dashboard/internal/insight"
	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/internal/overlay"
	"github.com/nexus-edge/edge-dashboard/internal/webrtc"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// TopicStatus carries the full status as the first WebSocket message.
const TopicStatus = "status"

const maxBodyBytes = 1 << 20

// ErrNoCamera is returned by NewServer without a camera source.
var ErrNoCamera = errors.New("dashboard requires a camera source")

// Analyzer runs deep scene analysis.
type Analyzer interface {
	Analyze(ctx context.Context, src insight.FrameSource, batch []types.Detection) (types.SceneInsight, error)
}

// PeerHub is the WebRTC data channel server.
type PeerHub interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	Broadcast(msg []byte)
	ClientCount() int
}

// Deps are the collaborators of the dashboard server. Only Camera is required.
type Deps struct {
	Camera   camera.Source
	Analyzer Analyzer
	Peers    PeerHub
	Metrics  *metrics.Metrics
	Clock    clock.Clock // Drives the refresh scheduler; nil uses wall time
}

// TelemetryEvent is the payload of the telemetry topic.
type TelemetryEvent struct {
	Telemetry types.Telemetry        `json:"telemetry"`
	History   []types.TelemetryPoint `json:"history"`
}

type renegotiator interface {
	Renegotiate(width, height int) error
}

// Server serves the dashboard and owns the overlay paint loop.
type Server struct {
	cfg      Config
	camera   camera.Source
	analyzer Analyzer
	peers    PeerHub
	metrics  *metrics.Metrics

	store  *Store
	frames *FrameBroadcaster
	events *EventBroadcaster
	loop   *overlay.Loop

	// Keeps the stored version and the painted batch in step
	publishMu sync.Mutex
	closeOnce sync.Once
}

// NewServer returns a configured dashboard server. The paint loop does not
// run until Start.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	def := DefaultConfig()
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = def.RefreshRate
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = def.FontSize
	}
	if cfg.Accent == "" {
		cfg.Accent = def.Accent
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if deps.Camera == nil {
		return nil, ErrNoCamera
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	style, err := overlay.DefaultStyle().WithAccent(cfg.Accent)
	if err != nil {
		return nil, fmt.Errorf("overlay accent: %w", err)
	}
	style.FontSize = cfg.FontSize
	style.LineHeight = cfg.FontSize + 2
	face, err := overlay.DefaultFace(cfg.FontSize)
	if err != nil {
		return nil, fmt.Errorf("overlay font: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		camera:   deps.Camera,
		analyzer: deps.Analyzer,
		peers:    deps.Peers,
		metrics:  deps.Metrics,
		store:    NewStore(cfg.HistorySize),
		frames:   NewFrameBroadcaster(deps.Camera, cfg.JPEGQuality, deps.Metrics),
		events:   NewEventBroadcaster(deps.Metrics),
	}

	renderer := overlay.NewRenderer(overlay.NewCanvas(face), overlay.FaceMeasurer(face), style)
	s.loop = overlay.NewLoop(renderer, deps.Camera,
		overlay.NewRefreshScheduler(deps.Clock, cfg.RefreshRate),
		overlay.WithMetrics(deps.Metrics),
		overlay.WithOnPaint(s.frames.HandleCycle),
	)
	return s, nil
}

// Start begins repainting the overlay and forwarding events to WebRTC peers.
func (s *Server) Start(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	if s.peers != nil {
		_, ch := s.events.Subscribe()
		go s.forwardToPeers(ch)
	}
	logger.Info("Dashboard", "Overlay loop started at %.0f fps", s.cfg.RefreshRate)
	return nil
}

func (s *Server) forwardToPeers(ch <-chan *SerializedEvent) {
	for event := range ch {
		if s.peers.ClientCount() == 0 {
			continue
		}
		s.peers.Broadcast(event.Envelope)
	}
}

// Close stops the paint loop, then disconnects stream and event clients.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.loop.Stop()
		s.frames.Stop()
		s.events.Stop()
		logger.Info("Dashboard", "Closed")
	})
	return nil
}

// PublishDetections validates batch and replaces the painted batch wholesale.
func (s *Server) PublishDetections(batch []types.Detection) error {
	if err := types.ValidateBatch(batch); err != nil {
		s.metrics.BatchesRejected.Add(1)
		return err
	}
	s.metrics.BatchesReceived.Add(1)

	ts := time.Now()
	if len(batch) > 0 && !batch[0].Timestamp.IsZero() {
		ts = batch[0].Timestamp
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	event := s.store.UpdateDetections(batch, ts)
	s.loop.Update(batch)
	s.events.Publish(TopicDetections, event)
	return nil
}

// PublishTelemetry records a device sample.
func (s *Server) PublishTelemetry(t types.Telemetry) {
	s.store.UpdateTelemetry(t)
	s.metrics.TelemetryUpdates.Add(1)
	s.events.Publish(TopicTelemetry, TelemetryEvent{Telemetry: t, History: s.store.History()})
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	mux.HandleFunc("/api/telemetry/stream", s.handleTelemetryStream)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/insight", s.handleInsight)
	mux.HandleFunc("/api/camera/resolution", s.handleCameraResolution)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())

	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.frames.Latest()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) status() Status {
	st := s.store.Snapshot()
	w, h, ok := s.camera.Dimensions()
	st.Camera = CameraStatus{Attached: ok, Width: w, Height: h}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Telemetry()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no telemetry yet"}, http.StatusNotFound)
		return
	}
	writeJSON(w, TelemetryEvent{Telemetry: t, History: s.store.History()})
}

func (s *Server) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe(TopicTelemetry)
	defer s.events.Unsubscribe(id)

	var initial *SerializedEvent
	if t, ok := s.store.Telemetry(); ok {
		initial, _ = Serialize(TopicTelemetry, TelemetryEvent{Telemetry: t, History: s.store.History()})
	}
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), initial, s.cfg.KeepAlive)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.store.Detections())
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid batch data"}, http.StatusBadRequest)
			return
		}
		batch, err := feed.ParseBatch(body)
		if err != nil {
			s.metrics.BatchesRejected.Add(1)
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		if err := s.PublishDetections(batch); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		writeJSON(w, s.store.Detections())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe(TopicDetections)
	defer s.events.Unsubscribe(id)

	var initial *SerializedEvent
	if ev := s.store.Detections(); ev.Version > 0 {
		initial, _ = Serialize(TopicDetections, ev)
	}
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), initial, s.cfg.KeepAlive)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.analyzer == nil {
		writeJSONWithStatus(w, map[string]any{"error": "analysis is not configured"}, http.StatusServiceUnavailable)
		return
	}

	done := s.store.BeginAnalysis()
	defer done()

	in, err := s.analyzer.Analyze(r.Context(), s.camera, s.loop.Batch())
	switch {
	case errors.Is(err, insight.ErrNoFrame):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	case errors.Is(err, insight.ErrRateLimited):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusTooManyRequests)
		return
	case err != nil:
		logger.Debug("Dashboard", "Analysis request ended: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusGatewayTimeout)
		return
	}

	s.store.SetInsight(in)
	s.events.Publish(TopicInsight, in)
	writeJSON(w, in)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	in, ok := s.store.Insight()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no insight yet"}, http.StatusNotFound)
		return
	}
	writeJSON(w, in)
}

func (s *Server) handleCameraResolution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cam, ok := s.camera.(renegotiator)
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "camera does not support renegotiation"}, http.StatusConflict)
		return
	}

	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid resolution data"}, http.StatusBadRequest)
		return
	}
	if err := cam.Renegotiate(req.Width, req.Height); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"width": req.Width, "height": req.Height})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.peers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not enabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.peers.HandleOffer(body)
	switch {
	case errors.Is(err, webrtc.ErrInvalidOffer):
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	case errors.Is(err, webrtc.ErrTooManyClients):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	case errors.Is(err, webrtc.ErrGatherTimeout):
		logger.Warn("Dashboard", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "ICE gathering timed out"}, http.StatusGatewayTimeout)
		return
	case err != nil:
		logger.Warn("Dashboard", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC negotiation failed"}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
