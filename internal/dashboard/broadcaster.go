package dashboard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/internal/overlay"
)

// Event topics
const (
	TopicDetections = "detections"
	TopicTelemetry  = "telemetry"
	TopicInsight    = "insight"
)

// Without stream clients the composite is still refreshed this often for
// /api/snapshot.
const idleSnapshotInterval = time.Second

// FrameBroadcaster composites each painted overlay onto the live frame and
// fans the JPEG out to MJPEG clients.
type FrameBroadcaster struct {
	camera  camera.Source
	quality int
	metrics *metrics.Metrics

	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	stopped   bool
	skipCount int // Cycles skipped while no clients
	lastIdle  time.Time

	latest atomic.Pointer[[]byte]
}

// NewFrameBroadcaster creates a broadcaster reading frames from cam.
func NewFrameBroadcaster(cam camera.Source, quality int, m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		camera:  cam,
		quality: quality,
		metrics: m,
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame encoding will be throttled")
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Stop disconnects every client. Later cycles are ignored.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
	}
}

// Latest returns the most recent composited JPEG.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	p := fb.latest.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// HandleCycle is installed as the overlay loop's paint hook.
func (fb *FrameBroadcaster) HandleCycle(c overlay.Cycle) {
	fb.mu.Lock()
	clientCount := len(fb.clients)
	stopped := fb.stopped
	idle := false
	if clientCount == 0 && !stopped {
		if c.PaintedAt.Sub(fb.lastIdle) < idleSnapshotInterval {
			fb.skipCount++
			if fb.skipCount%300 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected (skipped %d cycles)", fb.skipCount)
			}
			fb.mu.Unlock()
			return
		}
		fb.lastIdle = c.PaintedAt
		idle = true
	} else {
		fb.skipCount = 0
	}
	fb.mu.Unlock()
	if stopped {
		return
	}

	data, err := fb.composite(c)
	if err != nil {
		logger.Debug("FrameBroadcaster", "Cycle %d not composited: %v", c.Seq, err)
		return
	}
	fb.latest.Store(&data)
	if !idle {
		fb.broadcast(data)
	}
}

func (fb *FrameBroadcaster) composite(c overlay.Cycle) ([]byte, error) {
	frame, ok := fb.camera.Snapshot()
	if !ok {
		return nil, fmt.Errorf("camera detached")
	}
	// The camera renegotiated between paint and snapshot; the next cycle
	// repaints at the new size.
	if frame.Width != c.Width || frame.Height != c.Height {
		if fb.metrics != nil {
			fb.metrics.FramesDropped.Add(1)
		}
		return nil, fmt.Errorf("frame %dx%d does not match overlay %dx%d", frame.Width, frame.Height, c.Width, c.Height)
	}

	img := overlay.Compose(frame.Image, c.Overlay)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: fb.quality}); err != nil {
		if fb.metrics != nil {
			fb.metrics.EncodeErrors.Add(1)
		}
		return nil, err
	}
	if fb.metrics != nil {
		fb.metrics.FramesEncoded.Add(1)
	}
	return buf.Bytes(), nil
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
}

// SerializedEvent holds pre-serialized data in every wire format.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Topic        string
	JSONData     []byte // Payload JSON, for SSE
	ProtobufData []byte // structpb-encoded payload, base64 for SSE
	Envelope     []byte // {"topic":..., "data":...}, for WebSocket and WebRTC
}

// Serialize encodes payload once for every transport. payload must marshal
// to a JSON object.
func Serialize(topic string, payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, fmt.Errorf("protobuf convert: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	envelope, err := json.Marshal(struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}{topic, jsonData})
	if err != nil {
		return nil, fmt.Errorf("envelope marshal: %w", err)
	}

	return &SerializedEvent{
		Topic:        topic,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
		Envelope:     envelope,
	}, nil
}

type eventClient struct {
	ch     chan *SerializedEvent
	topics map[string]bool // nil means every topic
}

func (c *eventClient) wants(topic string) bool {
	return c.topics == nil || c.topics[topic]
}

// EventBroadcaster manages fanout of dashboard events to SSE, WebSocket and
// WebRTC clients.
type EventBroadcaster struct {
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[int]*eventClient
	nextID  int
	stopped bool
}

// NewEventBroadcaster creates an event broadcaster.
func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		metrics: m,
		clients: make(map[int]*eventClient),
	}
}

// Subscribe adds a client for the given topics, or all topics when none are given.
func (eb *EventBroadcaster) Subscribe(topics ...string) (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	c := &eventClient{ch: make(chan *SerializedEvent, 8)}
	if len(topics) > 0 {
		c.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			c.topics[t] = true
		}
	}
	if eb.stopped {
		close(c.ch)
		return id, c.ch
	}
	eb.clients[id] = c
	if eb.metrics != nil {
		eb.metrics.EventClients.Add(1)
	}

	logger.Debug("EventBroadcaster", "Client #%d subscribed to %v (total clients: %d)", id, topics, len(eb.clients))
	return id, c.ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if c, ok := eb.clients[id]; ok {
		close(c.ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.EventClients.Add(-1)
		}
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// Publish serializes payload and delivers it to interested clients. Nothing
// is serialized when no client wants the topic.
func (eb *EventBroadcaster) Publish(topic string, payload any) {
	if !eb.hasSubscribers(topic) {
		return
	}
	event, err := Serialize(topic, payload)
	if err != nil {
		logger.Error("EventBroadcaster", "Serialize %s event: %v", topic, err)
		return
	}
	eb.broadcast(event)
}

func (eb *EventBroadcaster) hasSubscribers(topic string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, c := range eb.clients {
		if c.wants(topic) {
			return true
		}
	}
	return false
}

func (eb *EventBroadcaster) broadcast(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, c := range eb.clients {
		if !c.wants(event.Topic) {
			continue
		}
		select {
		case c.ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// Stop disconnects every client.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}
	eb.stopped = true
	for id, c := range eb.clients {
		close(c.ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.EventClients.Add(-1)
		}
	}
}
