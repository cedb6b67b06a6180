package dashboard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/internal/overlay"
)

func TestSerializeEncodesEveryFormat(t *testing.T) {
	ev, err := Serialize(TopicTelemetry, map[string]any{"fps": 29.5, "status": "Online"})
	require.NoError(t, err)

	assert.Equal(t, TopicTelemetry, ev.Topic)
	assert.JSONEq(t, `{"fps":29.5,"status":"Online"}`, string(ev.JSONData))
	assert.JSONEq(t, `{"topic":"telemetry","data":{"fps":29.5,"status":"Online"}}`, string(ev.Envelope))

	raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	assert.Equal(t, 29.5, st.Fields["fps"].GetNumberValue())
	assert.Equal(t, "Online", st.Fields["status"].GetStringValue())
}

func TestSerializeRejectsNonObject(t *testing.T) {
	_, err := Serialize(TopicTelemetry, []int{1, 2})
	assert.Error(t, err)
}

func TestEventBroadcasterTopics(t *testing.T) {
	m := metrics.New()
	eb := NewEventBroadcaster(m)

	detID, detCh := eb.Subscribe(TopicDetections)
	_, allCh := eb.Subscribe()
	assert.Equal(t, int64(2), m.EventClients.Load())

	eb.Publish(TopicTelemetry, map[string]any{"fps": 30})
	select {
	case ev := <-allCh:
		assert.Equal(t, TopicTelemetry, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("all-topics client missed telemetry")
	}
	assert.Empty(t, detCh)

	eb.Publish(TopicDetections, map[string]any{"version": 1})
	assert.Len(t, detCh, 1)
	assert.Len(t, allCh, 1)

	eb.Unsubscribe(detID)
	ev, open := <-detCh
	require.True(t, open, "buffered event survives unsubscribe")
	assert.Equal(t, TopicDetections, ev.Topic)
	_, open = <-detCh
	assert.False(t, open)

	eb.Stop()
	ev, open = <-allCh
	require.True(t, open)
	assert.Equal(t, TopicDetections, ev.Topic)
	_, open = <-allCh
	assert.False(t, open)
	assert.Zero(t, m.EventClients.Load())

	_, lateCh := eb.Subscribe()
	_, open = <-lateCh
	assert.False(t, open, "subscribe after stop returns a closed channel")
}

func TestEventBroadcasterDropsForSlowClient(t *testing.T) {
	eb := NewEventBroadcaster(nil)
	_, ch := eb.Subscribe()
	for i := 0; i < 20; i++ {
		eb.Publish(TopicInsight, map[string]any{"n": i})
	}
	assert.Len(t, ch, cap(ch))
}

func testCycle(w, h int, at time.Time) overlay.Cycle {
	return overlay.Cycle{
		Seq:       1,
		Width:     w,
		Height:    h,
		Overlay:   image.NewRGBA(image.Rect(0, 0, w, h)),
		PaintedAt: at,
	}
}

func TestFrameBroadcasterIdleSnapshot(t *testing.T) {
	cam := camera.NewSynthetic(64, 48)
	cam.Attach()
	m := metrics.New()
	fb := NewFrameBroadcaster(cam, 75, m)

	_, ok := fb.Latest()
	assert.False(t, ok)

	t0 := time.Unix(1700000000, 0)
	fb.HandleCycle(testCycle(64, 48, t0))
	data, ok := fb.Latest()
	require.True(t, ok)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	fb.HandleCycle(testCycle(64, 48, t0.Add(100*time.Millisecond)))
	fb.HandleCycle(testCycle(64, 48, t0.Add(time.Second)))
	assert.Equal(t, uint64(2), m.FramesEncoded.Load(), "idle composites are throttled")
}

func TestFrameBroadcasterFansOut(t *testing.T) {
	cam := camera.NewSynthetic(64, 48)
	cam.Attach()
	m := metrics.New()
	fb := NewFrameBroadcaster(cam, 75, m)

	id, ch := fb.Subscribe()
	assert.Equal(t, 1, fb.ClientCount())

	at := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		fb.HandleCycle(testCycle(64, 48, at))
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(3), m.FramesEncoded.Load())
	assert.Equal(t, uint64(1), m.FramesDropped.Load())

	fb.Unsubscribe(id)
	assert.Zero(t, fb.ClientCount())
	assert.Zero(t, m.StreamClients.Load())
}

func TestFrameBroadcasterDropsMismatchedCycle(t *testing.T) {
	cam := camera.NewSynthetic(64, 48)
	cam.Attach()
	m := metrics.New()
	fb := NewFrameBroadcaster(cam, 75, m)
	_, ch := fb.Subscribe()

	fb.HandleCycle(testCycle(32, 24, time.Now()))
	assert.Empty(t, ch)
	assert.Equal(t, uint64(1), m.FramesDropped.Load())
	assert.Zero(t, m.FramesEncoded.Load())

	cam.Detach()
	fb.HandleCycle(testCycle(64, 48, time.Now()))
	assert.Empty(t, ch)
}

func TestFrameBroadcasterStop(t *testing.T) {
	cam := camera.NewSynthetic(64, 48)
	cam.Attach()
	fb := NewFrameBroadcaster(cam, 75, nil)
	_, ch := fb.Subscribe()

	fb.Stop()
	_, open := <-ch
	assert.False(t, open)

	fb.HandleCycle(testCycle(64, 48, time.Now()))
	_, ok := fb.Latest()
	assert.False(t, ok, "cycles after stop are ignored")
}

func TestTelemetryEventJSON(t *testing.T) {
	data, err := json.Marshal(TelemetryEvent{Telemetry: sample(0)})
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, out, "telemetry")
	assert.Contains(t, out, "history")
}
