package insight

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

func testBatch() []types.Detection {
	return []types.Detection{
		{ID: "det-0", Label: "Forklift", Confidence: 0.9349, BBox: types.BoundingBox{Width: 1, Height: 1}},
		{ID: "det-1", Label: "Person", Confidence: 0.87, BBox: types.BoundingBox{Width: 1, Height: 1}},
	}
}

type frameSource struct {
	img image.Image
}

func (f frameSource) Snapshot() (types.Frame, bool) {
	if f.img == nil {
		return types.Frame{}, false
	}
	b := f.img.Bounds()
	return types.Frame{Image: f.img, Width: b.Dx(), Height: b.Dy()}, true
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Forklift at 93% confidence, Person at 87% confidence", Summarize(testBatch()))
	assert.Equal(t, "no objects detected", Summarize(nil))
}

func TestEncodeFrameDownscales(t *testing.T) {
	out, err := EncodeFrame(image.NewRGBA(image.Rect(0, 0, 1920, 1080)), 640, 480, 80)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 360, cfg.Height)

	_, err = EncodeFrame(nil, 0, 0, 0)
	assert.Error(t, err)
}

func TestEncodeFrameKeepsSmallFrames(t *testing.T) {
	out, err := EncodeFrame(image.NewRGBA(image.Rect(0, 0, 320, 240)), 640, 480, 0)
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(out)
	cfg, err := jpeg.DecodeConfig(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
}

func TestParseInsightStripsFences(t *testing.T) {
	in, err := parseInsight("```json\n{\"summary\":\"ok\",\"anomalies\":[\"a\"],\"recommendations\":\"r\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "ok", in.Summary)
	assert.Equal(t, []string{"a"}, in.Anomalies)

	in, err = parseInsight(`{"summary":"quiet"}`)
	require.NoError(t, err)
	assert.NotNil(t, in.Anomalies)

	_, err = parseInsight(`{"anomalies":[]}`)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiClientRequest(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		text := "```json\n{\"summary\":\"Two forklifts near the dock\",\"anomalies\":[\"Person inside forklift lane\"],\"recommendations\":\"Add a floor marking.\"}\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewGeminiClient("test-key", WithBaseURL(srv.URL+"/"), WithModel("gemini-test"))
	require.NoError(t, err)

	in, err := c.AnalyzeScene(context.Background(), "AAAA", "Forklift at 93% confidence")
	require.NoError(t, err)
	assert.Equal(t, "Two forklifts near the dock", in.Summary)
	assert.Equal(t, []string{"Person inside forklift lane"}, in.Anomalies)

	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	cfg := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, 0.2, cfg["temperature"])
	assert.Equal(t, "application/json", cfg["responseMimeType"])

	parts := gotBody["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "Forklift at 93% confidence")
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, "AAAA", inline["data"])
}

func TestGeminiClientErrors(t *testing.T) {
	_, err := NewGeminiClient("")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	quota := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer quota.Close()

	c, _ := NewGeminiClient("k", WithBaseURL(quota.URL))
	_, err = c.AnalyzeScene(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer empty.Close()

	c, _ = NewGeminiClient("k", WithBaseURL(empty.URL))
	_, err = c.AnalyzeScene(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type fakeModel struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	gotDets string
	mu      sync.Mutex
}

func (m *fakeModel) AnalyzeScene(ctx context.Context, img, dets string) (types.SceneInsight, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.gotDets = dets
	m.mu.Unlock()
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return types.SceneInsight{}, ctx.Err()
		}
	}
	if m.err != nil {
		return types.SceneInsight{}, m.err
	}
	return types.SceneInsight{Summary: "calm", Anomalies: []string{}}, nil
}

func unlimited() AnalyzerConfig {
	cfg := DefaultAnalyzerConfig()
	cfg.MinInterval = 0
	return cfg
}

func TestAnalyzerSuccess(t *testing.T) {
	model := &fakeModel{}
	m := metrics.New()
	a := NewAnalyzer(model, unlimited(), m)

	in, err := a.Analyze(context.Background(), frameSource{img: image.NewRGBA(image.Rect(0, 0, 64, 48))}, testBatch())
	require.NoError(t, err)
	assert.Equal(t, "calm", in.Summary)
	assert.False(t, in.Degraded)
	assert.NotEmpty(t, in.RequestID)
	assert.False(t, in.CreatedAt.IsZero())
	assert.Equal(t, "Forklift at 93% confidence, Person at 87% confidence", model.gotDets)
	assert.Equal(t, uint64(1), m.Analyses.Load())
}

func TestAnalyzerFallsBackOnModelError(t *testing.T) {
	m := metrics.New()
	a := NewAnalyzer(&fakeModel{err: errors.New("connection reset")}, unlimited(), m)

	in, err := a.Analyze(context.Background(), frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}, nil)
	require.NoError(t, err)
	assert.True(t, in.Degraded)
	assert.Equal(t, Fallback().Summary, in.Summary)
	assert.Equal(t, []string{"API connection latency detected"}, in.Anomalies)
	assert.Equal(t, uint64(1), m.AnalysisFallback.Load())

	// no API key configured
	in, err = NewAnalyzer(nil, unlimited(), nil).Analyze(context.Background(), frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}, nil)
	require.NoError(t, err)
	assert.True(t, in.Degraded)
}

func TestAnalyzerTimeout(t *testing.T) {
	cfg := unlimited()
	cfg.Timeout = 20 * time.Millisecond
	model := &fakeModel{release: make(chan struct{})}
	a := NewAnalyzer(model, cfg, nil)

	in, err := a.Analyze(context.Background(), frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}, nil)
	require.NoError(t, err)
	assert.True(t, in.Degraded)
}

func TestAnalyzerNoFrame(t *testing.T) {
	a := NewAnalyzer(&fakeModel{}, unlimited(), nil)
	_, err := a.Analyze(context.Background(), frameSource{}, nil)
	assert.ErrorIs(t, err, ErrNoFrame)

	_, err = a.Analyze(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestAnalyzerRateLimited(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.MinInterval = time.Hour
	cfg.Burst = 1
	a := NewAnalyzer(&fakeModel{}, cfg, nil)
	src := frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}

	_, err := a.Analyze(context.Background(), src, nil)
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestAnalyzerNoFrameKeepsRateBudget(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.MinInterval = time.Hour
	cfg.Burst = 1
	model := &fakeModel{}
	a := NewAnalyzer(model, cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := a.Analyze(context.Background(), frameSource{}, nil)
		require.ErrorIs(t, err, ErrNoFrame)
	}

	in, err := a.Analyze(context.Background(), frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}, nil)
	require.NoError(t, err, "detached-camera requests must not spend the burst")
	assert.Equal(t, "calm", in.Summary)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestAnalyzerSharesInFlightCall(t *testing.T) {
	model := &fakeModel{release: make(chan struct{})}
	a := NewAnalyzer(model, unlimited(), nil)
	src := frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}

	const callers = 4
	results := make(chan types.SceneInsight, callers)
	for range callers {
		go func() {
			in, err := a.Analyze(context.Background(), src, nil)
			if err == nil {
				results <- in
			}
		}()
	}

	require.Eventually(t, func() bool { return model.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(model.release)

	var ids []string
	for range callers {
		select {
		case in := <-results:
			ids = append(ids, in.RequestID)
		case <-time.After(2 * time.Second):
			t.Fatal("caller did not return")
		}
	}
	assert.Equal(t, int32(1), model.calls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestAnalyzerCallerCancel(t *testing.T) {
	model := &fakeModel{release: make(chan struct{})}
	defer close(model.release)
	a := NewAnalyzer(model, unlimited(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := a.Analyze(ctx, frameSource{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
