package camera

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

var (
	// ErrNotMultipart is returned when the camera does not answer with a multipart stream.
	ErrNotMultipart = errors.New("camera response is not a multipart stream")
	// ErrStreamEnded is returned when the camera closes the stream.
	ErrStreamEnded = errors.New("camera stream ended")
)

// MJPEG pulls a multipart/x-mixed-replace JPEG stream from an IP camera and
// keeps the latest decoded frame.
type MJPEG struct {
	url        string
	client     *http.Client
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.RWMutex
	latest   *types.Frame
	frameNum uint64
}

// NewMJPEG creates a reader for url. It is unavailable until Run decodes the
// first frame.
func NewMJPEG(url string) *MJPEG {
	return &MJPEG{
		url:        url,
		client:     &http.Client{},
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

func (m *MJPEG) Dimensions() (int, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return 0, 0, false
	}
	return m.latest.Width, m.latest.Height, true
}

func (m *MJPEG) Snapshot() (types.Frame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return types.Frame{}, false
	}
	return *m.latest, true
}

// Run reads the stream until ctx is cancelled, reconnecting with exponential
// backoff. The source reports unavailable while disconnected.
func (m *MJPEG) Run(ctx context.Context) error {
	backoff := m.minBackoff
	for {
		frames, err := m.stream(ctx)
		m.reset()
		if ctx.Err() != nil {
			return nil
		}
		if frames > 0 {
			backoff = m.minBackoff
		}
		logger.Warn("Camera", "MJPEG stream %s lost after %d frames: %v (retry in %v)", m.url, frames, err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
	}
}

func (m *MJPEG) reset() {
	m.mu.Lock()
	m.latest = nil
	m.mu.Unlock()
}

// stream consumes one connection and returns the number of frames decoded.
func (m *MJPEG) stream(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("camera returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return 0, ErrNotMultipart
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	frames := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return frames, ErrStreamEnded
		}
		if err != nil {
			return frames, fmt.Errorf("read part: %w", err)
		}

		img, err := jpeg.Decode(part)
		_ = part.Close()
		if err != nil {
			logger.Debug("Camera", "Skipping undecodable MJPEG part: %v", err)
			continue
		}

		b := img.Bounds()
		m.mu.Lock()
		m.frameNum++
		m.latest = &types.Frame{
			Image:     img,
			Timestamp: time.Now(),
			FrameNum:  m.frameNum,
			Width:     b.Dx(),
			Height:    b.Dy(),
		}
		m.mu.Unlock()

		if frames == 0 {
			logger.Info("Camera", "MJPEG stream %s attached (%dx%d)", m.url, b.Dx(), b.Dy())
		}
		frames++
	}
}
