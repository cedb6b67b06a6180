package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// Default capture size requested from the camera.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720

	maxWidth  = 7680
	maxHeight = 4320
)

// ErrInvalidResolution is returned by Renegotiate for sizes the source cannot produce.
var ErrInvalidResolution = errors.New("invalid camera resolution")

// Source is a live video feed the overlay is drawn over.
type Source interface {
	// Dimensions reports the intrinsic frame size. ok is false while no
	// stream is attached.
	Dimensions() (width, height int, ok bool)
	// Snapshot returns the current frame. The image must not be modified.
	Snapshot() (types.Frame, bool)
}

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// ColorBars renders the eight-bar test pattern at the given size.
func ColorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := width / len(barColors)
	if barWidth < 1 {
		barWidth = 1
	}
	for i, c := range barColors {
		x0 := i * barWidth
		if x0 >= width {
			break
		}
		x1 := x0 + barWidth
		if i == len(barColors)-1 {
			x1 = width
		}
		draw.Draw(img, image.Rect(x0, 0, x1, height), image.NewUniform(c), image.Point{}, draw.Src)
	}
	return img
}

// Synthetic is a test-pattern camera. It stays detached until Attach is
// called, the same way a browser camera is unavailable until the user grants
// access.
type Synthetic struct {
	mu       sync.RWMutex
	width    int
	height   int
	attached bool
	pattern  *image.RGBA
	frameNum uint64
}

// NewSynthetic creates a detached synthetic camera. Non-positive sizes fall
// back to 1280x720.
func NewSynthetic(width, height int) *Synthetic {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &Synthetic{width: width, height: height}
}

// Attach starts the stream.
func (s *Synthetic) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return
	}
	s.attached = true
	logger.Info("Camera", "Synthetic stream attached (%dx%d)", s.width, s.height)
}

// Detach stops the stream. Dimensions report unavailable until the next Attach.
func (s *Synthetic) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return
	}
	s.attached = false
	logger.Info("Camera", "Synthetic stream detached")
}

// Renegotiate changes the resolution mid-stream.
func (s *Synthetic) Renegotiate(width, height int) error {
	if width <= 0 || height <= 0 || width > maxWidth || height > maxHeight {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, width, height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width == width && s.height == height {
		return nil
	}
	logger.Info("Camera", "Renegotiated %dx%d -> %dx%d", s.width, s.height, width, height)
	s.width, s.height = width, height
	s.pattern = nil
	return nil
}

func (s *Synthetic) Dimensions() (int, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.attached {
		return 0, 0, false
	}
	return s.width, s.height, true
}

func (s *Synthetic) Snapshot() (types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return types.Frame{}, false
	}
	if s.pattern == nil {
		s.pattern = ColorBars(s.width, s.height)
	}
	s.frameNum++
	return types.Frame{
		Image:     s.pattern,
		Timestamp: time.Now(),
		FrameNum:  s.frameNum,
		Width:     s.width,
		Height:    s.height,
	}, true
}
