package overlay

import (
	"errors"

	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// ErrSurfaceUnavailable means the frame source or the surface cannot be
// painted yet (camera not attached, no dimensions reported). It is transient.
var ErrSurfaceUnavailable = errors.New("overlay surface unavailable")

// FrameSource is the live frame the overlay is aligned to.
type FrameSource interface {
	// Dimensions reports the current pixel size; ok is false until the
	// source has produced a frame.
	Dimensions() (width, height int, ok bool)
}

// PaintResult describes one completed paint.
type PaintResult struct {
	Width   int
	Height  int
	Resized bool
	Painted int
}

// Renderer projects a detection batch onto a Surface.
type Renderer struct {
	surface Surface
	measure MeasureFunc
	style   Style
}

// NewRenderer returns a renderer drawing onto surface. A nil measure makes
// every label background PaddingX*2 wide.
func NewRenderer(surface Surface, measure MeasureFunc, style Style) *Renderer {
	if measure == nil {
		measure = func(string) float64 { return 0 }
	}
	return &Renderer{
		surface: surface,
		measure: measure,
		style:   style,
	}
}

// Surface returns the surface the renderer paints onto.
func (r *Renderer) Surface() Surface {
	return r.surface
}

// Paint runs one full clear-and-redraw pass: resize to the frame, clear,
// then box, label plate and label text for each detection in order.
func (r *Renderer) Paint(src FrameSource, batch []types.Detection) (PaintResult, error) {
	if r == nil || r.surface == nil || src == nil {
		return PaintResult{}, ErrSurfaceUnavailable
	}
	w, h, ok := src.Dimensions()
	if !ok || w <= 0 || h <= 0 {
		return PaintResult{}, ErrSurfaceUnavailable
	}

	prevW, prevH := r.surface.Size()
	r.surface.Resize(w, h)
	r.surface.Clear()

	for i := range batch {
		r.paintDetection(&batch[i])
	}

	return PaintResult{
		Width:   w,
		Height:  h,
		Resized: prevW != w || prevH != h,
		Painted: len(batch),
	}, nil
}

func (r *Renderer) paintDetection(det *types.Detection) {
	box := Rect{X: det.BBox.X, Y: det.BBox.Y, W: det.BBox.Width, H: det.BBox.Height}
	r.surface.StrokeRect(box, r.style.Accent, r.style.StrokeWidth)

	text := FormatLabel(det.Label, det.Confidence)
	plate := r.LabelRect(box, text)
	r.surface.FillRect(plate, r.style.LabelBackground)
	r.surface.FillText(text, plate.X+r.style.PaddingX, plate.Y+r.style.PaddingY, r.style.LabelText)
}

// LabelRect returns the label plate for text sitting directly above box:
// measured text width plus horizontal padding, one line plus vertical padding.
func (r *Renderer) LabelRect(box Rect, text string) Rect {
	h := r.style.LineHeight + 2*r.style.PaddingY
	return Rect{
		X: box.X,
		Y: box.Y - h,
		W: r.measure(text) + 2*r.style.PaddingX,
		H: h,
	}
}
