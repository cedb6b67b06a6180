package overlay

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

// Rect is an axis-aligned rectangle in surface pixels, origin top-left.
type Rect struct {
	X, Y, W, H float64
}

// Surface is the drawable target of the renderer. Implementations are used
// from a single goroutine.
type Surface interface {
	// Resize sets the pixel size. Called before every paint.
	Resize(width, height int)
	Size() (width, height int)
	// Clear makes every pixel fully transparent.
	Clear()
	StrokeRect(r Rect, c color.Color, lineWidth float64)
	FillRect(r Rect, c color.Color)
	// FillText draws text with its top-left corner at (x, y).
	FillText(text string, x, y float64, c color.Color)
	// Image returns the painted pixels, or nil if the surface has no raster.
	Image() image.Image
}

// MeasureFunc returns the rendered width of text in pixels.
type MeasureFunc func(text string) float64

// FaceMeasurer measures text with the advance widths of face.
func FaceMeasurer(face font.Face) MeasureFunc {
	return func(text string) float64 {
		return float64(font.MeasureString(face, text)) / 64
	}
}

// Canvas is a Surface rasterized with gg.
type Canvas struct {
	face font.Face
	dc   *gg.Context
}

// NewCanvas returns an empty canvas that draws labels with face. It has no
// raster until the first Resize.
func NewCanvas(face font.Face) *Canvas {
	return &Canvas{face: face}
}

// Resize reallocates the raster only when the size actually changes.
func (c *Canvas) Resize(width, height int) {
	if c.dc != nil && c.dc.Width() == width && c.dc.Height() == height {
		return
	}
	c.dc = gg.NewContext(width, height)
	if c.face != nil {
		c.dc.SetFontFace(c.face)
	}
}

func (c *Canvas) Size() (int, int) {
	if c.dc == nil {
		return 0, 0
	}
	return c.dc.Width(), c.dc.Height()
}

func (c *Canvas) Clear() {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
}

func (c *Canvas) StrokeRect(r Rect, col color.Color, lineWidth float64) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.SetLineWidth(lineWidth)
	c.dc.DrawRectangle(r.X, r.Y, r.W, r.H)
	c.dc.Stroke()
}

func (c *Canvas) FillRect(r Rect, col color.Color) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.DrawRectangle(r.X, r.Y, r.W, r.H)
	c.dc.Fill()
}

func (c *Canvas) FillText(text string, x, y float64, col color.Color) {
	if c.dc == nil || c.face == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.DrawStringAnchored(text, x, y, 0, 1)
}

func (c *Canvas) Image() image.Image {
	if c.dc == nil {
		return nil
	}
	return c.dc.Image()
}

// MeasureText returns the advance width of text in the canvas face.
func (c *Canvas) MeasureText(text string) float64 {
	if c.face == nil {
		return 0
	}
	return FaceMeasurer(c.face)(text)
}
