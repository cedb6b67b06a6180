package overlay

import (
	"image"

	"golang.org/x/image/draw"
)

// Compose returns a copy of frame with overlay alpha-blended on top. The
// overlay is aligned at the frame's top-left corner.
func Compose(frame, overlay image.Image) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)
	if overlay != nil {
		draw.Draw(dst, dst.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
	}
	return dst
}
