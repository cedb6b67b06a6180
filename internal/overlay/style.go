package overlay

import (
	"fmt"
	"image/color"
	"sync"

	"github.com/golang/freetype/truetype"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
)

// DefaultAccent is the box and label background color.
const DefaultAccent = "#76b900"

// Style holds the fixed drawing parameters of the overlay.
type Style struct {
	Accent          color.Color // Box outline
	LabelBackground color.Color // Opaque label plate
	LabelText       color.Color
	StrokeWidth     float64
	PaddingX        float64
	PaddingY        float64
	FontSize        float64
	LineHeight      float64 // Height reserved for one line of label text
}

// DefaultStyle returns green boxes with black-on-green labels.
func DefaultStyle() Style {
	accent := color.NRGBA{R: 0x76, G: 0xb9, B: 0x00, A: 0xff}
	return Style{
		Accent:          accent,
		LabelBackground: accent,
		LabelText:       color.Black,
		StrokeWidth:     2,
		PaddingX:        5,
		PaddingY:        3,
		FontSize:        12,
		LineHeight:      14,
	}
}

// WithAccent returns s with the box and label background set to hex.
func (s Style) WithAccent(hex string) (Style, error) {
	c, err := ParseColor(hex)
	if err != nil {
		return s, err
	}
	s.Accent = c
	s.LabelBackground = c
	return s, nil
}

// ParseColor parses "#rrggbb" or "#rgb" into an opaque color.
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("parse color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

var monoBold = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(gomonobold.TTF)
})

// DefaultFace returns Go Mono Bold at size points.
func DefaultFace(size float64) (font.Face, error) {
	f, err := monoBold()
	if err != nil {
		return nil, fmt.Errorf("parse label font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}
