package types

import (
	"image"
	"time"
)

// Frame is a decoded camera frame with metadata
type Frame struct {
	Image     image.Image // Decoded pixels; never mutated after capture
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number
	Width     int         // Frame width
	Height    int         // Frame height
}
