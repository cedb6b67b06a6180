package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDetection is returned by Validate for detections that break the
// box or confidence invariants.
var ErrInvalidDetection = errors.New("invalid detection")

// BoundingBox is an axis-aligned rectangle in source-frame pixels, origin top-left.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one recognized object in a single frame.
type Detection struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Validate checks width > 0, height > 0 and confidence in [0,1].
func (d Detection) Validate() error {
	if !(d.BBox.Width > 0) || !(d.BBox.Height > 0) {
		return fmt.Errorf("%w: %q has non-positive size %gx%g", ErrInvalidDetection, d.ID, d.BBox.Width, d.BBox.Height)
	}
	if !(d.Confidence >= 0 && d.Confidence <= 1) {
		return fmt.Errorf("%w: %q confidence %g outside [0,1]", ErrInvalidDetection, d.ID, d.Confidence)
	}
	return nil
}

// ValidateBatch validates every detection of a batch and requires IDs to be
// unique within it.
func ValidateBatch(batch []Detection) error {
	seen := make(map[string]struct{}, len(batch))
	for _, d := range batch {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidDetection, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// CloneBatch returns an independent copy of batch. A nil batch stays nil.
func CloneBatch(batch []Detection) []Detection {
	if batch == nil {
		return nil
	}
	out := make([]Detection, len(batch))
	copy(out, batch)
	return out
}

// DetectionEvent is a versioned batch as published to dashboard clients.
type DetectionEvent struct {
	Version    int         `json:"version"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}
