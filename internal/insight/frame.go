// Package insight asks a multimodal model for a high-level reading of the
// current scene.
package insight

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nexus-edge/edge-dashboard/internal/overlay"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// DefaultJPEGQuality matches the capture quality of the dashboard snapshot.
const DefaultJPEGQuality = 80

// EncodeFrame downscales img to fit maxWidth x maxHeight (when larger),
// encodes it as JPEG and returns the base64 payload.
func EncodeFrame(img image.Image, maxWidth, maxHeight, quality int) (string, error) {
	if img == nil {
		return "", errors.New("encode frame: nil image")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	b := img.Bounds()
	if maxWidth > 0 && maxHeight > 0 && (b.Dx() > maxWidth || b.Dy() > maxHeight) {
		img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Summarize lists the batch as "{label} at {pct}% confidence" items.
func Summarize(batch []types.Detection) string {
	if len(batch) == 0 {
		return "no objects detected"
	}
	parts := make([]string, len(batch))
	for i, d := range batch {
		parts[i] = fmt.Sprintf("%s at %d%% confidence", d.Label, overlay.Percent(d.Confidence))
	}
	return strings.Join(parts, ", ")
}
