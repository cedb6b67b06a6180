package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/logger"
)

// MJPEG clients get a blank frame after this long without a composite.
const blankFrameAfter = 5 * time.Second

var blankJPEG = sync.OnceValues(func() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, camera.ColorBars(640, 480), &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
})

// wantsProtobuf reports whether the client asked for base64 protobuf events.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

const partHeader = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"

// writePart writes one JPEG as a multipart/x-mixed-replace part.
func writePart(w io.Writer, jpegData []byte) error {
	for _, chunk := range [][]byte{[]byte(partHeader), jpegData, []byte("\r\n")} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// streamMJPEGFromChannel writes every composite from frameCh as an MJPEG part
// until the client leaves or the channel closes. A blank pattern is sent
// whenever the feed stalls.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	stall := time.NewTimer(blankFrameAfter)
	defer stall.Stop()

	for {
		part := blank
		select {
		case <-ctx.Done():
			return
		case data, open := <-frameCh:
			if !open {
				return
			}
			part = data
		case <-stall.C:
		}
		stall.Reset(blankFrameAfter)

		if err := writePart(w, part); err != nil {
			logger.Debug("MJPEG", "Client gone: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
// initial, when non-nil, is sent before any broadcast event.
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool, initial *SerializedEvent, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	write := func(format string, args ...any) bool {
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			logger.Debug("SSE", "Client gone: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}
	payload := func(event *SerializedEvent) []byte {
		if useProtobuf {
			return event.ProtobufData
		}
		return event.JSONData
	}

	if initial != nil && !write("data: %s\n\n", payload(initial)) {
		return
	}

	keepAliveTicker := time.NewTicker(keepAlive)
	defer keepAliveTicker.Stop()

	for {
		var ok bool
		select {
		case <-ctx.Done():
			return
		case event, open := <-eventCh:
			if !open {
				return
			}
			ok = write("data: %s\n\n", payload(event))
		case <-keepAliveTicker.C:
			// Comment line; EventSource ignores it
			ok = write(": keepalive\n\n")
		}
		if !ok {
			return
		}
	}
}
