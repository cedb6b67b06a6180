// Package feed ingests detection batches written by an external inference
// process into a drop directory.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

// ErrEmptyBatchFile is returned by ParseBatch for zero-length input.
var ErrEmptyBatchFile = errors.New("empty batch file")

// Sink receives every accepted batch wholesale.
type Sink interface {
	PublishDetections([]types.Detection) error
}

type batchFile struct {
	Timestamp  time.Time         `json:"timestamp"`
	Detections []types.Detection `json:"detections"`
}

// ParseBatch decodes and validates one batch file. Detections without a
// timestamp inherit the batch timestamp; detections without an ID get
// "det-{index}".
func ParseBatch(data []byte) ([]types.Detection, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyBatchFile
	}
	var f batchFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	batch := make([]types.Detection, len(f.Detections))
	for i, d := range f.Detections {
		if d.ID == "" {
			d.ID = fmt.Sprintf("det-%d", i)
		}
		if d.Timestamp.IsZero() {
			d.Timestamp = f.Timestamp
		}
		batch[i] = d
	}
	if err := types.ValidateBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// SettleDelay is how long a batch file must go without further events before
// it is loaded.
const SettleDelay = 100 * time.Millisecond

type settled struct {
	path string
	gen  uint64
}

// Watcher publishes every *.json file created in or moved into a directory.
// Bursts of events for one file collapse into a single load once the file
// has been quiet for SettleDelay.
type Watcher struct {
	dir     string
	sink    Sink
	watcher *fsnotify.Watcher

	// owned by the Run goroutine
	pending map[string]*pendingFile
	gen     uint64
	ready   chan settled
}

type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

// NewWatcher starts watching dir, creating it if needed.
func NewWatcher(dir string, sink Sink) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create drop dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:     dir,
		sink:    sink,
		watcher: w,
		pending: make(map[string]*pendingFile),
		ready:   make(chan settled),
	}, nil
}

// Run handles file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopPending()
	logger.Info("Feed", "Watching %s for detection batches", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			w.schedule(ctx, event.Name)
		case s := <-w.ready:
			p, ok := w.pending[s.path]
			if !ok || p.gen != s.gen {
				// Superseded by a later event for the same file
				continue
			}
			delete(w.pending, s.path)
			w.load(s.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Feed", "Watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.gen++
	gen := w.gen
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.pending[path] = &pendingFile{
		gen: gen,
		timer: time.AfterFunc(SettleDelay, func() {
			select {
			case w.ready <- settled{path: path, gen: gen}:
			case <-ctx.Done():
			}
		}),
	}
}

func (w *Watcher) stopPending() {
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debug("Feed", "Read %s: %v", path, err)
		return
	}
	batch, err := ParseBatch(data)
	if errors.Is(err, ErrEmptyBatchFile) {
		logger.Debug("Feed", "Skipping %s: %v", filepath.Base(path), err)
		return
	}
	if err != nil {
		logger.Warn("Feed", "Ignoring %s: %v", filepath.Base(path), err)
		return
	}
	if err := w.sink.PublishDetections(batch); err != nil {
		logger.Warn("Feed", "Batch %s rejected: %v", filepath.Base(path), err)
		return
	}
	logger.Debug("Feed", "Published %d detections from %s", len(batch), filepath.Base(path))
}
