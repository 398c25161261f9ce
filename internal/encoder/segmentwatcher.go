package encoder

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/heliosmedia/helios/internal/events"
	"github.com/heliosmedia/helios/internal/hls"
	"github.com/heliosmedia/helios/internal/logger"
)

// segmentWatcher publishes a segment.completed event each time the encoder
// finishes writing a segment into a rendition folder. The HLS muxer runs
// with -hls_flags temp_file, so a segment's .ts name only appears on the
// rename that completes it.
type segmentWatcher struct {
	logger  logger.Logger
	bus     events.Publisher
	jobID   string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newSegmentWatcher(log logger.Logger, bus events.Publisher, jobID string, structure *hls.OutputStructure) (*segmentWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, video := range structure.Videos {
		if err := watcher.Add(filepath.Join(structure.BasePath, video.FolderName)); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	for _, audio := range structure.Audios {
		if err := watcher.Add(filepath.Join(structure.BasePath, audio.FolderName)); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	w := &segmentWatcher{
		logger:  log.Named("segments"),
		bus:     bus,
		jobID:   jobID,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *segmentWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".ts") {
				continue
			}
			ev := events.NewEvent(events.TypeSegmentCompleted, w.jobID, map[string]interface{}{
				"rendition": filepath.Base(filepath.Dir(event.Name)),
				"segment":   filepath.Base(event.Name),
			})
			if err := w.bus.PublishAsync(ev); err != nil {
				w.logger.Debug("segment event dropped", "segment", event.Name, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("segment watcher error", "error", err)
		}
	}
}

// Close stops watching and waits for the event loop to drain.
func (w *segmentWatcher) Close() {
	w.watcher.Close()
	<-w.done
}
