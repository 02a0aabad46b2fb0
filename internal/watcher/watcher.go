// Package watcher turns files dropped into the inbox directory into render
// jobs.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// DefaultSettle is how long a file must be quiet before its event fires.
const DefaultSettle = 300 * time.Millisecond

// FSWatcher reports changes in a directory through fsnotify. Bursts of
// events for one path (create then several writes while a client copies a
// file in) are coalesced into a single callback once the path settles.
type FSWatcher struct {
	logger *slog.Logger
	settle time.Duration

	mu       sync.Mutex
	fs       *fsnotify.Watcher
	callback func(path string, event EventType)
	pending  map[string]*pendingEvent
	stopped  bool
	loopOnce sync.Once
}

type pendingEvent struct {
	timer *time.Timer
	event EventType
}

func NewFSWatcher(logger *slog.Logger, settle time.Duration) (*FSWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &FSWatcher{
		logger:  logger,
		settle:  settle,
		fs:      fs,
		pending: make(map[string]*pendingEvent),
	}, nil
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch adds path and, on first use, starts the event loop. The loop ends
// when ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("watcher stopped")
	}
	w.mu.Unlock()

	if err := w.fs.Add(path); err != nil {
		return err
	}
	w.logger.Info("watching directory", "dir", path)

	w.loopOnce.Do(func() { go w.loop(ctx) })
	return nil
}

func (w *FSWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.logger.Debug("fsnotify event", "file", ev.Name, "op", ev.Op.String())
			switch {
			case ev.Has(fsnotify.Create):
				w.schedule(ev.Name, EventCreate)
			case ev.Has(fsnotify.Write):
				w.schedule(ev.Name, EventModify)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.schedule(ev.Name, EventDelete)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for path. A create followed by writes
// is still reported as a create.
func (w *FSWatcher) schedule(path string, event EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		if event == EventModify && p.event == EventCreate {
			event = EventCreate
		}
	}
	pe := &pendingEvent{event: event}
	w.pending[path] = pe
	pe.timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		if w.pending[path] != pe {
			// superseded by a later event
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		cb := w.callback
		stopped := w.stopped
		w.mu.Unlock()
		if cb != nil && !stopped {
			cb(path, event)
		}
	})
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.fs.Close()
}
