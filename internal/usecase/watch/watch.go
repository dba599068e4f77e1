// Package usecase_watch turns a stream of room snapshots into the two
// transitions clients actually act on: "everyone has submitted" and "the
// room restarted under me". Snapshots may be redelivered unchanged and may
// race the subscription itself, so both detections are driven by explicit
// per-subscription state instead of comparing consecutive payloads.
package usecase_watch

import (
	"log/slog"
	"sync"

	"github.com/rankparty/core/internal/model"
)

type Watcher struct {
	mu sync.Mutex

	onSnapshot     func(model.Room)
	onAllSubmitted func(model.Room)
	onRestart      func(model.Room)
	logger         *slog.Logger

	baseline        int64
	baselineSet     bool
	completionFired bool
	closed          bool
	release         func()
}

type WatcherOption func(*Watcher)

func OnSnapshot(fn func(model.Room)) WatcherOption {
	return func(w *Watcher) {
		w.onSnapshot = fn
	}
}

func OnAllSubmitted(fn func(model.Room)) WatcherOption {
	return func(w *Watcher) {
		w.onAllSubmitted = fn
	}
}

func OnRestart(fn func(model.Room)) WatcherOption {
	return func(w *Watcher) {
		w.onRestart = fn
	}
}

func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func New(opts ...WatcherOption) *Watcher {
	w := &Watcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Seed sets the restart baseline from a one-shot read. The baseline is
// first-observed-wins: if a pushed snapshot got there first, the seed is
// ignored, so a restart landing between read and first push still fires.
func (w *Watcher) Seed(room model.Room) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.baselineSet {
		return
	}
	w.baseline = room.RestartedAt
	w.baselineSet = true
}

// Observe consumes one snapshot. Safe to call with redelivered payloads;
// each transition fires at most once per occurrence.
func (w *Watcher) Observe(room model.Room) {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return
	}

	restarted := false
	if !w.baselineSet {
		w.baseline = room.RestartedAt
		w.baselineSet = true
	} else if room.RestartedAt != 0 && room.RestartedAt != w.baseline {
		// Advance immediately so a second restart arriving while this
		// one's callback runs is detected rather than absorbed.
		w.baseline = room.RestartedAt
		w.completionFired = false
		restarted = true
	}

	completed := false
	if !restarted && room.AllSubmitted() && !w.completionFired {
		w.completionFired = true
		completed = true
	}

	onSnapshot, onRestart, onAllSubmitted := w.onSnapshot, w.onRestart, w.onAllSubmitted
	w.mu.Unlock()

	if onSnapshot != nil {
		onSnapshot(room)
	}
	if restarted && onRestart != nil {
		onRestart(room)
	}
	if completed && onAllSubmitted != nil {
		onAllSubmitted(room)
	}
}

// Bind attaches the store-level release func so Close tears the
// subscription down with the watcher.
func (w *Watcher) Bind(release func()) {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.release = release
	w.mu.Unlock()

	if alreadyClosed && release != nil {
		release()
	}
}

// Close is idempotent and stops callback invocation immediately; a snapshot
// already in flight becomes a no-op.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	release := w.release
	w.mu.Unlock()

	if release != nil {
		release()
	}
}
