package watcher

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"reconf/internal/event"
)

// handleNotification runs on the watcher's own event loop; it is the only
// writer of checksum baselines.
func (w *Watcher) handleNotification(notification fsnotify.Event) {
	path := notification.Name

	w.mu.Lock()
	if w.closed || !w.running {
		w.mu.Unlock()
		return
	}
	file, watched := w.files[path]
	if !watched {
		// Unwatched sibling files and directory-level notifications stop
		// here, before any checksum work.
		w.mu.Unlock()
		return
	}

	switch {
	case notification.Op&fsnotify.Remove != 0:
		w.handleGoneLocked(path, event.NewConfigChangeEvent(event.KindDeleted, path, ""))
		return
	case notification.Op&fsnotify.Rename != 0:
		// fsnotify reports only the source of a rename; the destination
		// arrives as a separate Create when it is itself watched.
		w.handleGoneLocked(path, event.NewMoveEvent(path, path))
		return
	case notification.Op&(fsnotify.Create|fsnotify.Write) != 0:
		hadBaseline := file.checksum != ""
		previous := file.checksum
		w.mu.Unlock()

		checksum, err := fileChecksum(path)
		if err != nil {
			// Transient I/O races must not kill the watcher; treat as no
			// change.
			w.logWarn("checksum failed, suppressing event", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return
		}

		w.mu.Lock()
		file, watched = w.files[path]
		if !watched || w.closed || !w.running {
			w.mu.Unlock()
			return
		}
		if hadBaseline && checksum == previous {
			w.mu.Unlock()
			atomic.AddUint64(&w.eventsSuppressed, 1)
			w.registry.IncEventSuppressed()
			return
		}
		file.checksum = checksum
		kind := event.KindModified
		if !hadBaseline {
			kind = event.KindCreated
		}
		w.markPendingLocked(path, kind, checksum)
		w.mu.Unlock()
		return
	default:
		w.mu.Unlock()
	}
}

// handleGoneLocked purges the baseline for a path that left the filesystem
// and dispatches immediately, uncoalesced. A later create re-baselines.
// Releases the lock.
func (w *Watcher) handleGoneLocked(path string, change event.ConfigChangeEvent) {
	if file, ok := w.files[path]; ok {
		file.checksum = ""
	}
	if entry, ok := w.dirs[dirOf(path)]; ok {
		delete(entry.pending, path)
	}
	w.mu.Unlock()

	atomic.AddUint64(&w.eventsDispatched, 1)
	w.bus.Dispatch(change)
}

// markPendingLocked records or overwrites the single pending slot for a
// path and arms the directory's debounce timer when none is in flight.
// An already-pending Created stays Created; the freshly dispatched event
// must reflect that the file reappeared.
func (w *Watcher) markPendingLocked(path string, kind event.Kind, checksum string) {
	dir := dirOf(path)
	entry, ok := w.dirs[dir]
	if !ok {
		return
	}
	if existing, ok := entry.pending[path]; ok && existing.kind == event.KindCreated {
		kind = event.KindCreated
	}
	entry.pending[path] = pendingChange{kind: kind, checksum: checksum, at: time.Now()}
	if entry.timer == nil {
		entry.timer = time.AfterFunc(w.debounce, func() {
			w.flushDir(dir)
		})
	}
}

// flushDir re-evaluates a directory's pending paths. Paths quiet for at
// least the debounce delay are dispatched and cleared; if any remain the
// timer reschedules for the earliest outstanding deadline, so independent
// files debounce independently.
func (w *Watcher) flushDir(dir string) {
	w.mu.Lock()
	entry, ok := w.dirs[dir]
	if !ok {
		w.mu.Unlock()
		return
	}
	entry.timer = nil
	if w.closed || !w.running {
		w.mu.Unlock()
		return
	}

	now := time.Now()
	var ready []event.ConfigChangeEvent
	var soonest time.Duration
	for path, pending := range entry.pending {
		age := now.Sub(pending.at)
		if age >= w.debounce {
			change := event.NewConfigChangeEvent(pending.kind, path, pending.checksum)
			change.OccurredAt = pending.at.UTC()
			ready = append(ready, change)
			delete(entry.pending, path)
			continue
		}
		remaining := w.debounce - age
		if soonest == 0 || remaining < soonest {
			soonest = remaining
		}
	}
	if len(entry.pending) > 0 {
		entry.timer = time.AfterFunc(soonest, func() {
			w.flushDir(dir)
		})
	}
	w.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].OccurredAt.Equal(ready[j].OccurredAt) {
			return ready[i].OccurredAt.Before(ready[j].OccurredAt)
		}
		return ready[i].Path < ready[j].Path
	})
	for _, change := range ready {
		atomic.AddUint64(&w.eventsDispatched, 1)
		w.bus.Dispatch(change)
	}
}
