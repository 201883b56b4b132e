package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"reconf/internal/event"
	"reconf/internal/logging"
	"reconf/internal/metrics"
)

const defaultDebounce = 100 * time.Millisecond

var ErrClosed = errors.New("watcher is closed")

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	bus := options.Bus
	if bus == nil {
		bus = event.Default()
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	instance := &Watcher{
		fs:       source,
		bus:      bus,
		logger:   logger,
		registry: registry,
		debounce: debounce,
		files:    make(map[string]*watchedFile),
		dirs:     make(map[string]*dirWatch),
		events:   make(chan fsnotify.Event, 16),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

// Add registers a file path for watching. Adding an already-watched path is
// a no-op, and a path that does not exist is logged and ignored. The parent
// directory gains an OS-level monitor when its first file is added.
func (w *Watcher) Add(path string) error {
	if w == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		w.logWarn("watch path does not exist, ignoring", map[string]string{
			"path": abs,
		})
		return nil
	}
	if info.IsDir() {
		w.logWarn("watch path is a directory, ignoring", map[string]string{
			"path": abs,
		})
		return nil
	}

	checksum, err := fileChecksum(abs)
	if err != nil {
		w.logWarn("initial checksum failed, ignoring path", map[string]string{
			"path":  abs,
			"error": err.Error(),
		})
		return nil
	}

	dir := filepath.Dir(abs)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if _, ok := w.files[abs]; ok {
		w.mu.Unlock()
		return nil
	}

	w.files[abs] = &watchedFile{checksum: checksum}
	entry, haveDir := w.dirs[dir]
	if haveDir {
		entry.refs++
	} else {
		entry = &dirWatch{refs: 1, pending: make(map[string]pendingChange)}
		w.dirs[dir] = entry
	}
	fileCount, dirCount := len(w.files), len(w.dirs)
	w.mu.Unlock()

	if !haveDir {
		if err := w.fs.Add(dir); err != nil {
			w.mu.Lock()
			delete(w.files, abs)
			if current, ok := w.dirs[dir]; ok {
				current.refs--
				if current.refs <= 0 {
					delete(w.dirs, dir)
				}
			}
			w.mu.Unlock()
			w.logWarn("directory monitor add failed", map[string]string{
				"dir":   dir,
				"error": err.Error(),
			})
			return err
		}
	}

	w.registry.SetWatchedFiles(fileCount, dirCount)
	w.logDebug("watch added", abs, fileCount)
	return nil
}

// Remove stops watching a path, tearing down the directory monitor when it
// was the last watched file under that directory.
func (w *Watcher) Remove(path string) error {
	if w == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	if _, ok := w.files[abs]; !ok {
		w.mu.Unlock()
		return nil
	}
	delete(w.files, abs)

	removeDir := false
	if entry, ok := w.dirs[dir]; ok {
		delete(entry.pending, abs)
		entry.refs--
		if entry.refs <= 0 {
			if entry.timer != nil {
				entry.timer.Stop()
				entry.timer = nil
			}
			delete(w.dirs, dir)
			removeDir = true
		}
	}
	fileCount, dirCount := len(w.files), len(w.dirs)
	closed := w.closed
	w.mu.Unlock()

	if removeDir && !closed {
		if err := w.fs.Remove(dir); err != nil {
			w.logWarn("directory monitor remove failed", map[string]string{
				"dir":   dir,
				"error": err.Error(),
			})
		}
	}

	w.registry.SetWatchedFiles(fileCount, dirCount)
	w.logDebug("watch removed", abs, fileCount)
	return nil
}

// Start begins translating notifications into events. Starting with zero
// watched files, or while already running, is a no-op.
func (w *Watcher) Start() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.running || len(w.files) == 0 {
		return
	}
	w.running = true
}

// Stop halts event translation and cancels pending debounce timers.
// Checksum baselines survive a stop/start cycle.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	for _, entry := range w.dirs {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.pending = make(map[string]pendingChange)
	}
}

func (w *Watcher) IsRunning() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Close releases the underlying notification source. The watcher cannot be
// reused afterwards.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.running = false
	for _, entry := range w.dirs {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}

// Metrics reports current watcher stats.
func (w *Watcher) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	w.mu.Lock()
	files, dirs := len(w.files), len(w.dirs)
	w.mu.Unlock()
	return Metrics{
		WatchedFiles:     files,
		DirectoryMonitor: dirs,
		EventsDispatched: atomic.LoadUint64(&w.eventsDispatched),
		EventsSuppressed: atomic.LoadUint64(&w.eventsSuppressed),
	}
}

func (w *Watcher) run() {
	for {
		select {
		case notification := <-w.events:
			w.handleNotification(notification)
		case err := <-w.errors:
			w.registry.IncWatchError()
			w.logWarn("notification source error", map[string]string{
				"error": err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) startForwarder(source *fsnotify.Watcher) {
	go func() {
		for {
			select {
			case notification, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case w.events <- notification:
				case <-w.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case w.errors <- err:
				case <-w.done:
					return
				}
			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) logWarn(message string, fields map[string]string) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Warn(message, withWatcherFields(fields))
}

func (w *Watcher) logDebug(message, path string, fileCount int) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Debug(message, withWatcherFields(map[string]string{
		"path":          path,
		"watched_files": strconv.Itoa(fileCount),
	}))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["component"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
