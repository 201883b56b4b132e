package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"reconf/internal/event"
	"reconf/internal/logging"
	"reconf/internal/metrics"
)

// Options controls watcher behavior.
type Options struct {
	Logger   *logging.Logger
	Bus      *event.Bus
	Registry *metrics.Registry
	Debounce time.Duration
}

// Watcher observes explicit file paths, grouped under one OS-level monitor
// per parent directory, and turns raw notifications into checksum-confirmed
// ConfigChangeEvents on the bus.
type Watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	bus      *event.Bus
	logger   *logging.Logger
	registry *metrics.Registry
	debounce time.Duration

	files   map[string]*watchedFile
	dirs    map[string]*dirWatch
	running bool
	closed  bool

	events chan fsnotify.Event
	errors chan error
	done   chan struct{}

	eventsDispatched uint64
	eventsSuppressed uint64
}

// watchedFile tracks the last confirmed content checksum for one path.
// An empty checksum means the file is currently absent (deleted or moved
// away) and the next create re-baselines it.
type watchedFile struct {
	checksum string
}

// dirWatch holds the per-directory debounce state. One fsnotify monitor and
// at most one live timer exist per directory regardless of how many files
// under it are watched.
type dirWatch struct {
	refs    int
	timer   *time.Timer
	pending map[string]pendingChange
}

// pendingChange is the single slot a path occupies while debouncing. The
// timestamp is overwritten on every confirmed change, never queued, so one
// path can never have two events racing.
type pendingChange struct {
	kind     event.Kind
	checksum string
	at       time.Time
}

// Metrics reports current watcher stats.
type Metrics struct {
	WatchedFiles     int
	DirectoryMonitor int
	EventsDispatched uint64
	EventsSuppressed uint64
}
