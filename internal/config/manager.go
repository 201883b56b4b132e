package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"reconf/internal/event"
	"reconf/internal/logging"
	"reconf/internal/metrics"
)

// ManagerOptions configures a Manager. Zero values fall back to the default
// loader, the process-wide bus, and the default metrics registry.
type ManagerOptions struct {
	Loader        Loader
	Bus           *event.Bus
	Logger        *logging.Logger
	Registry      *metrics.Registry
	MaxSnapshots  int
	InitialConfig *Config
}

// Manager owns the current configuration for one file and serializes every
// operation behind a single mutex. Public methods lock once and delegate to
// non-locking private helpers, so no call path ever re-enters the lock.
// Two Manager instances are fully independent.
type Manager struct {
	mu       sync.Mutex
	path     string
	loader   Loader
	bus      *event.Bus
	logger   *logging.Logger
	registry *metrics.Registry

	current     *Config
	overrides   *OverrideMap
	snapshots   *SnapshotStore
	reloadCount int64
	disposed    bool
	handlerID   event.HandlerID
}

// NewManager loads and validates the file (unless a preloaded configuration
// is supplied), takes the first snapshot, and registers a log-only bus
// handler for its path. It never returns a half-usable manager: any failure
// surfaces as an error and nothing is registered.
func NewManager(path string, opts ManagerOptions) (*Manager, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	loader := opts.Loader
	if loader == nil {
		loader = Load
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.Default
	}

	manager := &Manager{
		path:      abs,
		loader:    loader,
		bus:       bus,
		logger:    opts.Logger,
		registry:  registry,
		overrides: NewOverrideMap(),
		snapshots: NewSnapshotStore(opts.MaxSnapshots),
	}

	if opts.InitialConfig != nil {
		if err := opts.InitialConfig.Validate(); err != nil {
			return nil, &ValidationError{Path: abs, Err: err}
		}
		manager.current = opts.InitialConfig.Clone()
	} else {
		cfg, err := loader(abs)
		if err != nil {
			return nil, err
		}
		manager.current = cfg
	}

	manager.snapshots.Push(manager.current, manager.overrides)
	manager.handlerID = bus.Register(event.KindAny, manager.onChangeEvent)
	return manager, nil
}

// onChangeEvent only logs today; reload stays an explicit caller decision.
func (m *Manager) onChangeEvent(change event.ConfigChangeEvent) {
	if change.Path != m.path {
		return
	}
	if m.logger != nil {
		m.logger.Info("configuration file changed on disk", map[string]string{
			"path": change.Path,
			"kind": change.Kind.String(),
		})
	}
}

func (m *Manager) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

// Current returns the active configuration. The returned document is never
// mutated in place; every state change swaps in a fresh copy, so callers
// may hold the pointer across reloads.
func (m *Manager) Current() *Config {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) ReloadCount() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadCount
}

// Overrides returns the stored override entries in insertion order.
func (m *Manager) Overrides() []Override {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrides.Entries()
}

// SetOverrides stores overrides layered on the current configuration and
// applies them immediately. Syntactically invalid paths are logged and
// skipped; an override that fails to apply stays stored but leaves the
// configuration untouched. The batch itself never fails.
func (m *Manager) SetOverrides(values map[string]string) {
	if m == nil || len(values) == 0 {
		return
	}

	paths := make([]string, 0, len(values))
	for path := range values {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range paths {
		if err := ValidateOverridePath(path); err != nil {
			m.logWarn("override path rejected", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		m.overrides.Set(path, values[path])
		next, err := applyOverride(m.current, Override{Path: path, Value: values[path]})
		if err != nil {
			m.logWarn("override application failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		m.current = next
	}
}

// Validate loads and validates the document without mutating any state.
// On success the validated result is returned as a pure read.
func (m *Manager) Validate() (*Config, error) {
	if m == nil {
		return nil, fmt.Errorf("manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loader(m.path)
}

// Reload re-reads the document and, on success, atomically swaps the
// current configuration, bumps the reload count, snapshots the post-reload
// state together with the override map as it stands, and reapplies every
// stored override. On failure it returns a ReloadError wrapping the cause
// and mutates nothing.
func (m *Manager) Reload() error {
	if m == nil {
		return fmt.Errorf("manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	started := time.Now()
	cfg, err := m.loader(m.path)
	m.registry.RecordReload(time.Since(started), err)
	if err != nil {
		m.logWarn("reload failed, keeping previous configuration", map[string]string{
			"path":  m.path,
			"error": err.Error(),
		})
		return &ReloadError{Op: "reload", Err: err}
	}

	m.current = cfg
	m.reloadCount++
	m.snapshots.Push(m.current, m.overrides)
	m.reapplyOverridesLocked()

	m.logInfo("configuration reloaded", map[string]string{
		"path":         m.path,
		"reload_count": fmt.Sprintf("%d", m.reloadCount),
	})
	return nil
}

// Rollback restores configuration and overrides from the snapshot store,
// truncating history to the restored point, then reapplies the restored
// overrides. Asking for more steps than the retained history is a
// ReloadError with state unchanged.
func (m *Manager) Rollback(steps int) error {
	if m == nil {
		return fmt.Errorf("manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.snapshots.RollbackTarget(steps)
	m.registry.RecordRollback(err)
	if err != nil {
		return &ReloadError{Op: "rollback", Err: err}
	}

	m.current = target.Config.Clone()
	m.overrides = target.Overrides.Clone()
	m.reloadCount++
	m.reapplyOverridesLocked()

	m.logInfo("configuration rolled back", map[string]string{
		"path":  m.path,
		"steps": fmt.Sprintf("%d", steps),
	})
	return nil
}

// reapplyOverridesLocked layers every stored override onto the current
// configuration. Each entry is independently fallible: a failure is logged
// and dropped from this application without undoing anything.
func (m *Manager) reapplyOverridesLocked() {
	for _, entry := range m.overrides.Entries() {
		next, err := applyOverride(m.current, entry)
		if err != nil {
			m.logWarn("override reapplication failed", map[string]string{
				"path":  entry.Path,
				"error": err.Error(),
			})
			continue
		}
		m.current = next
	}
}

// Snapshots returns the retained history, oldest first.
func (m *Manager) Snapshots() []Snapshot {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots.List()
}

// ClearSnapshots discards history, keeping only the current snapshot.
func (m *Manager) ClearSnapshots() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots.TrimToLatest()
}

// Dispose unregisters the bus handler. It is idempotent and safe to invoke
// on any exit path, including an exceptional unwind.
func (m *Manager) Dispose() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	handlerID := m.handlerID
	m.handlerID = 0
	m.mu.Unlock()

	if handlerID != 0 {
		m.bus.Unregister(handlerID)
	}
}

func (m *Manager) logWarn(message string, fields map[string]string) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Warn(message, fields)
}

func (m *Manager) logInfo(message string, fields map[string]string) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Info(message, fields)
}
