package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry accumulates counters for the reload subsystem and renders them in
// Prometheus text exposition format.
type Registry struct {
	reloadSucceeded   atomic.Int64
	reloadFailed      atomic.Int64
	rollbackSucceeded atomic.Int64
	rollbackFailed    atomic.Int64
	reloadNanos       atomic.Int64
	eventsSuppressed  atomic.Int64
	watchErrors       atomic.Int64
	watchedFiles      atomic.Int64
	watchedDirs       atomic.Int64
	buses             sync.Map
	handlerCounts     sync.Map
}

type busStats struct {
	published     atomic.Int64
	handlerPanics atomic.Int64
}

var Default = &Registry{}

func (r *Registry) RecordReload(duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.reloadNanos.Add(duration.Nanoseconds())
	if err != nil {
		r.reloadFailed.Add(1)
		return
	}
	r.reloadSucceeded.Add(1)
}

func (r *Registry) RecordRollback(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.rollbackFailed.Add(1)
		return
	}
	r.rollbackSucceeded.Add(1)
}

func (r *Registry) IncEventPublished(bus, kind string) {
	if r == nil {
		return
	}
	r.busStats(bus, kind).published.Add(1)
}

func (r *Registry) IncHandlerPanic(bus, kind string) {
	if r == nil {
		return
	}
	r.busStats(bus, kind).handlerPanics.Add(1)
}

// IncEventSuppressed counts notifications discarded because the file content
// checksum did not change.
func (r *Registry) IncEventSuppressed() {
	if r == nil {
		return
	}
	r.eventsSuppressed.Add(1)
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Add(1)
}

func (r *Registry) SetWatchedFiles(files, dirs int) {
	if r == nil {
		return
	}
	r.watchedFiles.Store(int64(files))
	r.watchedDirs.Store(int64(dirs))
}

func (r *Registry) SetHandlerCount(bus string, count int) {
	if r == nil {
		return
	}
	value, _ := r.handlerCounts.LoadOrStore(bus, &atomic.Int64{})
	value.(*atomic.Int64).Store(int64(count))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "reconf_reloads_succeeded_total", "Successful configuration reloads", r.reloadSucceeded.Load())
	writeCounter(writer, "reconf_reloads_failed_total", "Failed configuration reloads", r.reloadFailed.Load())
	writeCounter(writer, "reconf_rollbacks_succeeded_total", "Successful configuration rollbacks", r.rollbackSucceeded.Load())
	writeCounter(writer, "reconf_rollbacks_failed_total", "Failed configuration rollbacks", r.rollbackFailed.Load())
	writeCounter(writer, "reconf_events_suppressed_total", "Notifications discarded as checksum no-ops", r.eventsSuppressed.Load())
	writeCounter(writer, "reconf_watch_errors_total", "Filesystem notification errors", r.watchErrors.Load())
	writeGauge(writer, "reconf_watched_files", "Files currently watched", r.watchedFiles.Load())
	writeGauge(writer, "reconf_watched_directories", "Directory monitors currently held", r.watchedDirs.Load())

	reloadSeconds := float64(r.reloadNanos.Load()) / float64(time.Second)
	writeHelp(writer, "reconf_reload_duration_seconds_total", "Cumulative time spent in reloads")
	fmt.Fprintln(writer, "# TYPE reconf_reload_duration_seconds_total counter")
	fmt.Fprintf(writer, "reconf_reload_duration_seconds_total %.6f\n", reloadSeconds)

	busKeys := r.busKeys()
	sort.Strings(busKeys)

	writeHelp(writer, "reconf_events_published_total", "Events dispatched on a bus")
	fmt.Fprintln(writer, "# TYPE reconf_events_published_total counter")
	writeHelp(writer, "reconf_handler_panics_total", "Handler invocations that panicked")
	fmt.Fprintln(writer, "# TYPE reconf_handler_panics_total counter")
	for _, key := range busKeys {
		bus, kind := splitBusKey(key)
		stats := r.busStats(bus, kind)
		labels := fmt.Sprintf("{bus=%s,kind=%s}", formatLabel(bus), formatLabel(kind))
		fmt.Fprintf(writer, "reconf_events_published_total%s %d\n", labels, stats.published.Load())
		fmt.Fprintf(writer, "reconf_handler_panics_total%s %d\n", labels, stats.handlerPanics.Load())
	}

	handlerBuses := r.handlerBuses()
	sort.Strings(handlerBuses)
	writeHelp(writer, "reconf_registered_handlers", "Handlers registered on a bus")
	fmt.Fprintln(writer, "# TYPE reconf_registered_handlers gauge")
	for _, bus := range handlerBuses {
		value, ok := r.handlerCounts.Load(bus)
		if !ok {
			continue
		}
		fmt.Fprintf(writer, "reconf_registered_handlers{bus=%s} %d\n", formatLabel(bus), value.(*atomic.Int64).Load())
	}

	return nil
}

func (r *Registry) busStats(bus, kind string) *busStats {
	if strings.TrimSpace(bus) == "" {
		bus = "unknown"
	}
	if strings.TrimSpace(kind) == "" {
		kind = "unknown"
	}
	value, _ := r.buses.LoadOrStore(bus+"\x00"+kind, &busStats{})
	return value.(*busStats)
}

func (r *Registry) busKeys() []string {
	if r == nil {
		return nil
	}
	var keys []string
	r.buses.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			keys = append(keys, name)
		}
		return true
	})
	return keys
}

func (r *Registry) handlerBuses() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.handlerCounts.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func splitBusKey(key string) (string, string) {
	parts := strings.SplitN(key, "\x00", 2)
	if len(parts) != 2 {
		return key, "unknown"
	}
	return parts[0], parts[1]
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
