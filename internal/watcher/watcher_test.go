package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"reconf/internal/event"
)

const testDebounce = 100 * time.Millisecond

func newTestWatcher(t *testing.T) (*Watcher, chan event.ConfigChangeEvent) {
	t.Helper()
	bus := event.NewBus(event.BusOptions{Name: "watcher_test"})
	changes := make(chan event.ConfigChangeEvent, 16)
	bus.Register(event.KindAny, func(change event.ConfigChangeEvent) {
		select {
		case changes <- change:
		default:
		}
	})

	watch, err := NewWithOptions(Options{
		Bus:      bus,
		Debounce: testDebounce,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		_ = watch.Close()
	})
	return watch, changes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func waitForChange(t *testing.T, changes <-chan event.ConfigChangeEvent, timeout time.Duration) (event.ConfigChangeEvent, bool) {
	t.Helper()
	select {
	case change := <-changes:
		return change, true
	case <-time.After(timeout):
		return event.ConfigChangeEvent{}, false
	}
}

func TestAddIsIdempotent(t *testing.T) {
	watch, _ := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "workflow:\n  type: react\n")

	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := watch.Add(path); err != nil {
		t.Fatalf("second add: %v", err)
	}

	stats := watch.Metrics()
	if stats.WatchedFiles != 1 {
		t.Fatalf("expected 1 watched file, got %d", stats.WatchedFiles)
	}
	if stats.DirectoryMonitor != 1 {
		t.Fatalf("expected 1 directory monitor, got %d", stats.DirectoryMonitor)
	}
}

func TestAddMissingPathIgnored(t *testing.T) {
	watch, _ := newTestWatcher(t)

	if err := watch.Add(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("expected missing path to be ignored, got %v", err)
	}
	if stats := watch.Metrics(); stats.WatchedFiles != 0 {
		t.Fatalf("expected 0 watched files, got %d", stats.WatchedFiles)
	}
}

func TestStartWithZeroFilesIsNoop(t *testing.T) {
	watch, _ := newTestWatcher(t)

	watch.Start()
	if watch.IsRunning() {
		t.Fatal("expected watcher to stay stopped with zero watched files")
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	watch, _ := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "a")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}

	watch.Start()
	watch.Start()
	if !watch.IsRunning() {
		t.Fatal("expected watcher running")
	}
}

func TestBurstCoalescesToOneEvent(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "v0")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	writeFile(t, path, "v1")
	writeFile(t, path, "v2")
	writeFile(t, path, "v3")

	change, ok := waitForChange(t, changes, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for modified event")
	}
	if change.Kind != event.KindModified {
		t.Fatalf("expected modified, got %s", change.Kind)
	}
	if change.Path != path {
		t.Fatalf("expected path %q, got %q", path, change.Path)
	}

	if extra, ok := waitForChange(t, changes, 3*testDebounce); ok {
		t.Fatalf("expected burst coalesced into one event, got extra %v", extra)
	}
}

func TestIdenticalContentSuppressed(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "same content")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	writeFile(t, path, "same content")

	if change, ok := waitForChange(t, changes, 5*testDebounce); ok {
		t.Fatalf("expected identical rewrite suppressed, got %v", change)
	}
	if stats := watch.Metrics(); stats.EventsSuppressed == 0 {
		t.Fatal("expected suppression to be counted")
	}
}

func TestSpacedWritesDispatchIndividually(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "v0")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	writeFile(t, path, "v1")
	if _, ok := waitForChange(t, changes, 2*time.Second); !ok {
		t.Fatal("timed out waiting for first event")
	}

	writeFile(t, path, "v2")
	change, ok := waitForChange(t, changes, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for second event")
	}
	if change.Kind != event.KindModified {
		t.Fatalf("expected modified, got %s", change.Kind)
	}
}

func TestDeleteDispatchesImmediately(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "v0")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	change, ok := waitForChange(t, changes, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for deleted event")
	}
	if change.Kind != event.KindDeleted {
		t.Fatalf("expected deleted, got %s", change.Kind)
	}
}

func TestRecreateAfterDeleteRebaselines(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "v0")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	if change, ok := waitForChange(t, changes, 2*time.Second); !ok || change.Kind != event.KindDeleted {
		t.Fatalf("expected deleted event, got %v (ok=%v)", change, ok)
	}

	// Same bytes as before the delete; the purged baseline makes this a
	// create, not a suppressed no-op.
	writeFile(t, path, "v0")
	change, ok := waitForChange(t, changes, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for created event")
	}
	if change.Kind != event.KindCreated {
		t.Fatalf("expected created, got %s", change.Kind)
	}
	if change.Checksum == "" {
		t.Fatal("expected created event to carry a checksum")
	}
}

func TestRemoveLastFileTearsDownDirMonitor(t *testing.T) {
	watch, _ := newTestWatcher(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.yaml")
	second := filepath.Join(dir, "b.yaml")
	writeFile(t, first, "a")
	writeFile(t, second, "b")

	if err := watch.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := watch.Add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if stats := watch.Metrics(); stats.DirectoryMonitor != 1 {
		t.Fatalf("expected files to share one monitor, got %d", stats.DirectoryMonitor)
	}

	if err := watch.Remove(first); err != nil {
		t.Fatalf("remove first: %v", err)
	}
	if stats := watch.Metrics(); stats.DirectoryMonitor != 1 {
		t.Fatalf("expected monitor kept while a file remains, got %d", stats.DirectoryMonitor)
	}

	if err := watch.Remove(second); err != nil {
		t.Fatalf("remove second: %v", err)
	}
	stats := watch.Metrics()
	if stats.WatchedFiles != 0 || stats.DirectoryMonitor != 0 {
		t.Fatalf("expected full teardown, got files=%d dirs=%d", stats.WatchedFiles, stats.DirectoryMonitor)
	}
}

func TestStopCancelsPendingEvents(t *testing.T) {
	watch, changes := newTestWatcher(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "v0")
	if err := watch.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	watch.Start()

	writeFile(t, path, "v1")
	// Give the notification a moment to land in the pending map.
	time.Sleep(testDebounce / 2)
	watch.Stop()

	if watch.IsRunning() {
		t.Fatal("expected watcher stopped")
	}
	if change, ok := waitForChange(t, changes, 3*testDebounce); ok {
		t.Fatalf("expected pending event cancelled by stop, got %v", change)
	}
}

func TestIndependentFilesDebounceIndependently(t *testing.T) {
	watch, changes := newTestWatcher(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.yaml")
	second := filepath.Join(dir, "b.yaml")
	writeFile(t, first, "a0")
	writeFile(t, second, "b0")
	if err := watch.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := watch.Add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	watch.Start()

	writeFile(t, first, "a1")
	writeFile(t, second, "b1")

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		change, ok := waitForChange(t, changes, 2*time.Second)
		if !ok {
			t.Fatalf("timed out waiting for event %d", i+1)
		}
		seen[change.Path]++
	}
	if seen[first] != 1 || seen[second] != 1 {
		t.Fatalf("expected one event per file, got %v", seen)
	}
}
