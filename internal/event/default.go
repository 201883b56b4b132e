package event

import "sync"

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Default returns the process-wide bus, constructing it on first use.
// Callers should prefer passing a bus explicitly and reach for the default
// only at the outermost wiring layer.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		defaultBus = NewBus(BusOptions{Name: "config_events"})
	}
	return defaultBus
}

// ResetDefault discards the process-wide bus so the next Default call
// constructs a fresh one. Intended for test setup only.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBus = nil
}
