package event

import (
	"fmt"
	"sync"

	"reconf/internal/buffer"
	"reconf/internal/logging"
	"reconf/internal/metrics"
)

const defaultHistorySize = 100

type BusOptions struct {
	Name        string
	HistorySize int
	Logger      *logging.Logger
	Registry    *metrics.Registry
}

// Bus dispatches ConfigChangeEvents to registered handlers. Kind-specific
// handlers run before global ones, each group in registration order, and
// every invocation is panic-isolated: one failing handler never prevents
// delivery to the rest.
type Bus struct {
	mu       sync.Mutex
	options  BusOptions
	logger   *logging.Logger
	registry *metrics.Registry
	nextID   HandlerID
	byKind   map[Kind][]registration
	recent   *buffer.Ring[ConfigChangeEvent]
}

type registration struct {
	id      HandlerID
	handler Handler
}

func NewBus(opts BusOptions) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.Default
	}
	return &Bus{
		options:  opts,
		logger:   opts.Logger,
		registry: registry,
		byKind:   make(map[Kind][]registration),
		recent:   buffer.NewRing[ConfigChangeEvent](opts.HistorySize),
	}
}

// Register subscribes a handler for one event kind. KindAny subscribes it to
// every kind. The same handler may be registered any number of times; each
// registration is independent.
func (b *Bus) Register(kind Kind, handler Handler) HandlerID {
	if b == nil || handler == nil {
		return 0
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byKind[kind] = append(b.byKind[kind], registration{id: id, handler: handler})
	total := b.totalHandlersLocked()
	b.mu.Unlock()

	b.registry.SetHandlerCount(b.busName(), total)
	return id
}

// Unregister removes one registration. It reports whether the ID was found.
func (b *Bus) Unregister(id HandlerID) bool {
	if b == nil || id == 0 {
		return false
	}

	removed := false
	b.mu.Lock()
	for kind, entries := range b.byKind {
		for index, entry := range entries {
			if entry.id != id {
				continue
			}
			b.byKind[kind] = append(entries[:index], entries[index+1:]...)
			if len(b.byKind[kind]) == 0 {
				delete(b.byKind, kind)
			}
			removed = true
			break
		}
		if removed {
			break
		}
	}
	total := b.totalHandlersLocked()
	b.mu.Unlock()

	if removed {
		b.registry.SetHandlerCount(b.busName(), total)
	}
	return removed
}

// Dispatch delivers an event to kind-specific handlers, then global
// handlers. It never fails and never propagates a handler panic.
func (b *Bus) Dispatch(event ConfigChangeEvent) {
	if b == nil {
		return
	}

	b.mu.Lock()
	b.recent.Add(event)
	targets := make([]registration, 0, len(b.byKind[event.Kind])+len(b.byKind[KindAny]))
	targets = append(targets, b.byKind[event.Kind]...)
	targets = append(targets, b.byKind[KindAny]...)
	b.mu.Unlock()

	b.registry.IncEventPublished(b.busName(), event.Kind.String())

	for _, target := range targets {
		b.invoke(target, event)
	}
}

func (b *Bus) invoke(target registration, event ConfigChangeEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.registry.IncHandlerPanic(b.busName(), event.Kind.String())
			if b.logger != nil {
				b.logger.Error("event handler panicked", map[string]string{
					"bus":   b.busName(),
					"kind":  event.Kind.String(),
					"path":  event.Path,
					"panic": fmt.Sprint(recovered),
				})
			}
		}
	}()
	target.handler(event)
}

// RecentEvents returns up to limit dispatched events, most recent first.
// A limit <= 0 returns the entire retained history.
func (b *Bus) RecentEvents(limit int) []ConfigChangeEvent {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent.ListNewest(limit)
}

func (b *Bus) ClearRecentEvents() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent.Clear()
}

// HandlerCount reports registrations for a kind. KindAny reports the total
// across every kind, including global registrations.
func (b *Bus) HandlerCount(kind Kind) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if kind == KindAny {
		return b.totalHandlersLocked()
	}
	return len(b.byKind[kind])
}

func (b *Bus) totalHandlersLocked() int {
	total := 0
	for _, entries := range b.byKind {
		total += len(entries)
	}
	return total
}

func (b *Bus) busName() string {
	if b == nil || b.options.Name == "" {
		return "config_events"
	}
	return b.options.Name
}
