package event

import "time"

// Kind classifies a configuration file change. KindAny is the zero value and
// is only meaningful for handler registration, where it matches every kind.
type Kind int

const (
	KindAny Kind = iota
	KindCreated
	KindModified
	KindDeleted
	KindMoved
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// ConfigChangeEvent describes one confirmed change to a watched file.
// OldPath is set for KindMoved only; Checksum for KindCreated and
// KindModified only. Values are never mutated after construction.
type ConfigChangeEvent struct {
	Kind       Kind
	Path       string
	OldPath    string
	Checksum   string
	OccurredAt time.Time
}

func NewConfigChangeEvent(kind Kind, path, checksum string) ConfigChangeEvent {
	return ConfigChangeEvent{
		Kind:       kind,
		Path:       path,
		Checksum:   checksum,
		OccurredAt: time.Now().UTC(),
	}
}

func NewMoveEvent(oldPath, newPath string) ConfigChangeEvent {
	return ConfigChangeEvent{
		Kind:       KindMoved,
		Path:       newPath,
		OldPath:    oldPath,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ConfigChangeEvent) Type() string {
	return "config_" + e.Kind.String()
}

func (e ConfigChangeEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Handler consumes dispatched events. Handlers run on the dispatching
// goroutine, which for watcher-originated events is the watcher's own
// notification loop.
type Handler func(ConfigChangeEvent)

// HandlerID identifies one registration. Handlers are funcs and therefore
// not comparable, so unregistration goes through the ID returned at
// registration time.
type HandlerID uint64
