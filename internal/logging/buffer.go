package logging

import (
	"sync"

	"reconf/internal/buffer"
)

// Buffer retains the most recent log entries for inspection.
type Buffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[Entry]
}

func NewBuffer(size int) *Buffer {
	return &Buffer{
		entries: buffer.NewRing[Entry](size),
	}
}

func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.entries == nil {
		return
	}
	b.entries.Add(entry)
}

func (b *Buffer) List() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entries.List()
}
