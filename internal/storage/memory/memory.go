// Package memory keeps the save catalog in process memory. Slots are lost
// on exit.
package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/openrails-go/fleet/internal/storage"
)

// Backend stores slots in a map keyed by name
type Backend struct {
	slots map[string]storage.Slot
	now   func() time.Time
	mu    sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		slots: make(map[string]storage.Slot),
		now:   time.Now,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Put stores a copy of slot, stamped with the save time.
func (b *Backend) Put(slot storage.Slot) error {
	if slot.Name == "" {
		return fmt.Errorf("slot name is required")
	}
	slot.Blob = slices.Clone(slot.Blob)
	slot.Summary.Trains = slices.Clone(slot.Summary.Trains)
	slot.SavedAt = b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[slot.Name] = slot
	return nil
}

// Get returns a copy of the named slot.
func (b *Backend) Get(name string) (storage.Slot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.slots[name]
	if !ok {
		return storage.Slot{}, fmt.Errorf("%q: %w", name, storage.ErrSlotNotFound)
	}
	s.Blob = slices.Clone(s.Blob)
	s.Summary.Trains = slices.Clone(s.Summary.Trains)
	return s, nil
}

// List returns every slot without its blob, newest first.
func (b *Backend) List() ([]storage.Slot, error) {
	b.mu.RLock()
	out := make([]storage.Slot, 0, len(b.slots))
	for _, s := range b.slots {
		s.Blob = nil
		s.Summary.Trains = slices.Clone(s.Summary.Trains)
		out = append(out, s)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y storage.Slot) int {
		if c := y.SavedAt.Compare(x.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	return out, nil
}
