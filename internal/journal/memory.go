package journal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryJournal is an in-memory, thread-safe Journal.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryJournal creates a MemoryJournal holding only the genesis entry.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries: []*Entry{{
			Index:     0,
			Timestamp: time.Now().UTC(),
			PrevHash:  GenesisHash,
			Hash:      GenesisHash,
		}},
	}
}

// Append implements Journal.
func (j *MemoryJournal) Append(_ context.Context, rec Record) (*Entry, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := j.entries[len(j.entries)-1]
	e := newEntry(len(j.entries), prev.Hash, rec)
	j.entries = append(j.entries, e)
	return e, nil
}

// Get implements Journal.
func (j *MemoryJournal) Get(_ context.Context, index int) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.entries) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return j.entries[index], nil
}

// Len implements Journal.
func (j *MemoryJournal) Len(context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries), nil
}

// Verify implements Journal.
func (j *MemoryJournal) Verify(context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i, curr := range j.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		if err := checkLink(j.entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

// Root implements Journal.
func (j *MemoryJournal) Root(context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1].Hash, nil
}

// Latest implements Journal.
func (j *MemoryJournal) Latest(_ context.Context, flightID string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := len(j.entries) - 1; i > 0; i-- {
		if j.entries[i].FlightID == flightID {
			return j.entries[i], nil
		}
	}
	return nil, fmt.Errorf("flight %s: %w", flightID, ErrNotFound)
}

// History implements Journal.
func (j *MemoryJournal) History(_ context.Context, flightID string) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*Entry
	for _, e := range j.entries[1:] {
		if e.FlightID == flightID {
			out = append(out, e)
		}
	}
	return out, nil
}
