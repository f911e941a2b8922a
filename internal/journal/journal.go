// Package journal keeps a local, hash-chained history of every emitted
// checkpoint.
//
// The anchor ledger holds only the latest checkpoint per flight. The journal
// keeps all of them, in emission order, each entry recording the SHA-256 of
// its predecessor so that Verify detects any tampering. The chain begins with
// a well-known genesis entry whose Hash equals GenesisHash.
//
// Two implementations of the Journal interface are provided:
//   - MemoryJournal: in-process, for testing and development.
//   - PostgresJournal: durable, for production use.
//
// The package also provides per-flight run locks (Locker).
package journal

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no journal entry matches a lookup.
var ErrNotFound = errors.New("journal entry not found")

// Journal is the append-only checkpoint history.
type Journal interface {
	// Append records a checkpoint chained to the previous entry.
	Append(ctx context.Context, rec Record) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)

	// Latest returns the highest-index entry for flightID, or ErrNotFound.
	Latest(ctx context.Context, flightID string) (*Entry, error)

	// History returns every entry for flightID in append order.
	History(ctx context.Context, flightID string) ([]*Entry, error)
}
