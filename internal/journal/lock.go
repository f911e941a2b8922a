package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned by TryLock when another run already holds the
// flight.
var ErrRunInProgress = errors.New("a checkpoint run is already in progress for this flight")

// runLockNamespace is the first key of the two-key advisory lock; the second
// is hashtext(flight_id).
const runLockNamespace = int32(0x55415631)

// Locker grants at most one checkpoint run per flight at a time.
type Locker interface {
	// TryLock takes the flight's run lock without waiting. It returns
	// ErrRunInProgress when the lock is held elsewhere. The returned func
	// releases the lock.
	TryLock(ctx context.Context, flightID string) (unlock func(), err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *MemoryLocker) TryLock(_ context.Context, flightID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[flightID]; ok {
		return nil, fmt.Errorf("flight %s: %w", flightID, ErrRunInProgress)
	}
	l.held[flightID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, flightID)
			l.mu.Unlock()
		})
	}, nil
}

// PostgresLocker holds a session-level advisory lock per flight, so runs on
// different daemon instances sharing a database exclude each other. The lock
// pins one pooled connection for the duration of the run.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLocker creates a PostgresLocker backed by pool.
func NewPostgresLocker(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLocker {
	return &PostgresLocker{pool: pool, logger: logger}
}

// TryLock implements Locker.
func (l *PostgresLocker) TryLock(ctx context.Context, flightID string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx,
		"SELECT pg_try_advisory_lock($1, hashtext($2))", runLockNamespace, flightID,
	).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("flight %s: %w", flightID, ErrRunInProgress)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The run's context may already be cancelled.
			if _, err := conn.Exec(context.Background(),
				"SELECT pg_advisory_unlock($1, hashtext($2))", runLockNamespace, flightID,
			); err != nil {
				l.logger.Warn("release run lock", zap.String("flight_id", flightID), zap.Error(err))
				// Drop the connection so the session lock dies with it.
				conn.Conn().Close(context.Background()) //nolint:errcheck
			}
			conn.Release()
		})
	}, nil
}
