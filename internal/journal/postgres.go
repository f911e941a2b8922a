package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// appendLockKey serialises concurrent Append calls across all daemon
// instances sharing a database.
const appendLockKey = int64(1_730_425_117)

const entryColumns = `idx, timestamp, flight_id, seq_no, tip_hash, storage_key, storage_version,
	mission_key, tx_hash, run_id, prev_hash, hash`

// PostgresJournal persists the checkpoint journal to PostgreSQL. The
// checkpoint_journal table and its genesis row are created by migrations.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresJournal creates a PostgresJournal backed by pool.
func NewPostgresJournal(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{pool: pool, logger: logger}
}

// Append implements Journal. The tail read, hash computation and insert run
// in one transaction under an advisory lock.
func (j *PostgresJournal) Append(ctx context.Context, rec Record) (*Entry, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM checkpoint_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	e := newEntry(prevIdx+1, prevHash, rec)
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoint_journal (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.Index, e.Timestamp, e.FlightID, e.SeqNo, e.TipHash,
		e.StorageKey, e.StorageVersion, e.MissionKey, e.TxHash, e.RunID,
		e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", e.Index),
		zap.String("flight_id", e.FlightID),
		zap.Int("seq_no", e.SeqNo),
	)
	return e, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(
		&e.Index, &e.Timestamp, &e.FlightID, &e.SeqNo, &e.TipHash,
		&e.StorageKey, &e.StorageVersion, &e.MissionKey, &e.TxHash, &e.RunID,
		&e.PrevHash, &e.Hash,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// Get implements Journal.
func (j *PostgresJournal) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM checkpoint_journal WHERE idx = $1`, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Journal.
func (j *PostgresJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.pool.QueryRow(ctx, "SELECT COUNT(*) FROM checkpoint_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal. It streams all rows ordered by idx.
func (j *PostgresJournal) Verify(ctx context.Context) error {
	rows, err := j.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM checkpoint_journal ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Journal.
func (j *PostgresJournal) Root(ctx context.Context) (string, error) {
	var hash string
	if err := j.pool.QueryRow(ctx,
		"SELECT hash FROM checkpoint_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}

// Latest implements Journal.
func (j *PostgresJournal) Latest(ctx context.Context, flightID string) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM checkpoint_journal
		 WHERE flight_id = $1 ORDER BY idx DESC LIMIT 1`, flightID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("flight %s: %w", flightID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest journal entry for %s: %w", flightID, err)
	}
	return e, nil
}

// History implements Journal.
func (j *PostgresJournal) History(ctx context.Context, flightID string) ([]*Entry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM checkpoint_journal
		 WHERE flight_id = $1 ORDER BY idx ASC`, flightID)
	if err != nil {
		return nil, fmt.Errorf("query journal for %s: %w", flightID, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
