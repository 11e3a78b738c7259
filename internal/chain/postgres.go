package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all instances writing to the same database.
const advisoryLockKey = int64(2_204_061_977)

const selectRecord = `SELECT id, seq, prev_hash, hash, payload_kind, payload, created_at FROM chain_records`

// PostgresStore persists the chain to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	opts   options
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
// The chain_records table is created by cmd/migrate.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: buildOptions(opts), logger: logger}
}

// Append implements Store.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new record hash, and inserts it, all within a single transaction.
func (s *PostgresStore) Append(ctx context.Context, payload Payload) (*Record, error) {
	value, err := payload.Value()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	defer s.opts.lockHead()()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	if s.opts.rejectDuplicates {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chain_records WHERE payload_kind = $1 AND payload = $2::jsonb)`,
			string(payload.Kind()), value,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if exists {
			return nil, ErrDuplicatePayload
		}
	}

	var prev *Record
	var tail Record
	err = tx.QueryRow(ctx,
		"SELECT seq, hash FROM chain_records ORDER BY seq DESC LIMIT 1",
	).Scan(&tail.Sequence, &tail.Hash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read chain tail: %w", err)
	default:
		prev = &tail
	}

	r, err := newRecord(uuid.NewString(), prev, payload, time.Now())
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_records (id, seq, prev_hash, hash, payload_kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		r.ID, r.Sequence, r.PrevHash, r.Hash, string(payload.Kind()), value, r.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert chain record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chain tx: %w", err)
	}

	if err := s.opts.afterAppend(ctx, r); err != nil {
		return nil, fmt.Errorf("seal head: %w", err)
	}

	s.logger.Debug("chain record appended",
		zap.Int64("seq", r.Sequence),
		zap.String("id", r.ID),
		zap.String("kind", string(payload.Kind())),
	)
	return r, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, selectRecord+` ORDER BY seq ASC`)
}

// Since implements Store.
func (s *PostgresStore) Since(ctx context.Context, after int64) ([]*Record, error) {
	return s.query(ctx, selectRecord+` WHERE seq > $1 ORDER BY seq ASC`, after)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chain record %q: %w", id, err)
	}
	return r, nil
}

// ByAttribute implements Store.
func (s *PostgresStore) ByAttribute(ctx context.Context, attr Attribute, value string) ([]*Record, error) {
	return s.query(ctx,
		selectRecord+` WHERE payload_kind = 'object' AND payload ->> $1 = $2 ORDER BY seq ASC`,
		string(attr), value,
	)
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context) (*Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest chain record: %w", err)
	}
	return r, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chain_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chain records: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Row(s).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r     Record
		kind  string
		value []byte
	)
	if err := row.Scan(&r.ID, &r.Sequence, &r.PrevHash, &r.Hash, &kind, &value, &r.Timestamp); err != nil {
		return nil, err
	}
	r.Payload = decodeStoredPayload(PayloadKind(kind), value)
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

// decodeStoredPayload parses a stored payload and checks it against its
// declared kind. Unreadable values are kept as corrupt payloads so the
// verifier reports them as a hash mismatch instead of the read failing.
func decodeStoredPayload(kind PayloadKind, value []byte) Payload {
	p, err := ParsePayload(value)
	if err != nil || p.Kind() != kind {
		return corruptPayload(value)
	}
	return p
}
