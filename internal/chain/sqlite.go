package chain

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const sqliteSelect = `SELECT id, seq, prev_hash, hash, payload_kind, payload, created_at FROM chain_records`

// SQLiteStore persists the chain to a single SQLite database file.
// It implements the Store interface.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	logger *zap.Logger

	// SQLite has no advisory locks; appends from this process are serialised here.
	mu sync.Mutex
}

// NewSQLiteStore wraps db and creates the chain_records table if needed.
// db must be opened with the "sqlite" driver.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, opts: buildOptions(opts), logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate sqlite chain store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS chain_records (
		id             TEXT PRIMARY KEY,
		seq            INTEGER NOT NULL UNIQUE,
		prev_hash      TEXT NOT NULL,
		hash           TEXT NOT NULL,
		payload_kind   TEXT NOT NULL,
		payload        TEXT NOT NULL,
		payload_digest TEXT NOT NULL,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chain_records_digest_idx ON chain_records (payload_digest);`)
	return err
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, payload Payload) (*Record, error) {
	value, err := payload.Value()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	canon, err := payload.Canonical()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canon)
	digest := hex.EncodeToString(sum[:])

	defer s.opts.lockHead()()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if s.opts.rejectDuplicates {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chain_records WHERE payload_digest = ?`, digest,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if n > 0 {
			return nil, ErrDuplicatePayload
		}
	}

	var prev *Record
	var tail Record
	err = tx.QueryRowContext(ctx,
		`SELECT seq, hash FROM chain_records ORDER BY seq DESC LIMIT 1`,
	).Scan(&tail.Sequence, &tail.Hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read chain tail: %w", err)
	default:
		prev = &tail
	}

	r, err := newRecord(uuid.NewString(), prev, payload, time.Now())
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chain_records (id, seq, prev_hash, hash, payload_kind, payload, payload_digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Sequence, r.PrevHash, r.Hash, string(payload.Kind()), string(value), digest,
		r.Timestamp.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert chain record: %w", err)
	}

	if err := tx.Commit(); err != nil {
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
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, sqliteSelect+` ORDER BY seq ASC`)
}

// Since implements Store.
func (s *SQLiteStore) Since(ctx context.Context, after int64) ([]*Record, error) {
	return s.query(ctx, sqliteSelect+` WHERE seq > ? ORDER BY seq ASC`, after)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chain record %q: %w", id, err)
	}
	return r, nil
}

// ByAttribute implements Store.
func (s *SQLiteStore) ByAttribute(ctx context.Context, attr Attribute, value string) ([]*Record, error) {
	return s.query(ctx,
		sqliteSelect+` WHERE payload_kind = 'object'
		  AND CAST(json_extract(payload, '$.' || ?) AS TEXT) = ?
		ORDER BY seq ASC`,
		string(attr), value,
	)
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context) (*Record, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, sqliteSelect+` ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest chain record: %w", err)
	}
	return r, nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chain records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanSQLiteRecord reads created_at as RFC 3339 text, which is how Append
// writes it.
func scanSQLiteRecord(row rowScanner) (*Record, error) {
	var (
		r       Record
		kind    string
		value   string
		created string
	)
	if err := row.Scan(&r.ID, &r.Sequence, &r.PrevHash, &r.Hash, &kind, &value, &created); err != nil {
		return nil, err
	}
	r.Payload = decodeStoredPayload(PayloadKind(kind), []byte(value))
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.Timestamp = ts.UTC()
	return &r, nil
}
