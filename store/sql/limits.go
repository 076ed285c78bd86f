package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aloks98/restauth/store"
)

// LoadPolicy returns the override document, or nil.
func (s *Store) LoadPolicy(ctx context.Context) ([]byte, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var doc string
	err := s.db.GetContext(ctx, &doc, s.stmt.selectPolicy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return []byte(doc), nil
}

// SavePolicy replaces the override document.
func (s *Store) SavePolicy(ctx context.Context, doc []byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.upsertPolicy, string(doc), time.Now().UnixMilli())
	return err
}

// DeletePolicy removes the override document.
func (s *Store) DeletePolicy(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.deletePolicy)
	return err
}

type counterRow struct {
	Hits    int64 `db:"hits"`
	ResetAt int64 `db:"reset_at"`
}

// IncrementCounter bumps key's fixed-window counter with one upsert and
// reads the result back inside the same transaction.
func (s *Store) IncrementCounter(ctx context.Context, key string, window time.Duration, now time.Time) (store.Counter, error) {
	nowMS := now.UnixMilli()
	var row counterRow
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.stmt.upsertCounter, key, now.Add(window).UnixMilli(), nowMS, nowMS); err != nil {
			return err
		}
		return tx.GetContext(ctx, &row, s.stmt.selectCounter, key, nowMS)
	})
	if err != nil {
		return store.Counter{}, err
	}
	return store.Counter{Count: row.Hits, ResetAt: time.UnixMilli(row.ResetAt)}, nil
}

// GetCounter reads key's counter without mutating it.
func (s *Store) GetCounter(ctx context.Context, key string, now time.Time) (store.Counter, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row counterRow
	err := s.db.GetContext(ctx, &row, s.stmt.selectCounter, key, now.UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counter{}, false, nil
	}
	if err != nil {
		return store.Counter{}, false, s.classify(err)
	}
	return store.Counter{Count: row.Hits, ResetAt: time.UnixMilli(row.ResetAt)}, true, nil
}

// DeleteExpiredCounters prunes counters whose window has ended.
func (s *Store) DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.exec(ctx, s.stmt.deleteExpiredCounter, now.UnixMilli())
}
