package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	// Database drivers.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aloks98/restauth/store"
)

// DefaultQueryTimeout bounds every statement when Config.QueryTimeout is 0.
const DefaultQueryTimeout = 5 * time.Second

// Store implements store.Store using a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	stmt    *statements
	timeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Config holds SQL store configuration.
type Config struct {
	// Dialect specifies the database type (postgres, mysql, sqlite).
	Dialect Dialect

	// DB is an existing database connection.
	// If provided, DSN is ignored.
	DB *sql.DB

	// DSN is the data source name for connecting to the database.
	DSN string

	// TablePrefix is the prefix for all table names.
	// Defaults to "restauth_" if empty.
	TablePrefix string

	// QueryTimeout bounds each statement. Defaults to DefaultQueryTimeout.
	QueryTimeout time.Duration

	// MaxOpenConns sets the maximum number of open connections.
	// SQLite is always limited to one.
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// New creates a new SQL store.
func New(cfg *Config) (*Store, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = PostgreSQL
	}

	var db *sqlx.DB
	if cfg.DB != nil {
		db = sqlx.NewDb(cfg.DB, cfg.Dialect.driverName())
	} else {
		var err error
		db, err = sqlx.Open(cfg.Dialect.driverName(), cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}
	if cfg.Dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "restauth_"
	}
	st, err := newStatements(cfg.Dialect, prefix, db.Rebind)
	if err != nil {
		return nil, err
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	return &Store{
		db:      db,
		dialect: cfg.Dialect,
		stmt:    st,
		timeout: timeout,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.stmt.schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sql: migrate: %w", s.classify(err))
		}
	}
	return nil
}

// SaveToken records an issued token.
func (s *Store) SaveToken(ctx context.Context, token *store.StoredToken) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.stmt.insertToken,
		token.TokenID,
		token.SubjectID,
		token.TokenType,
		token.ExpiresAt.UnixMilli(),
		token.CreatedAt.UnixMilli(),
	)
	return s.classify(err)
}

type tokenRow struct {
	TokenID   string `db:"token_id"`
	SubjectID string `db:"subject_id"`
	TokenType string `db:"token_type"`
	ExpiresAt int64  `db:"expires_at"`
	CreatedAt int64  `db:"created_at"`
}

// ListTokens returns all tokens of a subject ordered by creation.
func (s *Store) ListTokens(ctx context.Context, subjectID string) ([]*store.StoredToken, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, s.stmt.selectTokens, subjectID); err != nil {
		return nil, s.classify(err)
	}

	out := make([]*store.StoredToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, &store.StoredToken{
			TokenID:   r.TokenID,
			SubjectID: r.SubjectID,
			TokenType: r.TokenType,
			ExpiresAt: time.UnixMilli(r.ExpiresAt),
			CreatedAt: time.UnixMilli(r.CreatedAt),
		})
	}
	return out, nil
}

// DeleteTokens removes the given token IDs.
func (s *Store) DeleteTokens(ctx context.Context, tokenIDs []string) (int64, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(s.stmt.deleteTokens, tokenIDs)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.exec(ctx, s.db.Rebind(query), args...)
}

// DeleteExpiredTokens removes tokens past expiry.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.exec(ctx, s.stmt.deleteExpiredTokens, now.UnixMilli())
}

// AddToBlacklist inserts entry unless a live one exists. A single upsert
// statement decides the race.
func (s *Store) AddToBlacklist(ctx context.Context, entry *store.BlacklistEntry) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.exec(ctx, s.stmt.upsertBlacklist,
		entry.TokenID,
		entry.BlacklistedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBlacklistEntry returns the entry for tokenID, or nil.
func (s *Store) GetBlacklistEntry(ctx context.Context, tokenID string) (*store.BlacklistEntry, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row struct {
		TokenID       string `db:"token_id"`
		BlacklistedAt int64  `db:"blacklisted_at"`
		ExpiresAt     int64  `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, s.stmt.selectBlacklist, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return &store.BlacklistEntry{
		TokenID:       row.TokenID,
		BlacklistedAt: time.UnixMilli(row.BlacklistedAt),
		ExpiresAt:     time.UnixMilli(row.ExpiresAt),
	}, nil
}

// RemoveFromBlacklist deletes the entry for tokenID.
func (s *Store) RemoveFromBlacklist(ctx context.Context, tokenID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.deleteBlacklist, tokenID)
	return err
}

// DeleteExpiredBlacklistEntries prunes expired entries.
func (s *Store) DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.exec(ctx, s.stmt.deleteExpiredBlacklist, now.UnixMilli())
}

// ctx derives the per-statement deadline.
func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// exec runs a statement and returns the affected row count.
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.classify(err)
	}
	return n, nil
}

// inTx runs fn inside a transaction.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.classify(err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return s.classify(err)
	}
	return s.classify(tx.Commit())
}

// classify maps driver errors onto store sentinels.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) {
		return err
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return store.Classify(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
