package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/store/storetest"
)

func newSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{Dialect: SQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	s, err := New(&Config{Dialect: PostgreSQL, DB: db, QueryTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return s, mock
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, newSQLite(t))
}

func TestSQLite_Races(t *testing.T) {
	s := newSQLite(t)
	storetest.RunBlacklistRace(t, s)
	storetest.RunCounterRace(t, s)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newSQLite(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestSQLite_DuplicateAPIKey(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	k := &store.APIKeyRecord{KeyHash: "dup", SubjectID: "u", CreatedAt: time.Now()}
	if err := s.SaveAPIKey(ctx, k); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAPIKey(ctx, k); !errors.Is(err, store.ErrConflict) {
		t.Errorf("SaveAPIKey(duplicate) error = %v, want ErrConflict", err)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", PostgreSQL, false},
		{"PostgreSQL", PostgreSQL, false},
		{"pgx", PostgreSQL, false},
		{"mysql", MySQL, false},
		{"sqlite3", SQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDialect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseDialect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDriverName(t *testing.T) {
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{PostgreSQL, "pgx"},
		{MySQL, "mysql"},
		{SQLite, "sqlite"},
	}
	for _, tt := range tests {
		if got := tt.dialect.driverName(); got != tt.want {
			t.Errorf("driverName(%v) = %q, want %q", tt.dialect, got, tt.want)
		}
	}
}

func TestStatements_Prefix(t *testing.T) {
	identity := func(q string) string { return q }
	st, err := newStatements(PostgreSQL, "app_", identity)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(st.schema, "restauth_") {
		t.Error("schema still carries default prefix")
	}
	if !strings.Contains(st.schema, "CREATE TABLE IF NOT EXISTS app_tokens") {
		t.Error("schema missing prefixed tokens table")
	}
	if !strings.Contains(st.upsertBlacklist, "app_blacklist.expires_at") {
		t.Errorf("upsertBlacklist = %q", st.upsertBlacklist)
	}

	my, err := newStatements(MySQL, "restauth_", identity)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(my.upsertCounter, "ON DUPLICATE KEY UPDATE") {
		t.Errorf("mysql upsertCounter = %q", my.upsertCounter)
	}
}

func TestStore_TransientErrors(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT token_id, blacklisted_at, expires_at FROM restauth_blacklist").
		WithArgs("jti").
		WillReturnError(driver.ErrBadConn)
	if _, err := s.GetBlacklistEntry(ctx, "jti"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("GetBlacklistEntry() error = %v, want ErrUnavailable", err)
	}

	mock.ExpectExec("INSERT INTO restauth_tokens").
		WillReturnError(context.DeadlineExceeded)
	err := s.SaveToken(ctx, &store.StoredToken{TokenID: "t", ExpiresAt: time.Now(), CreatedAt: time.Now()})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("SaveToken() error = %v, want ErrUnavailable", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := s.Ping(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Ping() error = %v, want ErrUnavailable", err)
	}
}

func TestStore_LogicalErrorsNotTransient(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("DELETE FROM restauth_blacklist").
		WillReturnError(errors.New("syntax error"))
	err := s.RemoveFromBlacklist(context.Background(), "jti")
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		t.Errorf("RemoveFromBlacklist() error = %v, want non-transient error", err)
	}
}

func TestStore_UniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("INSERT INTO restauth_api_keys").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	err := s.SaveAPIKey(context.Background(), &store.APIKeyRecord{KeyHash: "h", CreatedAt: time.Now()})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("SaveAPIKey() error = %v, want ErrConflict", err)
	}
}

func TestStore_DeleteTokensExpandsIn(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	if n, err := s.DeleteTokens(ctx, nil); err != nil || n != 0 {
		t.Fatalf("DeleteTokens(nil) = %d, %v", n, err)
	}

	mock.ExpectExec(`DELETE FROM restauth_tokens WHERE token_id IN \(\$1, \$2\)`).
		WithArgs("a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := s.DeleteTokens(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteTokens() = %d, want 2", n)
	}
}

func TestStore_IncrementCounterRollsBack(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO restauth_rate_counters").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := s.IncrementCounter(context.Background(), "k", time.Minute, time.Now()); err == nil {
		t.Fatal("IncrementCounter() expected error")
	}
}

func TestStore_IncrementCounterReadsBack(t *testing.T) {
	s, mock := newMock(t)
	now := time.UnixMilli(1_700_000_000_000)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO restauth_rate_counters").
		WithArgs("k", now.Add(time.Minute).UnixMilli(), now.UnixMilli(), now.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT hits, reset_at FROM restauth_rate_counters").
		WithArgs("k", now.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"hits", "reset_at"}).AddRow(7, now.Add(30*time.Second).UnixMilli()))
	mock.ExpectCommit()

	c, err := s.IncrementCounter(context.Background(), "k", time.Minute, now)
	if err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	if c.Count != 7 || !c.ResetAt.Equal(now.Add(30*time.Second)) {
		t.Errorf("IncrementCounter() = %+v", c)
	}
}
