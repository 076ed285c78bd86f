// Package sql provides SQL database storage for restauth.
package sql

import (
	"fmt"
	"strings"

	"github.com/aloks98/restauth/store/sql/queries"
)

// Dialect represents a SQL database dialect.
type Dialect string

const (
	// PostgreSQL dialect, served by the pgx stdlib driver.
	PostgreSQL Dialect = "postgres"
	// MySQL dialect.
	MySQL Dialect = "mysql"
	// SQLite dialect, served by modernc.org/sqlite.
	SQLite Dialect = "sqlite"
)

// ParseDialect maps a configuration string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pgx":
		return PostgreSQL, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("sql: unknown dialect %q", s)
	}
}

// driverName returns the database/sql driver name for the dialect.
func (d Dialect) driverName() string {
	switch d {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return "pgx"
	}
}

// statements holds every query of the store. Queries use ? placeholders
// and are rebound for the driver at construction time.
type statements struct {
	schema string

	insertToken         string
	selectTokens        string
	deleteTokens        string
	deleteExpiredTokens string

	upsertBlacklist        string
	selectBlacklist        string
	deleteBlacklist        string
	deleteExpiredBlacklist string

	insertAPIKey      string
	selectAPIKey      string
	selectAPIKeys     string
	revokeAPIKey      string
	selectLiveAPIKeys string
	revokeAllAPIKeys  string
	touchAPIKey       string

	countUserConflicts string
	insertUser         string
	selectUserByID     string
	selectUserByLogin  string
	selectUserByEmail  string
	updatePassword     string

	insertAppPassword  string
	selectAppPasswords string
	deleteAppPassword  string
	touchAppPassword   string

	selectPolicy string
	upsertPolicy string
	deletePolicy string

	upsertCounter        string
	selectCounter        string
	deleteExpiredCounter string
}

const (
	tokenColumns   = "token_id, subject_id, token_type, expires_at, created_at"
	apiKeyColumns  = "key_hash, hint, scope, subject_id, name, scopes, revoked, expires_at, rate_limit, rate_limit_window_ms, last_used_at, last_used_ip, created_at"
	userColumns    = "id, login, email, display_name, roles, password_hash, meta, created_at"
	appPassColumns = "id, user_id, name, hash, created_at, last_used_at, last_used_ip"
)

// newStatements builds the statement set for d with table prefix p,
// rebinding placeholders with rebind.
func newStatements(d Dialect, prefix string, rebind func(string) string) (*statements, error) {
	schema, err := queries.Schema(string(d))
	if err != nil {
		return nil, err
	}

	t := func(name string) string { return prefix + name }
	q := func(format string, a ...any) string { return rebind(fmt.Sprintf(format, a...)) }

	tokens := t("tokens")
	blacklist := t("blacklist")
	apiKeys := t("api_keys")
	users := t("users")
	appPasswords := t("app_passwords")
	policy := t("policy")
	counters := t("rate_counters")

	st := &statements{
		schema: strings.ReplaceAll(schema, queries.DefaultTablePrefix, prefix),

		insertToken:         q("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)", tokens, tokenColumns),
		selectTokens:        q("SELECT %s FROM %s WHERE subject_id = ? ORDER BY created_at", tokenColumns, tokens),
		deleteTokens:        fmt.Sprintf("DELETE FROM %s WHERE token_id IN (?)", tokens),
		deleteExpiredTokens: q("DELETE FROM %s WHERE expires_at <= ?", tokens),

		selectBlacklist:        q("SELECT token_id, blacklisted_at, expires_at FROM %s WHERE token_id = ?", blacklist),
		deleteBlacklist:        q("DELETE FROM %s WHERE token_id = ?", blacklist),
		deleteExpiredBlacklist: q("DELETE FROM %s WHERE expires_at <= ?", blacklist),

		insertAPIKey:      q("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", apiKeys, apiKeyColumns),
		selectAPIKey:      q("SELECT %s FROM %s WHERE key_hash = ?", apiKeyColumns, apiKeys),
		selectAPIKeys:     q("SELECT %s FROM %s WHERE subject_id = ? ORDER BY created_at", apiKeyColumns, apiKeys),
		revokeAPIKey:      q("UPDATE %s SET revoked = TRUE WHERE key_hash = ? AND revoked = FALSE", apiKeys),
		selectLiveAPIKeys: q("SELECT key_hash FROM %s WHERE subject_id = ? AND revoked = FALSE ORDER BY key_hash", apiKeys),
		revokeAllAPIKeys:  q("UPDATE %s SET revoked = TRUE WHERE subject_id = ? AND revoked = FALSE", apiKeys),
		touchAPIKey:       q("UPDATE %s SET last_used_at = ?, last_used_ip = ? WHERE key_hash = ?", apiKeys),

		countUserConflicts: q("SELECT COUNT(*) FROM %s WHERE id = ? OR LOWER(login) = LOWER(?) OR (email <> '' AND LOWER(email) = LOWER(?))", users),
		insertUser:         q("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", users, userColumns),
		selectUserByID:     q("SELECT %s FROM %s WHERE id = ?", userColumns, users),
		selectUserByLogin:  q("SELECT %s FROM %s WHERE LOWER(login) = LOWER(?)", userColumns, users),
		selectUserByEmail:  q("SELECT %s FROM %s WHERE email <> '' AND LOWER(email) = LOWER(?) ORDER BY created_at", userColumns, users),
		updatePassword:     q("UPDATE %s SET password_hash = ? WHERE id = ?", users),

		insertAppPassword:  q("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)", appPasswords, appPassColumns),
		selectAppPasswords: q("SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at", appPassColumns, appPasswords),
		deleteAppPassword:  q("DELETE FROM %s WHERE user_id = ? AND id = ?", appPasswords),
		touchAppPassword:   q("UPDATE %s SET last_used_at = ?, last_used_ip = ? WHERE id = ?", appPasswords),

		selectPolicy: q("SELECT document FROM %s WHERE id = 1", policy),
		deletePolicy: q("DELETE FROM %s WHERE id = 1", policy),

		selectCounter:        q("SELECT hits, reset_at FROM %s WHERE counter_key = ? AND reset_at > ?", counters),
		deleteExpiredCounter: q("DELETE FROM %s WHERE reset_at <= ?", counters),
	}

	switch d {
	case MySQL:
		// Affected rows is 0 when the live entry is left untouched.
		st.upsertBlacklist = q("INSERT INTO %[1]s (token_id, blacklisted_at, expires_at) VALUES (?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE "+
			"blacklisted_at = IF(expires_at <= VALUES(blacklisted_at), VALUES(blacklisted_at), blacklisted_at), "+
			"expires_at = IF(expires_at <= VALUES(blacklisted_at), VALUES(expires_at), expires_at)", blacklist)
		st.upsertPolicy = q("INSERT INTO %s (id, document, updated_at) VALUES (1, ?, ?) "+
			"ON DUPLICATE KEY UPDATE document = VALUES(document), updated_at = VALUES(updated_at)", policy)
		// hits is assigned before reset_at so both IFs see the old reset_at.
		st.upsertCounter = q("INSERT INTO %s (counter_key, hits, reset_at) VALUES (?, 1, ?) "+
			"ON DUPLICATE KEY UPDATE "+
			"hits = IF(reset_at <= ?, 1, hits + 1), "+
			"reset_at = IF(reset_at <= ?, VALUES(reset_at), reset_at)", counters)
	default:
		st.upsertBlacklist = q("INSERT INTO %[1]s (token_id, blacklisted_at, expires_at) VALUES (?, ?, ?) "+
			"ON CONFLICT (token_id) DO UPDATE SET "+
			"blacklisted_at = excluded.blacklisted_at, expires_at = excluded.expires_at "+
			"WHERE %[1]s.expires_at <= excluded.blacklisted_at", blacklist)
		st.upsertPolicy = q("INSERT INTO %s (id, document, updated_at) VALUES (1, ?, ?) "+
			"ON CONFLICT (id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at", policy)
		st.upsertCounter = q("INSERT INTO %[1]s (counter_key, hits, reset_at) VALUES (?, 1, ?) "+
			"ON CONFLICT (counter_key) DO UPDATE SET "+
			"hits = CASE WHEN %[1]s.reset_at <= ? THEN 1 ELSE %[1]s.hits + 1 END, "+
			"reset_at = CASE WHEN %[1]s.reset_at <= ? THEN excluded.reset_at ELSE %[1]s.reset_at END", counters)
	}

	return st, nil
}
