package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aloks98/restauth/store"
)

type apiKeyRow struct {
	KeyHash           string        `db:"key_hash"`
	Hint              string        `db:"hint"`
	Scope             string        `db:"scope"`
	SubjectID         string        `db:"subject_id"`
	Name              string        `db:"name"`
	Scopes            string        `db:"scopes"`
	Revoked           bool          `db:"revoked"`
	ExpiresAt         sql.NullInt64 `db:"expires_at"`
	RateLimit         int           `db:"rate_limit"`
	RateLimitWindowMS int64         `db:"rate_limit_window_ms"`
	LastUsedAt        sql.NullInt64 `db:"last_used_at"`
	LastUsedIP        string        `db:"last_used_ip"`
	CreatedAt         int64         `db:"created_at"`
}

func (r *apiKeyRow) record() (*store.APIKeyRecord, error) {
	k := &store.APIKeyRecord{
		KeyHash:         r.KeyHash,
		Hint:            r.Hint,
		Scope:           r.Scope,
		SubjectID:       r.SubjectID,
		Name:            r.Name,
		Revoked:         r.Revoked,
		ExpiresAt:       fromNullMillis(r.ExpiresAt),
		RateLimit:       r.RateLimit,
		RateLimitWindow: time.Duration(r.RateLimitWindowMS) * time.Millisecond,
		LastUsedAt:      fromNullMillis(r.LastUsedAt),
		LastUsedIP:      r.LastUsedIP,
		CreatedAt:       time.UnixMilli(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.Scopes), &k.Scopes); err != nil {
		return nil, err
	}
	return k, nil
}

// SaveAPIKey inserts a key record.
func (s *Store) SaveAPIKey(ctx context.Context, key *store.APIKeyRecord) error {
	scopes, err := marshalList(key.Scopes)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx, s.stmt.insertAPIKey,
		key.KeyHash,
		key.Hint,
		key.Scope,
		key.SubjectID,
		key.Name,
		scopes,
		key.Revoked,
		nullMillis(key.ExpiresAt),
		key.RateLimit,
		key.RateLimitWindow.Milliseconds(),
		nullMillis(key.LastUsedAt),
		key.LastUsedIP,
		key.CreatedAt.UnixMilli(),
	)
	return s.classify(err)
}

// GetAPIKey returns the record for keyHash, or nil.
func (s *Store) GetAPIKey(ctx context.Context, keyHash string) (*store.APIKeyRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row apiKeyRow
	err := s.db.GetContext(ctx, &row, s.stmt.selectAPIKey, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return row.record()
}

// ListAPIKeys returns every key of a subject.
func (s *Store) ListAPIKeys(ctx context.Context, subjectID string) ([]*store.APIKeyRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, s.stmt.selectAPIKeys, subjectID); err != nil {
		return nil, s.classify(err)
	}

	out := make([]*store.APIKeyRecord, 0, len(rows))
	for i := range rows {
		k, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// RevokeAPIKey flips the revoked flag.
func (s *Store) RevokeAPIKey(ctx context.Context, keyHash string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.exec(ctx, s.stmt.revokeAPIKey, keyHash)
	return n > 0, err
}

// RevokeAllAPIKeys revokes every live key of a subject.
func (s *Store) RevokeAllAPIKeys(ctx context.Context, subjectID string) ([]string, error) {
	var hashes []string
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &hashes, s.stmt.selectLiveAPIKeys, subjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.stmt.revokeAllAPIKeys, subjectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// TouchAPIKey records a successful use.
func (s *Store) TouchAPIKey(ctx context.Context, keyHash string, at time.Time, ip string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.touchAPIKey, at.UnixMilli(), ip, keyHash)
	return err
}

type userRow struct {
	ID           string `db:"id"`
	Login        string `db:"login"`
	Email        string `db:"email"`
	DisplayName  string `db:"display_name"`
	Roles        string `db:"roles"`
	PasswordHash string `db:"password_hash"`
	Meta         string `db:"meta"`
	CreatedAt    int64  `db:"created_at"`
}

func (r *userRow) user() (*store.User, error) {
	u := &store.User{
		ID:           r.ID,
		Login:        r.Login,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.Roles), &u.Roles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Meta), &u.Meta); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a user. Login and non-empty email are unique
// case-insensitively.
func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	roles, err := marshalList(user.Roles)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(user.Meta)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, s.stmt.countUserConflicts, user.ID, user.Login, user.Email); err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}
		_, err := tx.ExecContext(ctx, s.stmt.insertUser,
			user.ID,
			user.Login,
			user.Email,
			user.DisplayName,
			roles,
			user.PasswordHash,
			string(meta),
			user.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// GetUser returns the user with id, or nil.
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, s.stmt.selectUserByID, id)
}

// FindUser looks a user up by login, then by email.
func (s *Store) FindUser(ctx context.Context, name string) (*store.User, error) {
	u, err := s.getUser(ctx, s.stmt.selectUserByLogin, name)
	if err != nil || u != nil {
		return u, err
	}
	return s.getUser(ctx, s.stmt.selectUserByEmail, name)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*store.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, s.classify(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].user()
}

// SetPassword replaces a user's primary password hash.
func (s *Store) SetPassword(ctx context.Context, userID, hash string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.updatePassword, hash, userID)
	return err
}

type appPasswordRow struct {
	ID         string        `db:"id"`
	UserID     string        `db:"user_id"`
	Name       string        `db:"name"`
	Hash       string        `db:"hash"`
	CreatedAt  int64         `db:"created_at"`
	LastUsedAt sql.NullInt64 `db:"last_used_at"`
	LastUsedIP string        `db:"last_used_ip"`
}

// SaveAppPassword inserts an application password.
func (s *Store) SaveAppPassword(ctx context.Context, pw *store.AppPassword) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.stmt.insertAppPassword,
		pw.ID,
		pw.UserID,
		pw.Name,
		pw.Hash,
		pw.CreatedAt.UnixMilli(),
		nullMillis(pw.LastUsedAt),
		pw.LastUsedIP,
	)
	return s.classify(err)
}

// ListAppPasswords returns every application password of a user.
func (s *Store) ListAppPasswords(ctx context.Context, userID string) ([]*store.AppPassword, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []appPasswordRow
	if err := s.db.SelectContext(ctx, &rows, s.stmt.selectAppPasswords, userID); err != nil {
		return nil, s.classify(err)
	}

	out := make([]*store.AppPassword, 0, len(rows))
	for _, r := range rows {
		out = append(out, &store.AppPassword{
			ID:         r.ID,
			UserID:     r.UserID,
			Name:       r.Name,
			Hash:       r.Hash,
			CreatedAt:  time.UnixMilli(r.CreatedAt),
			LastUsedAt: fromNullMillis(r.LastUsedAt),
			LastUsedIP: r.LastUsedIP,
		})
	}
	return out, nil
}

// DeleteAppPassword removes one application password of a user.
func (s *Store) DeleteAppPassword(ctx context.Context, userID, id string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.exec(ctx, s.stmt.deleteAppPassword, userID, id)
	return n > 0, err
}

// TouchAppPassword records a successful use.
func (s *Store) TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.exec(ctx, s.stmt.touchAppPassword, at.UnixMilli(), ip, id)
	return err
}

// marshalList encodes a string slice as a JSON array, never "null".
func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}
