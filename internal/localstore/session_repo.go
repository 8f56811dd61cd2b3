package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tankwatch/internal/models"
	"tankwatch/internal/remote"
)

// SessionSQLite stores the single persisted session (row id always 1).
type SessionSQLite struct {
	db *sql.DB
}

func NewSessionSQLite(db *sql.DB) *SessionSQLite {
	return &SessionSQLite{db: db}
}

const (
	sessionRowID = 1

	upsertSessionSQL = `
		INSERT INTO session (id, access_token, refresh_token, expires_at, user_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expires_at=excluded.expires_at,
			user_json=excluded.user_json,
			saved_at=excluded.saved_at
	`

	selectSessionSQL = `
		SELECT access_token, refresh_token, expires_at, user_json
		FROM session WHERE id=?
	`

	deleteSessionSQL = `DELETE FROM session WHERE id=?`
)

// Save upserts the session row.
func (r *SessionSQLite) Save(ctx context.Context, s remote.Session) error {
	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("marshal user profile: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertSessionSQL,
		sessionRowID,
		s.AccessToken,
		s.RefreshToken,
		s.ExpiresAt.UTC(),
		string(userJSON),
		time.Now().UTC(),
	)
	return err
}

// Load fetches the persisted session. No persisted session yields
// (nil, nil).
func (r *SessionSQLite) Load(ctx context.Context) (*remote.Session, error) {
	row := r.db.QueryRowContext(ctx, selectSessionSQL, sessionRowID)

	var s remote.Session
	var userJSON string
	if err := row.Scan(&s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &userJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var user models.UserProfile
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("unmarshal user profile: %w", err)
	}
	s.User = user
	s.ExpiresAt = s.ExpiresAt.UTC()
	return &s, nil
}

// Clear removes the persisted session. Clearing an absent row is fine.
func (r *SessionSQLite) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, deleteSessionSQL, sessionRowID)
	return err
}
