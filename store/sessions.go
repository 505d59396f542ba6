package store

import (
	"context"
	"fmt"
	"time"
)

const sessionColumns = `id, user_id, refresh_token_hash, ip, user_agent, created_at,
	last_used_at, expires_at, revoked_at, revoke_reason, replaced_by`

// CreateSession inserts s.
func (q *Queries) CreateSession(ctx context.Context, s *Session) error {
	_, err := q.exec(ctx, `INSERT INTO user_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.IP, s.UserAgent, toMillis(s.CreatedAt),
		toMillis(s.LastUsedAt), toMillis(s.ExpiresAt), nullMillis(s.RevokedAt), s.RevokeReason, s.ReplacedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// SessionByTokenHash finds a session by refresh token digest, revoked or not.
func (q *Queries) SessionByTokenHash(ctx context.Context, hash string) (*Session, error) {
	var row sessionRow
	if err := q.get(ctx, &row, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = ?`, hash); err != nil {
		return nil, wrapLookup("session by token", err)
	}
	return row.toSession(), nil
}

// RotateSession revokes old as rotated and inserts next in its place. It
// returns false without inserting when old was already revoked, which
// means a concurrent rotation got there first.
func (q *Queries) RotateSession(ctx context.Context, oldID string, next *Session, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE user_sessions
		SET revoked_at = ?, revoke_reason = ?, replaced_by = ?, last_used_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		toMillis(now), RevokeRotated, next.ID, toMillis(now), oldID)
	if err != nil {
		return false, fmt.Errorf("store: rotate session: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := q.CreateSession(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeSessionByID revokes one session. It reports whether a live session
// was revoked.
func (q *Queries) RevokeSessionByID(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE user_sessions SET revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND revoked_at IS NULL`, toMillis(now), reason, id)
	if err != nil {
		return false, fmt.Errorf("store: revoke session: %w", err)
	}
	return ok, nil
}

// RevokeUserSession revokes a live session only if it belongs to userID.
func (q *Queries) RevokeUserSession(ctx context.Context, userID, id, reason string, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE user_sessions SET revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL`, toMillis(now), reason, id, userID)
	if err != nil {
		return false, fmt.Errorf("store: revoke user session: %w", err)
	}
	return ok, nil
}

// RevokeAllSessions revokes every live session of userID and returns how many.
func (q *Queries) RevokeAllSessions(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	res, err := q.exec(ctx, `UPDATE user_sessions SET revoked_at = ?, revoke_reason = ?
		WHERE user_id = ? AND revoked_at IS NULL`, toMillis(now), reason, userID)
	if err != nil {
		return 0, fmt.Errorf("store: revoke all sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: revoke all sessions: %w", err)
	}
	return n, nil
}

// ActiveSessions lists unrevoked, unexpired sessions, newest first.
func (q *Queries) ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	var rows []sessionRow
	err := q.selectAll(ctx, &rows, `SELECT `+sessionColumns+` FROM user_sessions
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id`, userID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("store: active sessions: %w", err)
	}
	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession())
	}
	return out, nil
}
