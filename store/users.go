package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, password_hash, name, email_verified, status, status_reason,
	failed_login_attempts, locked_until, last_login_at, last_login_ip,
	password_changed_at, created_at, updated_at`

// CreateUser inserts u. A taken email yields ErrDuplicate.
func (q *Queries) CreateUser(ctx context.Context, u *User) error {
	_, err := q.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.EmailVerified, u.Status, u.StatusReason,
		u.FailedLoginAttempts, nullMillis(u.LockedUntil), nullMillis(u.LastLoginAt), u.LastLoginIP,
		toMillis(u.PasswordChangedAt), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// UserByID loads a user.
func (q *Queries) UserByID(ctx context.Context, id string) (*User, error) {
	var row userRow
	if err := q.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, wrapLookup("user by id", err)
	}
	return row.toUser(), nil
}

// UserByEmail loads a user by normalized email.
func (q *Queries) UserByEmail(ctx context.Context, email string) (*User, error) {
	var row userRow
	if err := q.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return nil, wrapLookup("user by email", err)
	}
	return row.toUser(), nil
}

// LoginFailure is the lockout state after a failed password check.
type LoginFailure struct {
	Attempts    int
	LockedUntil *time.Time
}

// RecordLoginFailure atomically increments the failure counter. When the
// counter reaches threshold the account is locked until now+lockFor and the
// counter restarts from zero.
func (q *Queries) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration, now time.Time) (*LoginFailure, error) {
	var row struct {
		Attempts    int           `db:"failed_login_attempts"`
		LockedUntil sql.NullInt64 `db:"locked_until"`
	}
	err := q.get(ctx, &row, `UPDATE users SET
			failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= ? THEN 0 ELSE failed_login_attempts + 1 END,
			locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts, locked_until`,
		threshold, threshold, toMillis(now.Add(lockFor)), toMillis(now), userID,
	)
	if err != nil {
		return nil, wrapLookup("record login failure", err)
	}

	out := &LoginFailure{Attempts: row.Attempts}
	if t := fromNullMillis(row.LockedUntil); t != nil {
		if t.After(now) {
			out.LockedUntil = t
			if row.Attempts == 0 {
				out.Attempts = threshold
			}
		}
	}
	return out, nil
}

// RecordLoginSuccess clears lockout state and stamps the last login.
func (q *Queries) RecordLoginSuccess(ctx context.Context, userID, ip string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
			last_login_at = ?, last_login_ip = ?, updated_at = ?
		WHERE id = ?`, toMillis(now), ip, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("store: record login success: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash and clears lockout state.
func (q *Queries) UpdatePassword(ctx context.Context, userID, hash string, now time.Time) error {
	ok, err := q.execOne(ctx, `UPDATE users SET password_hash = ?, password_changed_at = ?,
			failed_login_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`, hash, toMillis(now), toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RehashPassword swaps the stored hash only if it still equals previous.
// It leaves password_changed_at untouched.
func (q *Queries) RehashPassword(ctx context.Context, userID, previous, hash string, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE users SET password_hash = ?, updated_at = ?
		WHERE id = ? AND password_hash = ?`, hash, toMillis(now), userID, previous)
	if err != nil {
		return false, fmt.Errorf("store: rehash password: %w", err)
	}
	return ok, nil
}

// SetEmailVerified marks the user's email as verified.
func (q *Queries) SetEmailVerified(ctx context.Context, userID string, now time.Time) error {
	ok, err := q.execOne(ctx, `UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`,
		true, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("store: set email verified: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile sets the name and email. A changed email clears
// email_verified; a taken email yields ErrDuplicate.
func (q *Queries) UpdateProfile(ctx context.Context, userID, name, email string, emailChanged bool, now time.Time) error {
	query := `UPDATE users SET name = ?, email = ?, updated_at = ? WHERE id = ?`
	args := []any{name, email, toMillis(now), userID}
	if emailChanged {
		query = `UPDATE users SET name = ?, email = ?, email_verified = ?, updated_at = ? WHERE id = ?`
		args = []any{name, email, false, toMillis(now), userID}
	}
	ok, err := q.execOne(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: update profile: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetStatus changes the account status.
func (q *Queries) SetStatus(ctx context.Context, userID, status, reason string, now time.Time) error {
	ok, err := q.execOne(ctx, `UPDATE users SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		status, reason, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// ListUsers returns one page of users ordered by creation time and the
// total number of matches.
func (q *Queries) ListUsers(ctx context.Context, f UserFilter) ([]*User, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(strings.ToLower(s)) + "%"
		where = append(where, `(LOWER(email) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.get(ctx, &total, `SELECT COUNT(*) FROM users`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("store: count users: %w", err)
	}

	var rows []userRow
	err := q.selectAll(ctx, &rows, `SELECT `+userColumns+` FROM users`+clause+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list users: %w", err)
	}
	users := make([]*User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
