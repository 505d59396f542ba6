package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/authkit/store"
)

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
	maxStatusReason     = 500
)

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}

// ListUsers returns one page of accounts, newest first.
func (e *Engine) ListUsers(ctx context.Context, q UserQuery) (*UserPage, error) {
	if q.Status != "" && !validStatus(q.Status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, q.Status)
	}
	page, size := pageBounds(q.Page, q.PageSize, defaultUserPageSize, maxUserPageSize)
	users, total, err := e.store.ListUsers(ctx, store.UserFilter{
		Status: q.Status,
		Search: q.Search,
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}
	out := &UserPage{
		Users:    make([]*User, 0, len(users)),
		Total:    total,
		Page:     page,
		PageSize: size,
	}
	for _, u := range users {
		out.Users = append(out.Users, publicUser(u))
	}
	return out, nil
}

// GetUser loads one account.
func (e *Engine) GetUser(ctx context.Context, userID string) (*User, error) {
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return publicUser(u), nil
}

// SetUserStatus activates, suspends or bans an account. Suspending or
// banning revokes every session. Administrators cannot change their own
// status.
func (e *Engine) SetUserStatus(ctx context.Context, change StatusChange) error {
	if !validStatus(change.Status) {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, change.Status)
	}
	reason := strings.TrimSpace(change.Reason)
	if len(reason) > maxStatusReason {
		return fmt.Errorf("%w: reason too long", ErrInvalidInput)
	}
	if change.ActorID != "" && change.ActorID == change.UserID {
		return e.deny()
	}
	user, err := e.loadUser(ctx, change.UserID)
	if err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.SetStatus(ctx, user.ID, change.Status, reason, now); err != nil {
			return err
		}
		changes := map[string]any{"from": user.Status, "to": change.Status}
		if change.Status != StatusActive {
			n, err := tx.RevokeAllSessions(ctx, user.ID, store.RevokeStatusChange, now)
			if err != nil {
				return err
			}
			changes["sessions_revoked"] = n
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      change.ActorID,
			Action:       actionStatusChange,
			ResourceType: resourceUser,
			ResourceID:   user.ID,
			Reason:       reason,
			Changes:      changes,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.metricInc(MetricAccountStatusChange)
	return nil
}

// UpdateUser changes an account's name or email. A new email must be
// verified again: the flag is cleared and a verification link is sent to
// the new address.
func (e *Engine) UpdateUser(ctx context.Context, upd ProfileUpdate) (*User, error) {
	user, err := e.loadUser(ctx, upd.UserID)
	if err != nil {
		return nil, err
	}

	name, email := user.Name, user.Email
	changes := map[string]map[string]string{}
	if upd.Name != nil {
		next := strings.TrimSpace(*upd.Name)
		if next == "" || utf8.RuneCountInString(next) > maxNameLength {
			return nil, fmt.Errorf("%w: name", ErrInvalidInput)
		}
		if next != name {
			changes["name"] = map[string]string{"from": name, "to": next}
			name = next
		}
	}
	if upd.Email != nil {
		next, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		if next != email {
			changes["email"] = map[string]string{"from": email, "to": next}
			email = next
		}
	}
	if len(changes) == 0 {
		return publicUser(user), nil
	}
	_, emailChanged := changes["email"]

	now := e.now()
	var (
		raw   string
		token *store.VerificationToken
	)
	if emailChanged {
		raw, token, err = e.newVerificationToken(user.ID, store.TokenEmailVerify, e.config.EmailVerification.TokenTTL, now)
		if err != nil {
			return nil, err
		}
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateProfile(ctx, user.ID, name, email, emailChanged, now); err != nil {
			return err
		}
		if emailChanged {
			if err := tx.InvalidateVerificationTokens(ctx, user.ID, store.TokenEmailVerify, now); err != nil {
				return err
			}
			if err := tx.CreateVerificationToken(ctx, token); err != nil {
				return err
			}
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      upd.ActorID,
			Action:       actionUserUpdate,
			ResourceType: resourceUser,
			ResourceID:   user.ID,
			Changes:      changes,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrEmailAlreadyRegistered
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, err
	}
	e.mirror(rec)
	if emailChanged {
		e.enqueueMail(e.templates.VerifyEmail(email, name, raw))
	}
	return e.GetUser(ctx, user.ID)
}

// MarkEmailVerified verifies an account's email without a token and
// invalidates any outstanding verification tokens.
func (e *Engine) MarkEmailVerified(ctx context.Context, actorID, userID string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      actorID,
		Action:       actionAdminVerifyEmail,
		ResourceType: resourceUser,
		ResourceID:   user.ID,
		IP:           ip,
		UserAgent:    userAgent,
	}
	if actorID == "" {
		entry.Reason = reasonSystem
	}
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.SetEmailVerified(ctx, user.ID, now); err != nil {
			return err
		}
		if err := tx.InvalidateVerificationTokens(ctx, user.ID, store.TokenEmailVerify, now); err != nil {
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	return nil
}

// UserByEmail loads an account by email. Used by the command line tools.
func (e *Engine) UserByEmail(ctx context.Context, email string) (*User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := e.store.UserByEmail(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return publicUser(u), nil
}
