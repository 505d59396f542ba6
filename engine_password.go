package authkit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/store"
)

// ChangePassword replaces the password of an authenticated user after
// re-proving the current one, then revokes every session including the
// caller's.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	user, err := e.loadUser(ctx, req.UserID)
	if err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      user.ID,
		Action:       actionPasswordChange,
		ResourceType: resourceUser,
		ResourceID:   user.ID,
		IP:           ip,
		UserAgent:    userAgent,
	}

	match, err := e.verifyPassword(ctx, req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		e.metricInc(MetricPasswordChangeInvalidOld)
		entry.Reason = "invalid_current_password"
		e.auditFailure(ctx, entry)
		return ErrInvalidCredentials
	}
	if err := e.config.PasswordPolicy.Check(req.NewPassword); err != nil {
		entry.Reason = reasonWeakPassword
		e.auditFailure(ctx, entry)
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	if req.NewPassword == req.CurrentPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		entry.Reason = "password_reuse"
		e.auditFailure(ctx, entry)
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return fmt.Errorf("change password: hash: %w", err)
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.UpdatePassword(ctx, user.ID, hash, now); err != nil {
			return err
		}
		n, err := tx.RevokeAllSessions(ctx, user.ID, store.RevokePasswordChange, now)
		if err != nil {
			return err
		}
		entry.Changes = map[string]int64{"sessions_revoked": n}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	e.mirror(rec)
	e.metricInc(MetricPasswordChangeSuccess)
	e.enqueueMail(e.templates.PasswordChanged(user.Email))
	return nil
}

// RequestPasswordReset emails a reset token to an active account. The
// return value and the work visible to the caller do not depend on whether
// the account exists; only ErrRateLimited, which is keyed on the submitted
// address, is ever returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	e.metricInc(MetricPasswordResetRequest)

	normalized, err := normalizeEmail(email)
	if err != nil {
		e.log.Debug("password reset for malformed email ignored")
		return nil
	}
	if err := e.allow(ctx, e.limiter.AllowPasswordReset, normalized); err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		Action:       actionPasswordResetRequest,
		ResourceType: resourceUser,
		IP:           ip,
		UserAgent:    userAgent,
	}

	user, err := e.store.UserByEmail(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		entry.Reason = "unknown_email"
		e.auditFailure(ctx, entry)
		return nil
	}
	if err != nil {
		e.log.Error("password reset lookup failed", zap.Error(err))
		return nil
	}
	entry.ActorID, entry.ResourceID = user.ID, user.ID
	if user.Status != store.StatusActive {
		entry.Reason = "account_" + user.Status
		e.auditFailure(ctx, entry)
		return nil
	}

	now := e.now()
	raw, token, err := e.newVerificationToken(user.ID, store.TokenPasswordReset, e.config.PasswordReset.TokenTTL, now)
	if err != nil {
		e.log.Error("password reset token generation failed", zap.Error(err))
		return nil
	}
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InvalidateVerificationTokens(ctx, user.ID, store.TokenPasswordReset, now); err != nil {
			return err
		}
		if err := tx.CreateVerificationToken(ctx, token); err != nil {
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		e.log.Error("password reset request not stored", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}
	e.mirror(rec)
	e.enqueueMail(e.templates.PasswordReset(user.Email, raw))
	return nil
}

// ResetPassword sets a new password using an emailed reset token. A weak
// password is rejected before the token is looked at, so it stays usable.
// On success lockout state is cleared and every session is revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		Action:       actionPasswordReset,
		ResourceType: resourceUser,
		IP:           ip,
		UserAgent:    userAgent,
	}

	if err := e.config.PasswordPolicy.Check(newPassword); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		// The token only names the actor here; it is not consumed.
		if tok, _, _ := e.lookupToken(ctx, store.TokenPasswordReset, token); tok != nil {
			entry.ActorID, entry.ResourceID = tok.UserID, tok.UserID
		}
		entry.Reason = reasonWeakPassword
		e.auditFailure(ctx, entry)
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	reject := func(actorID, reason string, cause error) error {
		e.metricInc(MetricPasswordResetFailure)
		entry.ActorID, entry.ResourceID = actorID, actorID
		entry.Reason = reason
		e.auditFailure(ctx, entry)
		e.log.Info("password reset rejected", zap.String("reason", reason), zap.String("user_id", actorID))
		return errors.Join(ErrResetTokenInvalid, cause)
	}

	tok, reason, cause := e.lookupToken(ctx, store.TokenPasswordReset, token)
	if cause != nil {
		if reason == "" {
			return cause
		}
		actorID := ""
		if tok != nil {
			actorID = tok.UserID
		}
		return reject(actorID, reason, cause)
	}

	user, err := e.loadUser(ctx, tok.UserID)
	if err != nil {
		return err
	}
	hash, err := e.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("reset password: hash: %w", err)
	}

	entry.ActorID, entry.ResourceID = user.ID, user.ID
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		consumed, err := tx.ConsumeVerificationToken(ctx, tok.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			return errTokenSpent
		}
		if err := tx.UpdatePassword(ctx, user.ID, hash, now); err != nil {
			return err
		}
		n, err := tx.RevokeAllSessions(ctx, user.ID, store.RevokePasswordReset, now)
		if err != nil {
			return err
		}
		if err := tx.InvalidateVerificationTokens(ctx, user.ID, store.TokenPasswordReset, now); err != nil {
			return err
		}
		entry.Changes = map[string]int64{"sessions_revoked": n}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if errors.Is(err, errTokenSpent) {
		return reject(user.ID, "token_used", ErrTokenNotFound)
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	e.mirror(rec)
	e.metricInc(MetricPasswordResetSuccess)
	e.enqueueMail(e.templates.PasswordChanged(user.Email))
	return nil
}
