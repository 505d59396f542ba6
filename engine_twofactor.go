package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/permission"
	"github.com/MrEthical07/authkit/store"
	"github.com/MrEthical07/authkit/twofactor"
)

// SetupTwoFactor starts TOTP enrollment. The returned secret and backup
// codes are shown once; only the encrypted secret and the code hashes are
// stored. The credential stays pending until EnableTwoFactor confirms a
// code. Calling it again before enabling replaces the pending secret.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := e.store.TwoFactorByUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if cred != nil && cred.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	enrollment, err := e.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := e.cipher.Encrypt(enrollment.Secret)
	if err != nil {
		return nil, err
	}
	codes, err := twofactor.NewBackupCodes(userID, e.config.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertPendingTwoFactor(ctx, userID, sealed, codes.Hashes, e.now()); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrTwoFactorAlreadyEnabled
			}
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      userID,
			Action:       actionTwoFactorSetup,
			ResourceType: resourceUser,
			ResourceID:   userID,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.mirror(rec)

	return &TwoFactorSetup{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		BackupCodes:     codes.Plain,
	}, nil
}

// EnableTwoFactor confirms a pending enrollment with a current TOTP code.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, code string) error {
	cred, err := e.store.TwoFactorByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTwoFactorNotSetUp
	}
	if err != nil {
		return err
	}
	if cred.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      userID,
		Action:       actionTwoFactorEnable,
		ResourceType: resourceUser,
		ResourceID:   userID,
		IP:           ip,
		UserAgent:    userAgent,
	}

	secret, err := e.cipher.Decrypt(cred.Secret)
	if err != nil {
		return fmt.Errorf("two-factor: decrypt secret: %w", err)
	}
	step, ok, err := e.totp.Match(secret, strings.TrimSpace(code), e.now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		entry.Reason = "invalid_code"
		e.auditFailure(ctx, entry)
		return ErrTwoFactorCodeInvalid
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		enabled, err := tx.EnableTwoFactor(ctx, userID, step, e.now())
		if err != nil {
			return err
		}
		if !enabled {
			return ErrTwoFactorAlreadyEnabled
		}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.metricInc(MetricTwoFactorSuccess)
	e.notifyTwoFactorChange(ctx, userID, true)
	return nil
}

// VerifyTwoFactor checks a TOTP or backup code for a user with 2FA
// enabled. A digits-only code of the configured length is treated as TOTP;
// anything else as a backup code, which is consumed on success.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID, code string) (*TwoFactorVerification, error) {
	cred, err := e.store.TwoFactorByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !cred.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      userID,
		Action:       actionTwoFactorVerify,
		ResourceType: resourceUser,
		ResourceID:   userID,
		IP:           ip,
		UserAgent:    userAgent,
	}

	var (
		result *TwoFactorVerification
		rec    *store.AuditRecord
	)
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		result, err = e.checkSecondFactor(ctx, tx.Queries, cred, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		entry.Changes = map[string]any{"method": result.Method}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTwoFactorCodeInvalid) {
			entry.Reason = "invalid_code"
			entry.Changes = nil
			e.auditFailure(ctx, entry)
		}
		return nil, err
	}
	e.mirror(rec)
	return result, nil
}

// checkSecondFactor is shared by Login and VerifyTwoFactor. The step
// advance or backup-code removal goes through q so it commits with the
// caller's audit record.
func (e *Engine) checkSecondFactor(ctx context.Context, q *store.Queries, cred *store.TwoFactor, code string) (*TwoFactorVerification, error) {
	if e.totp.LooksLikeCode(code) {
		return e.checkTOTP(ctx, q, cred, code)
	}
	return e.consumeBackupCode(ctx, q, cred, code)
}

func (e *Engine) checkTOTP(ctx context.Context, q *store.Queries, cred *store.TwoFactor, code string) (*TwoFactorVerification, error) {
	secret, err := e.cipher.Decrypt(cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("two-factor: decrypt secret: %w", err)
	}
	step, ok, err := e.totp.Match(secret, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrTwoFactorCodeInvalid
	}
	// Steps at or before the last accepted one are spent, even inside the
	// skew window.
	if step <= cred.LastUsedStep {
		e.metricInc(MetricTwoFactorReplay)
		return nil, ErrTwoFactorCodeInvalid
	}
	advanced, err := q.AdvanceTOTPStep(ctx, cred.UserID, step)
	if err != nil {
		return nil, err
	}
	if !advanced {
		// A concurrent verification accepted this step or a later one.
		e.metricInc(MetricTwoFactorReplay)
		return nil, ErrTwoFactorCodeInvalid
	}
	e.metricInc(MetricTwoFactorSuccess)
	return &TwoFactorVerification{
		Method:               MethodTOTP,
		RemainingBackupCodes: len(cred.BackupCodes),
	}, nil
}

// consumeBackupCode removes a matching code by replacing the whole set
// under a version check, reloading and retrying when another writer won.
func (e *Engine) consumeBackupCode(ctx context.Context, q *store.Queries, cred *store.TwoFactor, code string) (*TwoFactorVerification, error) {
	canonical := twofactor.CanonicalizeBackupCode(code)
	if len(canonical) != twofactor.BackupCodeLength {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrTwoFactorCodeInvalid
	}
	target := twofactor.HashBackupCode(cred.UserID, canonical)

	current := cred
	for attempt := 0; attempt <= e.config.TwoFactor.BackupCodeRetries; attempt++ {
		remaining, found := twofactor.RemoveHash(current.BackupCodes, target)
		if !found {
			e.metricInc(MetricTwoFactorFailure)
			return nil, ErrTwoFactorCodeInvalid
		}
		replaced, err := q.ReplaceBackupCodes(ctx, current.UserID, current.Version, remaining)
		if err != nil {
			return nil, err
		}
		if replaced {
			e.metricInc(MetricBackupCodeUsed)
			e.metricInc(MetricTwoFactorSuccess)
			return &TwoFactorVerification{
				Method:               MethodBackupCode,
				RemainingBackupCodes: len(remaining),
			}, nil
		}

		current, err = q.TwoFactorByUser(ctx, cred.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTwoFactorCodeInvalid
		}
		if err != nil {
			return nil, err
		}
		if !current.Enabled {
			return nil, ErrTwoFactorCodeInvalid
		}
	}
	e.log.Warn("backup code replacement kept conflicting", zap.String("user_id", cred.UserID))
	return nil, fmt.Errorf("%w: %w", ErrTwoFactorCodeInvalid, store.ErrConflict)
}

// DisableTwoFactor removes the user's credential after re-proving the
// password.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      userID,
		Action:       actionTwoFactorDisable,
		ResourceType: resourceUser,
		ResourceID:   userID,
		IP:           ip,
		UserAgent:    userAgent,
	}

	match, err := e.verifyPassword(ctx, password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		entry.Reason = "invalid_password"
		e.auditFailure(ctx, entry)
		return ErrInvalidCredentials
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		deleted, err := tx.DeleteTwoFactor(ctx, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrTwoFactorNotEnabled
		}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.notifyTwoFactorChange(ctx, userID, false)
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set and returns the
// new plaintext codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	cred, err := e.store.TwoFactorByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !cred.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, err := twofactor.NewBackupCodes(userID, e.config.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	for attempt := 0; ; attempt++ {
		err = e.store.WithTx(ctx, func(tx *store.Tx) error {
			replaced, err := tx.ReplaceBackupCodes(ctx, userID, cred.Version, codes.Hashes)
			if err != nil {
				return err
			}
			if !replaced {
				return store.ErrConflict
			}
			rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
				ActorID:      userID,
				Action:       actionBackupCodesRegen,
				ResourceType: resourceUser,
				ResourceID:   userID,
				Changes:      map[string]int{"count": len(codes.Hashes)},
				IP:           ip,
				UserAgent:    userAgent,
			})
			return err
		})
		if !errors.Is(err, store.ErrConflict) || attempt >= e.config.TwoFactor.BackupCodeRetries {
			break
		}
		cred, err = e.store.TwoFactorByUser(ctx, userID)
		if err != nil {
			break
		}
		if !cred.Enabled {
			return nil, ErrTwoFactorNotEnabled
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, err
	}
	e.mirror(rec)
	e.metricInc(MetricBackupCodeRegenerated)
	return codes.Plain, nil
}

// TwoFactorStatus reports whether 2FA is enabled and how many backup codes
// remain. A pending enrollment reports Enabled false.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	cred, err := e.store.TwoFactorByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &TwoFactorStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !cred.Enabled {
		return &TwoFactorStatus{}, nil
	}
	return &TwoFactorStatus{
		Enabled:              true,
		Method:               cred.Method,
		EnabledAt:            cred.EnabledAt,
		RemainingBackupCodes: len(cred.BackupCodes),
	}, nil
}

// ResetTwoFactor removes a user's credential on an administrator's behalf,
// typically after the second factor was lost or compromised, and revokes
// every session. An empty actorID marks a command-line action and skips
// the permission check.
func (e *Engine) ResetTwoFactor(ctx context.Context, actorID, userID string) error {
	if actorID != "" {
		if err := e.RequirePermission(ctx, actorID, permission.UserUpdate); err != nil {
			return err
		}
	}
	if _, err := e.loadUser(ctx, userID); err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		deleted, err := tx.DeleteTwoFactor(ctx, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrTwoFactorNotEnabled
		}
		n, err := tx.RevokeAllSessions(ctx, userID, store.RevokeTwoFactorReset, e.now())
		if err != nil {
			return err
		}
		entry := auditEntry{
			ActorID:      actorID,
			Action:       actionTwoFactorReset,
			ResourceType: resourceUser,
			ResourceID:   userID,
			Changes:      map[string]int64{"sessions_revoked": n},
			IP:           ip,
			UserAgent:    userAgent,
		}
		if actorID == "" {
			entry.Reason = reasonSystem
		}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.notifyTwoFactorChange(ctx, userID, false)
	return nil
}

func (e *Engine) notifyTwoFactorChange(ctx context.Context, userID string, enabled bool) {
	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		e.log.Warn("two-factor notification skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	e.enqueueMail(e.templates.TwoFactorChanged(user.Email, enabled))
}
