package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/store"
)

// Login authenticates an email and password, and a second factor when the
// account has one enabled. The gates run in this order:
//
//   - per-IP rate limit (ErrRateLimited)
//   - unknown email (ErrInvalidCredentials after a dummy hash verification)
//   - active lockout (ErrAccountLocked, no hash verification)
//   - password (ErrInvalidCredentials, counts toward lockout)
//   - account status (ErrAccountSuspendedOrBanned)
//   - email verification (ErrEmailNotVerified)
//   - second factor (ErrTwoFactorRequired, ErrTwoFactorCodeInvalid)
//
// Every attempt leaves exactly one user.login audit record, rejected ones
// included.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := e.startSpan(ctx, "login")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricLoginLatency, time.Since(start))
		}
	}()

	ip, userAgent := requestMeta(ctx, req.IP, req.UserAgent)
	entry := auditEntry{
		Action:       actionLogin,
		ResourceType: resourceUser,
		IP:           ip,
		UserAgent:    userAgent,
	}
	fail := func(reason string, cause error) (*LoginResult, error) {
		e.metricInc(MetricLoginFailure)
		entry.Reason = reason
		e.auditFailure(ctx, entry)
		return nil, cause
	}

	if err := e.allow(ctx, e.limiter.AllowLogin, ip); err != nil {
		return fail("rate_limited", err)
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		e.dummyVerify(ctx, req.Password)
		return fail("invalid_email", ErrInvalidCredentials)
	}
	if req.Password == "" {
		e.dummyVerify(ctx, req.Password)
		return fail("empty_password", ErrInvalidCredentials)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	user, err := e.store.UserByEmail(opCtx, email)
	if errors.Is(err, store.ErrNotFound) {
		e.dummyVerify(ctx, req.Password)
		return fail("unknown_email", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("login: load user: %w", err)
	}
	entry.ActorID, entry.ResourceID = user.ID, user.ID
	span.SetAttributes(attribute.String("user.id", user.ID))

	now := e.now()
	if user.LockedAt(now) {
		e.metricInc(MetricLoginLocked)
		return fail("account_locked", ErrAccountLocked)
	}

	match, err := e.verifyPassword(ctx, req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("login: verify password: %w", err)
	}
	if !match {
		if err := e.recordLoginFailure(ctx, user.ID, "invalid_password", entry); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if user.Status != store.StatusActive {
		return fail("account_"+user.Status, ErrAccountSuspendedOrBanned)
	}
	if e.config.EmailVerification.RequiredForLogin && !user.EmailVerified {
		return fail("email_not_verified", ErrEmailNotVerified)
	}

	cred, err := e.store.TwoFactorByUser(opCtx, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("login: load two-factor: %w", err)
	}
	if cred != nil && cred.Enabled {
		code := strings.TrimSpace(req.TwoFactorCode)
		if code == "" {
			e.metricInc(MetricTwoFactorRequired)
			return fail("two_factor_required", ErrTwoFactorRequired)
		}
	}
	secondFactor := cred != nil && cred.Enabled

	roles, err := e.store.ActiveRoleNames(opCtx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("login: load roles: %w", err)
	}

	sess, raw, err := e.newSession(user.ID, ip, userAgent, now)
	if err != nil {
		return nil, err
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(opCtx, func(tx *store.Tx) error {
		if secondFactor {
			if _, err := e.checkSecondFactor(opCtx, tx.Queries, cred, strings.TrimSpace(req.TwoFactorCode)); err != nil {
				return err
			}
		}
		if err := tx.RecordLoginSuccess(opCtx, user.ID, ip, now); err != nil {
			return err
		}
		if err := tx.CreateSession(opCtx, sess); err != nil {
			return err
		}
		var err error
		entry.Changes = map[string]string{"session_id": sess.ID}
		rec, err = e.recordAudit(opCtx, tx.Queries, entry)
		return err
	})
	if errors.Is(err, ErrTwoFactorCodeInvalid) {
		if err := e.recordLoginFailure(ctx, user.ID, "invalid_two_factor_code", entry); err != nil {
			return nil, err
		}
		return nil, ErrTwoFactorCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("login: persist session: %w", err)
	}
	e.mirror(rec)

	pair, err := e.issuePair(user.ID, sess.ID, raw, roles)
	if err != nil {
		return nil, err
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, user, req.Password)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)

	user.LastLoginAt = &now
	user.LastLoginIP = ip
	user.FailedLoginAttempts = 0
	return &LoginResult{TokenPair: pair, User: publicUser(user)}, nil
}

// recordLoginFailure bumps the lockout counter and stores the failure
// audit record in one transaction.
func (e *Engine) recordLoginFailure(ctx context.Context, userID, reason string, entry auditEntry) error {
	e.metricInc(MetricLoginFailure)

	opCtx, cancel := e.detachedContext(ctx)
	defer cancel()

	var (
		state *store.LoginFailure
		rec   *store.AuditRecord
	)
	err := e.store.WithTx(opCtx, func(tx *store.Tx) error {
		var err error
		state, err = tx.RecordLoginFailure(opCtx, userID,
			e.config.Lockout.MaxFailedAttempts, e.config.Lockout.Duration, e.now())
		if err != nil {
			return err
		}
		entry.Outcome = outcomeFailure
		entry.Reason = reason
		changes := map[string]any{"failed_attempts": state.Attempts}
		if state.LockedUntil != nil {
			changes["locked_until"] = state.LockedUntil.Format(time.RFC3339)
		}
		entry.Changes = changes
		rec, err = e.recordAudit(opCtx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return fmt.Errorf("login: record failure: %w", err)
	}
	e.mirror(rec)

	if state.LockedUntil != nil {
		e.metricInc(MetricAccountLocked)
		e.log.Warn("account locked after repeated login failures",
			zap.String("user_id", userID),
			zap.Time("locked_until", *state.LockedUntil),
		)
	}
	return nil
}

// upgradeHash re-hashes a verified password under the current cost
// parameters. Failures are logged and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, user *store.User, plain string) {
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(ctx, plain)
	if err != nil {
		e.log.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if _, err := e.store.RehashPassword(ctx, user.ID, user.PasswordHash, hash, e.now()); err != nil {
		e.log.Warn("password rehash not stored", zap.String("user_id", user.ID), zap.Error(err))
	}
}
