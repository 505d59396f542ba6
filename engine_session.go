package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/internal"
	"github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/store"
)

// errRotationLost is returned from the rotation transaction when another
// refresh already revoked the presented session.
var errRotationLost = errors.New("rotation lost")

const tokenTypeBearer = "Bearer"

// issuePair mints the access token for an already persisted session.
func (e *Engine) issuePair(userID, sessionID, refreshRaw string, roles []string) (TokenPair, error) {
	access, _, err := e.jwt.CreateAccess(jwt.AccessInput{
		UserID:    userID,
		SessionID: sessionID,
		Roles:     roles,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshRaw,
		ExpiresIn:    int64(e.jwt.TTL() / time.Second),
		TokenType:    tokenTypeBearer,
		SessionID:    sessionID,
	}, nil
}

func (e *Engine) newSession(userID, ip, userAgent string, now time.Time) (*store.Session, string, error) {
	raw, digest, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, "", err
	}
	return &store.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: digest,
		IP:               ip,
		UserAgent:        userAgent,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(e.config.Session.RefreshTTL),
	}, raw, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked and replaced in the same transaction. Presenting a token that
// was already rotated away revokes every session of its user and returns
// ErrSessionCompromised; that attempt is audited as session.compromised
// instead of a token.refresh failure.
func (e *Engine) Refresh(ctx context.Context, req RefreshRequest) (pair *TokenPair, err error) {
	ctx, span := e.startSpan(ctx, "refresh")
	defer func() { endSpan(span, err) }()

	ip, userAgent := requestMeta(ctx, req.IP, req.UserAgent)
	fail := func(actorID, resourceID, reason string, cause error) (*TokenPair, error) {
		e.metricInc(MetricRefreshFailure)
		e.auditFailure(ctx, auditEntry{
			ActorID:      actorID,
			Action:       actionTokenRefresh,
			ResourceType: resourceSession,
			ResourceID:   resourceID,
			Reason:       reason,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return nil, cause
	}

	if err := e.allow(ctx, e.limiter.AllowRefresh, ip); err != nil {
		return fail("", "", "rate_limited", err)
	}

	digest, err := internal.TokenDigest(req.RefreshToken)
	if err != nil {
		return fail("", "", "token_malformed", ErrTokenInvalid)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	sess, err := e.store.SessionByTokenHash(opCtx, digest)
	if errors.Is(err, store.ErrNotFound) {
		return fail("", "", "token_not_found", ErrTokenRevoked)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))

	now := e.now()
	if sess.Revoked() {
		if sess.RevokeReason == store.RevokeRotated || sess.RevokeReason == store.RevokeCompromised {
			e.compromise(ctx, sess, "refresh_token_reuse", ip, userAgent)
			return nil, ErrSessionCompromised
		}
		return fail(sess.UserID, sess.ID, "session_revoked", ErrTokenRevoked)
	}
	if !now.Before(sess.ExpiresAt) {
		return fail(sess.UserID, sess.ID, "session_expired", ErrTokenExpired)
	}

	user, err := e.store.UserByID(opCtx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: load user: %w", err)
	}
	if user.Status != store.StatusActive {
		if _, err := e.store.RevokeSessionByID(opCtx, sess.ID, store.RevokeStatusChange, now); err != nil {
			e.log.Error("revoke session of inactive user", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return fail(sess.UserID, sess.ID, "account_"+user.Status, ErrAccountSuspendedOrBanned)
	}

	roles, err := e.store.ActiveRoleNames(opCtx, user.ID, now)
	if err != nil {
		return nil, err
	}

	next, raw, err := e.newSession(user.ID, ip, userAgent, now)
	if err != nil {
		return nil, err
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(opCtx, func(tx *store.Tx) error {
		ok, err := tx.RotateSession(opCtx, sess.ID, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return errRotationLost
		}
		rec, err = e.recordAudit(opCtx, tx.Queries, auditEntry{
			ActorID:      user.ID,
			Action:       actionTokenRefresh,
			ResourceType: resourceSession,
			ResourceID:   next.ID,
			Changes:      map[string]string{"previous_session": sess.ID},
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if errors.Is(err, errRotationLost) {
		e.compromise(ctx, sess, "concurrent_rotation", ip, userAgent)
		return nil, ErrSessionCompromised
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: rotate: %w", err)
	}
	e.mirror(rec)

	out, err := e.issuePair(user.ID, next.ID, raw, roles)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	return &out, nil
}

// compromise revokes every session of the chain's owner. It runs detached
// from the caller so a cancelled request cannot leave the chain alive.
func (e *Engine) compromise(ctx context.Context, sess *store.Session, reason, ip, userAgent string) {
	e.metricInc(MetricRefreshReuseDetected)
	e.metricInc(MetricRefreshFailure)

	dctx, cancel := e.detachedContext(ctx)
	defer cancel()

	var (
		revoked int64
		rec     *store.AuditRecord
	)
	err := e.store.WithTx(dctx, func(tx *store.Tx) error {
		var err error
		revoked, err = tx.RevokeAllSessions(dctx, sess.UserID, store.RevokeCompromised, e.now())
		if err != nil {
			return err
		}
		rec, err = e.recordAudit(dctx, tx.Queries, auditEntry{
			ActorID:      sess.UserID,
			Action:       actionSessionCompromised,
			ResourceType: resourceSession,
			ResourceID:   sess.ID,
			Outcome:      outcomeFailure,
			Reason:       reason,
			Changes:      map[string]int64{"sessions_revoked": revoked},
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		e.log.Error("revoke compromised sessions",
			zap.String("user_id", sess.UserID),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return
	}
	e.mirror(rec)
	e.log.Warn("refresh token reuse detected",
		zap.String("user_id", sess.UserID),
		zap.String("session_id", sess.ID),
		zap.String("reason", reason),
		zap.Int64("sessions_revoked", revoked),
	)
}

// Logout revokes the session behind refreshToken. Unknown, malformed and
// already revoked tokens succeed without effect.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	digest, err := internal.TokenDigest(refreshToken)
	if err != nil {
		return nil
	}
	sess, err := e.store.SessionByTokenHash(ctx, digest)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Revoked() {
		return nil
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.RevokeSessionByID(ctx, sess.ID, store.RevokeLogout, e.now())
		if err != nil || !ok {
			return err
		}
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      sess.UserID,
			Action:       actionLogout,
			ResourceType: resourceSession,
			ResourceID:   sess.ID,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if rec != nil {
		e.mirror(rec)
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionRevoked)
	}
	return nil
}

// LogoutAll revokes every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.RevokeAllSessions(ctx, userID, store.RevokeLogoutAll, e.now())
		if err != nil {
			return err
		}
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      userID,
			Action:       actionLogoutAll,
			ResourceType: resourceUser,
			ResourceID:   userID,
			Changes:      map[string]int64{"sessions_revoked": n},
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	e.mirror(rec)
	e.metricInc(MetricLogoutAll)
	return nil
}

// ValidateAccess verifies an access token's signature and registered
// claims. It does not touch the store, so a revoked session's access token
// stays valid until it expires.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.jwt.ParseAccess(accessToken)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}

// ListSessions returns the user's active sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	sessions, err := e.store.ActiveSessions(ctx, userID, e.now())
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:         s.ID,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	return out, nil
}

// RevokeSession revokes one of the user's own sessions.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.RevokeUserSession(ctx, userID, sessionID, store.RevokeSession, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      userID,
			Action:       actionSessionRevoke,
			ResourceType: resourceSession,
			ResourceID:   sessionID,
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.metricInc(MetricSessionRevoked)
	return nil
}
