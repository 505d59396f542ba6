package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/internal"
	"github.com/MrEthical07/authkit/store"
)

const maxNameLength = 100

// errTokenSpent is returned from a consume transaction that lost the
// used_at race.
var errTokenSpent = errors.New("token already consumed")

// Register creates an unverified account, grants the default role when it
// exists, and queues the verification email. The password is checked
// against the policy before anything is stored.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (result *RegisterResult, err error) {
	ctx, span := e.startSpan(ctx, "register")
	defer func() { endSpan(span, err) }()

	ip, userAgent := requestMeta(ctx, req.IP, req.UserAgent)
	if err := e.allow(ctx, e.limiter.AllowRegister, ip); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name too long", ErrInvalidInput)
	}
	if err := e.config.PasswordPolicy.Check(req.Password); err != nil {
		e.metricInc(MetricRegisterWeakPassword)
		return nil, fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}

	hash, err := e.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}

	now := e.now()
	user := &store.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		Name:              name,
		Status:            store.StatusActive,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	raw, token, err := e.newVerificationToken(user.ID, store.TokenEmailVerify, e.config.EmailVerification.TokenTTL, now)
	if err != nil {
		return nil, err
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		role := ""
		if def := e.config.RBAC.DefaultRole; def != "" {
			r, err := tx.RoleByName(ctx, def)
			switch {
			case err == nil:
				if err := tx.AssignRole(ctx, user.ID, r.ID, "", now, nil); err != nil {
					return err
				}
				role = r.Name
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		if err := tx.CreateVerificationToken(ctx, token); err != nil {
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      user.ID,
			Action:       actionRegister,
			ResourceType: resourceUser,
			ResourceID:   user.ID,
			Changes:      map[string]string{"role": role},
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		e.metricInc(MetricRegisterDuplicate)
		e.auditFailure(ctx, auditEntry{
			Action:       actionRegister,
			ResourceType: resourceUser,
			Reason:       "email_already_registered",
			IP:           ip,
			UserAgent:    userAgent,
		})
		return nil, ErrEmailAlreadyRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	e.mirror(rec)
	e.metricInc(MetricRegisterSuccess)

	e.enqueueMail(e.templates.VerifyEmail(email, name, raw))
	return &RegisterResult{UserID: user.ID, VerificationRequired: true}, nil
}

func (e *Engine) newVerificationToken(userID, tokenType string, ttl time.Duration, now time.Time) (string, *store.VerificationToken, error) {
	raw, digest, err := internal.NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	return raw, &store.VerificationToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      tokenType,
		TokenHash: digest,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// lookupToken resolves a raw emailed token. On failure it returns the
// audit reason and ErrTokenNotFound or ErrTokenExpired.
func (e *Engine) lookupToken(ctx context.Context, tokenType, raw string) (*store.VerificationToken, string, error) {
	digest, err := internal.TokenDigest(raw)
	if err != nil {
		return nil, "token_malformed", ErrTokenNotFound
	}
	tok, err := e.store.VerificationTokenByHash(ctx, tokenType, digest)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "token_not_found", ErrTokenNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if tok.UsedAt != nil {
		return tok, "token_used", ErrTokenNotFound
	}
	if !e.now().Before(tok.ExpiresAt) {
		return tok, "token_expired", ErrTokenExpired
	}
	return tok, "", nil
}

// VerifyEmail consumes an email verification token. Unknown, used and
// expired tokens all return ErrVerificationTokenInvalid; errors.Is also
// matches ErrTokenNotFound or ErrTokenExpired for the exact cause, which
// is recorded in the audit log.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		Action:       actionVerifyEmail,
		ResourceType: resourceToken,
		IP:           ip,
		UserAgent:    userAgent,
	}
	reject := func(actorID, reason string, cause error) error {
		e.metricInc(MetricEmailVerificationFailure)
		entry.ActorID = actorID
		entry.Reason = reason
		e.auditFailure(ctx, entry)
		e.log.Info("email verification rejected", zap.String("reason", reason), zap.String("user_id", actorID))
		return errors.Join(ErrVerificationTokenInvalid, cause)
	}

	tok, reason, cause := e.lookupToken(ctx, store.TokenEmailVerify, token)
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

	entry.ActorID, entry.ResourceID = tok.UserID, tok.ID
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		consumed, err := tx.ConsumeVerificationToken(ctx, tok.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			return errTokenSpent
		}
		if err := tx.SetEmailVerified(ctx, tok.UserID, now); err != nil {
			return err
		}
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if errors.Is(err, errTokenSpent) {
		return reject(tok.UserID, "token_used", ErrTokenNotFound)
	}
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	e.mirror(rec)
	e.metricInc(MetricEmailVerificationSuccess)
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// active account. It returns nil whether or not such an account exists.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := e.allow(ctx, e.limiter.AllowVerificationResend, email); err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		Action:       actionResendVerification,
		ResourceType: resourceUser,
		IP:           ip,
		UserAgent:    userAgent,
	}

	user, err := e.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		entry.Reason = "unknown_email"
		e.auditFailure(ctx, entry)
		return nil
	}
	if err != nil {
		return err
	}
	entry.ActorID, entry.ResourceID = user.ID, user.ID
	switch {
	case user.EmailVerified:
		entry.Reason = "already_verified"
	case user.Status != store.StatusActive:
		entry.Reason = "account_" + user.Status
	}
	if entry.Reason != "" {
		e.auditFailure(ctx, entry)
		return nil
	}

	now := e.now()
	raw, token, err := e.newVerificationToken(user.ID, store.TokenEmailVerify, e.config.EmailVerification.TokenTTL, now)
	if err != nil {
		return err
	}
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InvalidateVerificationTokens(ctx, user.ID, store.TokenEmailVerify, now); err != nil {
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
		return fmt.Errorf("resend verification: %w", err)
	}
	e.mirror(rec)
	e.enqueueMail(e.templates.VerifyEmail(user.Email, user.Name, raw))
	return nil
}
