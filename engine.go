package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/authkit/internal/audit"
	"github.com/MrEthical07/authkit/internal/permcache"
	"github.com/MrEthical07/authkit/internal/rate"
	"github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/password"
	"github.com/MrEthical07/authkit/store"
	"github.com/MrEthical07/authkit/twofactor"
)

// Engine runs every authentication, session and authorization operation.
// It keeps no per-user state in memory; all of it lives in the store.
// Engine is safe for concurrent use.
type Engine struct {
	config Config
	store  *store.Store
	log    *zap.Logger
	clock  func() time.Time
	tracer trace.Tracer

	jwt       *jwt.Manager
	hasher    *password.Pool
	dummyHash string
	totp      *twofactor.TOTP
	cipher    *twofactor.SecretCipher

	limiter   *rate.Limiter
	permCache *permcache.Cache

	mailer      Mailer
	ownedMailer *notify.Dispatcher
	templates   notify.Templates

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes the audit mirror and, when the engine created it, the mail
// queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownedMailer != nil {
		e.ownedMailer.Close()
	}
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports mirrored audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return e.store.Ping(ctx)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// opContext bounds a persistence call on the login and refresh paths.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// detachedContext survives cancellation of ctx. Used for writes that must
// complete once a security decision has been made.
func (e *Engine) detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.Store.OperationTimeout)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authkit."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) enqueueMail(m notify.Message) {
	if !e.mailer.Enqueue(m) {
		e.metricInc(MetricMailDropped)
		e.log.Warn("email not queued", zap.String("kind", m.Kind))
	}
}

// allow applies a rate-limit check. Redis failures fail open.
func (e *Engine) allow(ctx context.Context, check func(context.Context, string) error, id string) error {
	if e.limiter == nil {
		return nil
	}
	err := check(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	default:
		e.metricInc(MetricRateLimitBypassed)
		e.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return nil
	}
}

func (e *Engine) dummyVerify(ctx context.Context, plain string) {
	_, _ = e.hasher.Verify(ctx, plain, e.dummyHash)
}

// verifyPassword treats oversized input as a mismatch.
func (e *Engine) verifyPassword(ctx context.Context, plain, encoded string) (bool, error) {
	if plain == "" {
		e.dummyVerify(ctx, "-")
		return false, nil
	}
	ok, err := e.hasher.Verify(ctx, plain, encoded)
	if errors.Is(err, password.ErrPasswordTooLong) {
		return false, nil
	}
	return ok, err
}

// loadUser maps a missing row to ErrUserNotFound.
func (e *Engine) loadUser(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := e.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// normalizeEmail lower-cases and validates a bare address.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

/*
====================================
AUDIT
====================================
*/

// auditEntry is one audit record before it is stored.
type auditEntry struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Reason       string
	Changes      any
	IP           string
	UserAgent    string
}

// recordAudit appends entry through q and returns the stored record for
// mirroring once the surrounding transaction commits.
func (e *Engine) recordAudit(ctx context.Context, q *store.Queries, entry auditEntry) (*store.AuditRecord, error) {
	rec := &store.AuditRecord{
		ID:           uuid.NewString(),
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Outcome:      entry.Outcome,
		Reason:       entry.Reason,
		IP:           entry.IP,
		UserAgent:    entry.UserAgent,
		CreatedAt:    e.now(),
	}
	if rec.Outcome == "" {
		rec.Outcome = internalaudit.OutcomeSuccess
	}
	if entry.Changes != nil {
		data, err := json.Marshal(entry.Changes)
		if err != nil {
			return nil, err
		}
		rec.Changes = string(data)
	}
	if err := q.AppendAudit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// auditFailure stores a failure record outside any transaction. Errors are
// logged, never returned, so they cannot mask the failure being reported.
func (e *Engine) auditFailure(ctx context.Context, entry auditEntry) {
	entry.Outcome = internalaudit.OutcomeFailure
	actx, cancel := e.detachedContext(ctx)
	defer cancel()

	rec, err := e.recordAudit(actx, e.store.Queries, entry)
	if err != nil {
		e.log.Error("audit append failed", zap.String("action", entry.Action), zap.Error(err))
		return
	}
	e.mirror(rec)
}

// mirror forwards committed records to the audit sink.
func (e *Engine) mirror(recs ...*store.AuditRecord) {
	e.audit.Forward(recs...)
}
