package authkit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
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

// Builder assembles an Engine. Configure it once during initialization,
// then call Build.
type Builder struct {
	config Config
	store  *store.Store
	redis  redis.UniversalClient
	log    *zap.Logger
	mailer Mailer
	sink   AuditSink
	clock  func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s *store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis enables the rate limiter and, if configured, the permission cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithMailer sets the outgoing mail queue. Without one, emails are logged.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets where committed audit records are mirrored. Without
// one, they are logged.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides time.Now for every expiry and lockout decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RBAC.CacheEnabled && b.redis == nil {
		return nil, errors.New("RBAC cache requires redis client")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- TOKENS --------
	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(cfg.passwordHasherConfig())
	if err != nil {
		return nil, err
	}
	pool := password.NewPool(hasher, cfg.Password.HashConcurrency)

	// A real hash of a random value, verified against unknown emails so
	// their response time matches a wrong password.
	var filler [24]byte
	if _, err := rand.Read(filler[:]); err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(base64.RawStdEncoding.EncodeToString(filler[:]))
	if err != nil {
		return nil, err
	}

	// -------- TWO FACTOR --------
	totp, err := twofactor.NewTOTP(twofactor.Config{
		Issuer: cfg.totpIssuer(),
		Digits: cfg.TwoFactor.Digits,
		Period: cfg.TwoFactor.Period,
		Skew:   cfg.TwoFactor.Skew,
	})
	if err != nil {
		return nil, err
	}
	cipher, err := twofactor.NewSecretCipher(cfg.TwoFactor.EncryptionKey)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:    cfg,
		store:     b.store,
		log:       log,
		clock:     clock,
		tracer:    otel.Tracer("authkit"),
		jwt:       jwtManager,
		hasher:    pool,
		dummyHash: dummyHash,
		totp:      totp,
		cipher:    cipher,
		metrics:   NewMetrics(cfg.Metrics),
		templates: notify.Templates{AppName: cfg.AppName, BaseURL: cfg.Mail.BaseURL},
	}

	// -------- REDIS --------
	if b.redis != nil {
		if cfg.RateLimit.Enabled {
			e.limiter = rate.New(b.redis, rate.Config{
				Prefix:        cfg.RateLimit.Prefix,
				LoginPerIP:    rate.Rule(cfg.RateLimit.LoginPerIP),
				RegisterPerIP: rate.Rule(cfg.RateLimit.RegisterPerIP),
				RefreshPerIP:  rate.Rule(cfg.RateLimit.RefreshPerIP),
				ResetPerEmail: rate.Rule(cfg.RateLimit.ResetPerEmail),
			})
		}
		if cfg.RBAC.CacheEnabled {
			e.permCache = permcache.New(b.redis, cfg.RateLimit.Prefix)
		}
	} else if cfg.RateLimit.Enabled {
		log.Warn("rate limiting configured without redis; only account lockout applies")
	}

	// -------- MAIL --------
	if b.mailer != nil {
		e.mailer = b.mailer
	} else {
		d := notify.NewDispatcher(notify.DefaultDispatcherConfig(), notify.NewLogSender(log), log)
		e.mailer = d
		e.ownedMailer = d
	}

	// -------- AUDIT MIRROR --------
	sink := b.sink
	if sink == nil {
		sink = internalaudit.NewZapSink(log)
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Mirror,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, log)

	b.built = true
	return e, nil
}
