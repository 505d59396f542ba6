package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one fixed-window budget.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Config holds rate limiter tuning parameters. A Rule with zero Limit is
// disabled.
type Config struct {
	Prefix        string
	LoginPerIP    Rule
	RegisterPerIP Rule
	RefreshPerIP  Rule
	ResetPerEmail Rule
}

// DefaultConfig allows 20 logins, 10 registrations and 60 refreshes per IP
// per minute, and 3 reset requests per email per 15 minutes.
func DefaultConfig() Config {
	return Config{
		Prefix:        "authkit",
		LoginPerIP:    Rule{Limit: 20, Window: time.Minute},
		RegisterPerIP: Rule{Limit: 10, Window: time.Minute},
		RefreshPerIP:  Rule{Limit: 60, Window: time.Minute},
		ResetPerEmail: Rule{Limit: 3, Window: 15 * time.Minute},
	}
}

// Limiter enforces fixed-window request budgets using Redis counters.
// Errors wrapping ErrRedisUnavailable let the caller decide to fail open.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "authkit"
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// AllowLogin counts a login attempt from ip.
func (l *Limiter) AllowLogin(ctx context.Context, ip string) error {
	return l.allow(ctx, l.config.LoginPerIP, "login", ip)
}

// AllowRegister counts a registration attempt from ip.
func (l *Limiter) AllowRegister(ctx context.Context, ip string) error {
	return l.allow(ctx, l.config.RegisterPerIP, "register", ip)
}

// AllowRefresh counts a refresh attempt from ip.
func (l *Limiter) AllowRefresh(ctx context.Context, ip string) error {
	return l.allow(ctx, l.config.RefreshPerIP, "refresh", ip)
}

// AllowPasswordReset counts a reset request for email.
func (l *Limiter) AllowPasswordReset(ctx context.Context, email string) error {
	return l.allow(ctx, l.config.ResetPerEmail, "reset", email)
}

// AllowVerificationResend counts a resend of the verification email to
// email. It shares the reset budget size but not its counter.
func (l *Limiter) AllowVerificationResend(ctx context.Context, email string) error {
	return l.allow(ctx, l.config.ResetPerEmail, "resend", email)
}

// Remaining reports how many attempts are left in the current login window
// for ip. Missing keys report the full budget.
func (l *Limiter) Remaining(ctx context.Context, ip string) (int, error) {
	if !l.config.LoginPerIP.enabled() {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key("login", ip)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.config.LoginPerIP.Limit, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= l.config.LoginPerIP.Limit {
		return 0, nil
	}
	return l.config.LoginPerIP.Limit - count, nil
}

func (l *Limiter) allow(ctx context.Context, rule Rule, scope, id string) error {
	if !rule.enabled() || id == "" {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(scope, id), rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.Limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) key(scope, id string) string {
	return l.config.Prefix + ":rl:" + scope + ":" + id
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
