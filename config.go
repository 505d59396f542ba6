package authkit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authkit/password"
)

// Config holds every tunable of the engine. Start from DefaultConfig and
// override what you need; Build runs Validate.
type Config struct {
	AppName string
	// Production enforces the stricter token-lifetime bounds.
	Production bool

	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	PasswordPolicy    password.Policy
	Lockout           LockoutConfig
	EmailVerification EmailVerificationConfig
	PasswordReset     PasswordResetConfig
	TwoFactor         TwoFactorConfig
	RBAC              RBACConfig
	RateLimit         RateLimitConfig
	Store             StoreConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	Mail              MailConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and validation.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh-token sessions.
type SessionConfig struct {
	RefreshTTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost and the hash worker pool size.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// HashConcurrency bounds simultaneous hash computations; 0 means GOMAXPROCS.
	HashConcurrency int
	// UpgradeOnLogin rehashes a verified password stored with weaker parameters.
	UpgradeOnLogin bool
}

// LockoutConfig controls the per-account lock after failed logins.
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// EmailVerificationConfig controls verification tokens.
type EmailVerificationConfig struct {
	TokenTTL time.Duration
	// RequiredForLogin refuses login with ErrEmailNotVerified until verified.
	RequiredForLogin bool
}

// PasswordResetConfig controls reset tokens.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP and backup codes.
type TwoFactorConfig struct {
	// Issuer appears in authenticator apps; empty means AppName.
	Issuer          string
	Digits          int
	Period          uint
	Skew            uint
	BackupCodeCount int
	// EncryptionKey is a base64 32-byte AES key for TOTP secrets at rest.
	EncryptionKey string
	// BackupCodeRetries bounds the compare-and-swap retries when two
	// requests consume backup codes at once.
	BackupCodeRetries int
}

/*
====================================
RBAC CONFIG
====================================
*/

// RBACConfig controls role defaults and the optional permission cache.
type RBACConfig struct {
	DefaultRole string
	// CacheEnabled caches resolved permission sets in Redis.
	CacheEnabled bool
	// CacheTTL caps a cached entry; it is also capped by the access TTL.
	CacheTTL time.Duration
}

// RateRule is a fixed-window budget; zero Limit disables it.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig controls the Redis request budgets.
type RateLimitConfig struct {
	Enabled       bool
	Prefix        string
	LoginPerIP    RateRule
	RegisterPerIP RateRule
	RefreshPerIP  RateRule
	ResetPerEmail RateRule
}

// StoreConfig controls calls into the credential store.
type StoreConfig struct {
	// OperationTimeout bounds the persistence calls of login and refresh.
	OperationTimeout time.Duration
}

// AuditConfig controls the asynchronous audit mirror.
type AuditConfig struct {
	Mirror     bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// MailConfig controls the links embedded in emails.
type MailConfig struct {
	BaseURL string
}

// DefaultConfig returns secure defaults. Signing keys and the 2FA
// encryption key must still be supplied.
func DefaultConfig() Config {
	return Config{
		AppName: "authkit",
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "authkit",
			Audience:      "authkit",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordPolicy: password.DefaultPolicy(),
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:         24 * time.Hour,
			RequiredForLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Digits:            6,
			Period:            30,
			Skew:              1,
			BackupCodeCount:   10,
			BackupCodeRetries: 3,
		},
		RBAC: RBACConfig{
			DefaultRole: "user",
			CacheTTL:    5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Prefix:        "authkit",
			LoginPerIP:    RateRule{Limit: 20, Window: time.Minute},
			RegisterPerIP: RateRule{Limit: 10, Window: time.Minute},
			RefreshPerIP:  RateRule{Limit: 60, Window: time.Minute},
			ResetPerEmail: RateRule{Limit: 3, Window: 15 * time.Minute},
		},
		Store: StoreConfig{
			OperationTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Mirror:     true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks every field. It returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("AppName must not be empty")
	}

	// -------- JWT --------
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT hs256 secret must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("JWT ed25519 requires a public key")
		}
	default:
		return fmt.Errorf("JWT SigningMethod %q not supported", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// -------- SESSION --------
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL")
	}
	if c.Production {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("JWT AccessTTL must be <= 15m in production")
		}
		if c.Session.RefreshTTL > 30*24*time.Hour {
			return errors.New("Session RefreshTTL must be <= 30d in production")
		}
	}

	// -------- PASSWORD --------
	if err := c.passwordHasherConfig().Validate(); err != nil {
		return err
	}
	if c.Password.HashConcurrency < 0 {
		return errors.New("Password HashConcurrency must be >= 0")
	}
	if err := c.PasswordPolicy.Validate(); err != nil {
		return err
	}

	// -------- LOCKOUT --------
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// -------- TOKENS --------
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}

	// -------- TWO FACTOR --------
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeCount > 20 {
		return errors.New("TwoFactor BackupCodeCount must be within [1, 20]")
	}
	if c.TwoFactor.BackupCodeRetries <= 0 {
		return errors.New("TwoFactor BackupCodeRetries must be > 0")
	}
	key, err := base64.StdEncoding.DecodeString(c.TwoFactor.EncryptionKey)
	if err != nil || len(key) != 32 {
		return errors.New("TwoFactor EncryptionKey must be base64 of 32 bytes")
	}

	// -------- RBAC --------
	if c.RBAC.CacheEnabled && c.RBAC.CacheTTL <= 0 {
		return errors.New("RBAC CacheTTL must be > 0 when the cache is enabled")
	}

	// -------- RATE LIMIT --------
	for name, r := range map[string]RateRule{
		"LoginPerIP":    c.RateLimit.LoginPerIP,
		"RegisterPerIP": c.RateLimit.RegisterPerIP,
		"RefreshPerIP":  c.RateLimit.RefreshPerIP,
		"ResetPerEmail": c.RateLimit.ResetPerEmail,
	} {
		if r.Limit < 0 || (r.Limit > 0 && r.Window <= 0) {
			return fmt.Errorf("RateLimit %s must have Limit >= 0 and a positive Window", name)
		}
	}

	// -------- STORE / AUDIT --------
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Audit.Mirror && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when mirroring")
	}

	return nil
}

func (c *Config) passwordHasherConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) totpIssuer() string {
	if c.TwoFactor.Issuer != "" {
		return c.TwoFactor.Issuer
	}
	return c.AppName
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.PrivateKey = append([]byte(nil), c.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), c.JWT.PublicKey...)
	out.PasswordPolicy.CommonPasswords = append([]string(nil), c.PasswordPolicy.CommonPasswords...)
	return out
}
