// Package config loads the service configuration from a YAML file,
// AUTHKIT_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/internal/logging"
	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/store"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  logging.Config `mapstructure:"logging"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// TrustProxy reads the client address from X-Forwarded-For.
	TrustProxy     bool `mapstructure:"trust_proxy"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig is optional; an empty Addr disables rate limiting and the
// permission cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SMTPConfig is optional; an empty Host logs mail instead of sending it.
type SMTPConfig struct {
	Host       string  `mapstructure:"host"`
	Port       int     `mapstructure:"port"`
	Username   string  `mapstructure:"username"`
	Password   string  `mapstructure:"password"`
	From       string  `mapstructure:"from"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

// AuthConfig is the subset of engine settings exposed to operators.
type AuthConfig struct {
	AppName    string `mapstructure:"app_name"`
	Production bool   `mapstructure:"production"`
	BaseURL    string `mapstructure:"base_url"`

	SigningMethod  string        `mapstructure:"signing_method"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`

	MaxFailedAttempts    int           `mapstructure:"max_failed_attempts"`
	LockoutDuration      time.Duration `mapstructure:"lockout_duration"`
	RequireVerifiedEmail bool          `mapstructure:"require_verified_email"`
	VerificationTTL      time.Duration `mapstructure:"verification_ttl"`
	ResetTTL             time.Duration `mapstructure:"reset_ttl"`

	TwoFactorIssuer        string `mapstructure:"two_factor_issuer"`
	TwoFactorEncryptionKey string `mapstructure:"two_factor_encryption_key"`

	DefaultRole           string        `mapstructure:"default_role"`
	PermissionCache       bool          `mapstructure:"permission_cache"`
	PermissionCacheTTL    time.Duration `mapstructure:"permission_cache_ttl"`
	RateLimitEnabled      bool          `mapstructure:"rate_limit_enabled"`
	LoginPerMinute        int           `mapstructure:"login_per_minute"`
	RegisterPerMinute     int           `mapstructure:"register_per_minute"`
	RefreshPerMinute      int           `mapstructure:"refresh_per_minute"`
	ResetPerQuarterHour   int           `mapstructure:"reset_per_quarter_hour"`
	AuditMirror           bool          `mapstructure:"audit_mirror"`
	LatencyHistograms     bool          `mapstructure:"latency_histograms"`
	StoreOperationTimeout time.Duration `mapstructure:"store_operation_timeout"`
}

// Default returns the configuration used when neither file nor
// environment override a key.
func Default() Config {
	engine := authkit.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsEnabled:  true,
		},
		Database: DatabaseConfig{
			Driver:          store.DriverSQLite,
			DSN:             "file:authkit.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Logging: logging.DefaultConfig(),
		SMTP: SMTPConfig{
			Port:       587,
			From:       "no-reply@localhost",
			RatePerSec: 10,
		},
		Auth: AuthConfig{
			AppName:               engine.AppName,
			BaseURL:               "http://localhost:8080",
			SigningMethod:         engine.JWT.SigningMethod,
			Issuer:                engine.JWT.Issuer,
			Audience:              engine.JWT.Audience,
			AccessTTL:             engine.JWT.AccessTTL,
			RefreshTTL:            engine.Session.RefreshTTL,
			MaxFailedAttempts:     engine.Lockout.MaxFailedAttempts,
			LockoutDuration:       engine.Lockout.Duration,
			RequireVerifiedEmail:  engine.EmailVerification.RequiredForLogin,
			VerificationTTL:       engine.EmailVerification.TokenTTL,
			ResetTTL:              engine.PasswordReset.TokenTTL,
			DefaultRole:           engine.RBAC.DefaultRole,
			PermissionCacheTTL:    engine.RBAC.CacheTTL,
			RateLimitEnabled:      engine.RateLimit.Enabled,
			LoginPerMinute:        engine.RateLimit.LoginPerIP.Limit,
			RegisterPerMinute:     engine.RateLimit.RegisterPerIP.Limit,
			RefreshPerMinute:      engine.RateLimit.RefreshPerIP.Limit,
			ResetPerQuarterHour:   engine.RateLimit.ResetPerEmail.Limit,
			AuditMirror:           engine.Audit.Mirror,
			StoreOperationTimeout: engine.Store.OperationTimeout,
		},
	}
}

// Validate checks the service-level settings. Engine settings are
// checked by authkit.Config.Validate when the engine is built.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Database.Driver {
	case store.DriverPostgres, store.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.SMTP.Host != "" && (c.SMTP.Port <= 0 || c.SMTP.From == "") {
		errs = append(errs, errors.New("smtp.port and smtp.from are required when smtp.host is set"))
	}
	return errors.Join(errs...)
}

// StoreConfig maps the database section onto store.Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// SMTPSenderConfig maps the smtp section onto notify.SMTPConfig.
func (c *Config) SMTPSenderConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
	}
}

// EngineConfig overlays the auth section on authkit.DefaultConfig and
// loads key material. The result is not validated.
func (c *Config) EngineConfig() (authkit.Config, error) {
	a := c.Auth
	out := authkit.DefaultConfig()
	out.AppName = a.AppName
	out.Production = a.Production

	out.JWT.SigningMethod = strings.ToLower(a.SigningMethod)
	out.JWT.Issuer = a.Issuer
	out.JWT.Audience = a.Audience
	out.JWT.AccessTTL = a.AccessTTL
	switch out.JWT.SigningMethod {
	case "ed25519":
		priv, err := readKey(a.PrivateKeyFile)
		if err != nil {
			return authkit.Config{}, fmt.Errorf("auth.private_key_file: %w", err)
		}
		pub, err := readKey(a.PublicKeyFile)
		if err != nil {
			return authkit.Config{}, fmt.Errorf("auth.public_key_file: %w", err)
		}
		out.JWT.PrivateKey, out.JWT.PublicKey = priv, pub
	default:
		out.JWT.PrivateKey = []byte(a.JWTSecret)
	}

	out.Session.RefreshTTL = a.RefreshTTL
	out.Lockout.MaxFailedAttempts = a.MaxFailedAttempts
	out.Lockout.Duration = a.LockoutDuration
	out.EmailVerification.RequiredForLogin = a.RequireVerifiedEmail
	out.EmailVerification.TokenTTL = a.VerificationTTL
	out.PasswordReset.TokenTTL = a.ResetTTL

	out.TwoFactor.Issuer = a.TwoFactorIssuer
	out.TwoFactor.EncryptionKey = a.TwoFactorEncryptionKey

	out.RBAC.DefaultRole = a.DefaultRole
	out.RBAC.CacheEnabled = a.PermissionCache && c.Redis.Addr != ""
	out.RBAC.CacheTTL = a.PermissionCacheTTL

	out.RateLimit.Enabled = a.RateLimitEnabled && c.Redis.Addr != ""
	out.RateLimit.LoginPerIP.Limit = a.LoginPerMinute
	out.RateLimit.RegisterPerIP.Limit = a.RegisterPerMinute
	out.RateLimit.RefreshPerIP.Limit = a.RefreshPerMinute
	out.RateLimit.ResetPerEmail.Limit = a.ResetPerQuarterHour

	out.Store.OperationTimeout = a.StoreOperationTimeout
	out.Audit.Mirror = a.AuditMirror
	out.Metrics.EnableLatencyHistograms = a.LatencyHistograms
	out.Mail.BaseURL = strings.TrimRight(a.BaseURL, "/")
	return out, nil
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
