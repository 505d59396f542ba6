package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTHKIT_SERVER_ADDR.
const EnvPrefix = "AUTHKIT"

// Manager owns the viper instance and the last successfully decoded Config.
type Manager struct {
	path  string
	viper *viper.Viper

	mu  sync.RWMutex
	cfg Config
}

// Load reads path (optional), the environment and defaults. A missing
// file is not an error.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path, viper: viper.New()}

	if path != "" {
		m.viper.SetConfigFile(path)
	} else {
		m.viper.SetConfigName("authkit")
		m.viper.AddConfigPath(".")
	}
	m.viper.SetConfigType("yaml")
	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(m.viper, Default())

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	m.cfg = cfg
	return m, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// ConfigFile reports the file viper read, or "" when running on defaults.
func (m *Manager) ConfigFile() string {
	return m.viper.ConfigFileUsed()
}

// Watch reloads the file on change and hands the new configuration to fn.
// Invalid edits are reported through onError and leave the previous
// configuration in place.
func (m *Manager) Watch(fn func(Config), onError func(error)) {
	m.viper.OnConfigChange(func(fsnotify.Event) {
		cfg, err := m.decode()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		fn(cfg)
	})
	m.viper.WatchConfig()
}

func (m *Manager) decode() (Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.trust_proxy", d.Server.TrustProxy)
	v.SetDefault("server.metrics_enabled", d.Server.MetricsEnabled)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("smtp.host", d.SMTP.Host)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", d.SMTP.Username)
	v.SetDefault("smtp.password", d.SMTP.Password)
	v.SetDefault("smtp.from", d.SMTP.From)
	v.SetDefault("smtp.rate_per_sec", d.SMTP.RatePerSec)

	a := d.Auth
	v.SetDefault("auth.app_name", a.AppName)
	v.SetDefault("auth.production", a.Production)
	v.SetDefault("auth.base_url", a.BaseURL)
	v.SetDefault("auth.signing_method", a.SigningMethod)
	v.SetDefault("auth.jwt_secret", a.JWTSecret)
	v.SetDefault("auth.private_key_file", a.PrivateKeyFile)
	v.SetDefault("auth.public_key_file", a.PublicKeyFile)
	v.SetDefault("auth.issuer", a.Issuer)
	v.SetDefault("auth.audience", a.Audience)
	v.SetDefault("auth.access_ttl", a.AccessTTL)
	v.SetDefault("auth.refresh_ttl", a.RefreshTTL)
	v.SetDefault("auth.max_failed_attempts", a.MaxFailedAttempts)
	v.SetDefault("auth.lockout_duration", a.LockoutDuration)
	v.SetDefault("auth.require_verified_email", a.RequireVerifiedEmail)
	v.SetDefault("auth.verification_ttl", a.VerificationTTL)
	v.SetDefault("auth.reset_ttl", a.ResetTTL)
	v.SetDefault("auth.two_factor_issuer", a.TwoFactorIssuer)
	v.SetDefault("auth.two_factor_encryption_key", a.TwoFactorEncryptionKey)
	v.SetDefault("auth.default_role", a.DefaultRole)
	v.SetDefault("auth.permission_cache", a.PermissionCache)
	v.SetDefault("auth.permission_cache_ttl", a.PermissionCacheTTL)
	v.SetDefault("auth.rate_limit_enabled", a.RateLimitEnabled)
	v.SetDefault("auth.login_per_minute", a.LoginPerMinute)
	v.SetDefault("auth.register_per_minute", a.RegisterPerMinute)
	v.SetDefault("auth.refresh_per_minute", a.RefreshPerMinute)
	v.SetDefault("auth.reset_per_quarter_hour", a.ResetPerQuarterHour)
	v.SetDefault("auth.audit_mirror", a.AuditMirror)
	v.SetDefault("auth.latency_histograms", a.LatencyHistograms)
	v.SetDefault("auth.store_operation_timeout", a.StoreOperationTimeout)
}
