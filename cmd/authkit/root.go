package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/internal/config"
	"github.com/MrEthical07/authkit/internal/logging"
	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/store"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	manager    *config.Manager
	log        *logging.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "authkit",
		Short:         "Authentication, session and authorization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the YAML config file (default ./authkit.yaml)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// .env is optional.
		_ = godotenv.Load()

		mgr, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		log, err := logging.New(mgr.Get().Logging)
		if err != nil {
			return err
		}
		a.manager, a.log = mgr, log
		if file := mgr.ConfigFile(); file != "" {
			log.Debug("configuration loaded", zap.String("file", file))
		}
		return nil
	}
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if a.log != nil {
			_ = a.log.Close()
		}
	}

	cmd.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newSeedRolesCommand(a),
		newGrantRoleCommand(a),
		newDisableTwoFactorCommand(a),
		newVerifyEmailCommand(a),
	)
	return cmd
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	cfg := a.manager.Get()
	st, err := store.Open(ctx, cfg.StoreConfig(), a.log.Logger)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (a *app) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	cfg := a.manager.Get().Redis
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// mailSender sends through SMTP when configured and logs otherwise.
func (a *app) mailSender() notify.Sender {
	cfg := a.manager.Get()
	if cfg.SMTP.Host == "" {
		return notify.NewLogSender(a.log.Logger)
	}
	return notify.NewSMTPSender(cfg.SMTPSenderConfig())
}

// engineDeps are the optional collaborators of a built engine.
type engineDeps struct {
	redis  redis.UniversalClient
	mailer authkit.Mailer
	sink   authkit.AuditSink
}

func (a *app) buildEngine(st *store.Store, deps engineDeps) (*authkit.Engine, error) {
	cfg := a.manager.Get()
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	if deps.redis == nil {
		engineCfg.RBAC.CacheEnabled = false
		engineCfg.RateLimit.Enabled = false
	}
	b := authkit.New().
		WithConfig(engineCfg).
		WithStore(st).
		WithLogger(a.log.Logger)
	if deps.redis != nil {
		b = b.WithRedis(deps.redis)
	}
	if deps.mailer != nil {
		b = b.WithMailer(deps.mailer)
	}
	if deps.sink != nil {
		b = b.WithAuditSink(deps.sink)
	}
	return b.Build()
}

// withEngine opens the store and builds a mail-less engine for one-shot
// maintenance commands.
func (a *app) withEngine(ctx context.Context, fn func(*authkit.Engine) error) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := a.buildEngine(st, engineDeps{})
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}
