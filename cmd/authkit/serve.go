package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/internal/config"
	"github.com/MrEthical07/authkit/internal/httpapi"
	otelexport "github.com/MrEthical07/authkit/metrics/export/otel"
	"github.com/MrEthical07/authkit/notify"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.manager.Get()
	log := a.log.Logger

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.Database.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}

	rdb, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("redis not configured; rate limiting and permission cache disabled")
	}

	dispatchCfg := notify.DefaultDispatcherConfig()
	if cfg.SMTP.RatePerSec > 0 {
		dispatchCfg.RatePerSec = cfg.SMTP.RatePerSec
	}
	mailer := notify.NewDispatcher(dispatchCfg, a.mailSender(), log)
	defer mailer.Close()

	engine, err := a.buildEngine(st, engineDeps{
		redis:  rdb,
		mailer: mailer,
		sink:   authkit.NewZapAuditSink(log.Named("audit")),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.SeedRoles(ctx, nil); err != nil {
		return err
	}

	otelMetrics, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("authkit"), engine)
	if err != nil {
		return err
	}
	defer otelMetrics.Close()

	a.manager.Watch(func(next config.Config) {
		if err := a.log.SetLevel(next.Logging.Level); err != nil {
			log.Warn("log level not changed", zap.Error(err))
			return
		}
		log.Info("log level reloaded", zap.String("level", next.Logging.Level))
	}, func(err error) {
		log.Warn("config reload rejected", zap.Error(err))
	})

	api := httpapi.New(engine, log, httpapi.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
		return err
	}
	return nil
}
