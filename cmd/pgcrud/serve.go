package pgcrud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	// Register built-in sinks
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/debug"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/kafka"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/mqtt"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/nats"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the CRUD API server",
	Long:    `Connects every configured environment and serves its tables under the environment's route prefix.`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("server.listenAddr", "l", "", "API server listen address")
	f.Bool("server.debug", false, "Development logging")
	f.Bool("server.tls.enabled", false, "Serve HTTPS, generating a self-signed certificate if none exists")
	f.Bool("metrics.enabled", false, "Serve Prometheus metrics")
	f.String("metrics.addr", "", "Prometheus metrics listen address")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errors.New("configuration not loaded")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools := pg.NewPoolManager(logger)
	defer pools.Close()

	sinks := events.NewManager(logger, cfg.Events.Options)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := sinks.Close(closeCtx); err != nil {
			logger.Warn("closing sinks", zap.Error(err))
		}
	}()
	if err := sinks.Init(ctx, cfg.Events.Sinks); err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}
	var publisher crud.Publisher
	if sinks.Len() > 0 {
		publisher = sinks
	}

	routerOpts := []httputil.RouterOptions{
		httputil.WithLogger(logger),
		httputil.WithServerOptions(func(s *http.Server) {
			s.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
		}),
	}
	if t := cfg.Server.TLS; t.Enabled {
		routerOpts = append(routerOpts, httputil.WithTLS(t.CertFile, t.KeyFile, t.Hosts...))
	}
	r := httputil.NewRouter(routerOpts...)

	prefixes := make(map[string]string, len(cfg.Environments))
	for _, env := range cfg.Environments {
		prefixes[env.Prefix] = env.Name
	}
	r.Use(
		mw.RequestID,
		mw.EnvByPrefix(prefixes),
		mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}),
		mw.Metrics,
		mw.CORSWithOptions(&cfg.CORS),
	)

	for _, env := range cfg.Environments {
		pool, reg, err := connect(ctx, pools, env, logger)
		if err != nil {
			return err
		}
		svc := crud.NewService(reg,
			crud.WithLogger(logger),
			crud.WithPublisher(publisher),
			crud.WithMaxDepth(cfg.Registry.MaxDepth),
			crud.WithEnv(env.Name),
		)
		rest.NewServer(env.Name, env.Prefix, svc, pool,
			rest.WithLogger(logger),
			rest.WithCRUD(env.CRUD),
			rest.WithLimits(cfg.Limits),
			rest.WithInfo(pg.InfoOf(pool)),
		).Register(r)
	}
	rest.MountStatic(r, cfg.Static...)

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Logger: logger,
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
		})
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.ListenAndServe(cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received termination signal, shutting down gracefully")
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	stop()
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}
