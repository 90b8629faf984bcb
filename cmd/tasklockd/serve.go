package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	"github.com/mirkobrombin/go-tasklock/v1/config"
	"github.com/mirkobrombin/go-tasklock/v1/directory"
	"github.com/mirkobrombin/go-tasklock/v1/httpapi"
	"github.com/mirkobrombin/go-tasklock/v1/lock"
	"github.com/mirkobrombin/go-tasklock/v1/metrics"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
	"github.com/mirkobrombin/go-tasklock/v1/presets"
	"github.com/mirkobrombin/go-tasklock/v1/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and push channel server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	if cfg.Tracing.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	st, closeStore, err := presets.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	feeds, closeFeeds, err := presets.NewFeeds(cfg.Feed, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeFeeds() }()

	dir, err := directory.New()
	if err != nil {
		return err
	}
	defer dir.Close()

	verifier := auth.NewJWT(auth.JWTConfig{
		Secret: cfg.Auth.JWT.Secret,
		Issuer: cfg.Auth.JWT.Issuer,
		TTL:    cfg.Auth.JWT.TTL,
	})

	conns := notify.NewRegistry(notify.WithRegistryLogger(log))
	nopts := []notify.NotifierOption{notify.WithNotifierLogger(log)}
	for _, f := range feeds {
		nopts = append(nopts, notify.WithSink(f))
	}
	notifier := notify.NewNotifier(conns, nopts...)

	locks := lock.NewManager(st, lock.WithLogger(log))
	svc := service.New(st, locks, notifier, service.WithResolver(dir), service.WithLogger(log))
	ws := notify.NewHandler(notifier, verifier,
		notify.WithSendBuffer(cfg.Notify.SendBuffer),
		notify.OnConnect(dir.Remember),
		notify.WithHandlerLogger(log),
	)
	api := httpapi.New(svc, verifier, conns, ws,
		httpapi.WithDirectory(dir),
		httpapi.WithGatherer(reg),
		httpapi.WithLogger(log),
	)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("tasklockd: listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("tasklockd: shutting down")
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		conns.Run(gctx, cfg.Notify.ProbeInterval)
		return nil
	})
	g.Go(func() error {
		locks.Run(gctx, cfg.Lock.SweepInterval, svc.LocksSwept)
		return nil
	})
	for _, f := range feeds {
		g.Go(func() error {
			f.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
