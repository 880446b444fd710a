package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"qms/visit-queue/internal/config"
	"qms/visit-queue/internal/httpapi"
	"qms/visit-queue/internal/hub"
	"qms/visit-queue/internal/logging"
	"qms/visit-queue/internal/store/memory"
	"qms/visit-queue/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port, seedFile string
	cmd := &cobra.Command{
		Use:          "queue-sim",
		Short:        "Run an in-memory hospital Queue Service for local development",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if seedFile != "" {
				cfg.SeedFile = seedFile
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML seed file (overrides SEED_FILE)")
	return cmd
}

func run(ctx context.Context, cfg config.Server) error {
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: "queue-sim",
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	seed := memory.DefaultSeed()
	if cfg.SeedFile != "" {
		loaded, err := memory.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		seed = loaded
	}
	st, err := memory.New(seed, memory.Options{
		AvgService: time.Duration(cfg.AvgServiceMinutes) * time.Minute,
		Logger:     logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	h := hub.New(logger.With().Str("component", "hub").Logger())
	st.Watch(h.Publish)

	handler := httpapi.NewHandler(st, h, httpapi.Options{Logger: logger})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	handler.Register(mux)
	mux.Handle("/ws/", handler.Realtime("/ws"))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), "queue-sim")
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("queue-sim listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	})
	err = group.Wait()
	logAtExit(logger, err)
	return err
}

func logAtExit(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Error().Err(err).Msg("queue-sim stopped")
		return
	}
	logger.Info().Msg("queue-sim stopped")
}
