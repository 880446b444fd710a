package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"qms/visit-queue/internal/config"
	"qms/visit-queue/internal/logging"
	"qms/visit-queue/internal/queueapi"
	"qms/visit-queue/internal/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	cfg      config.Client
	logger   zerolog.Logger
	client   *queueapi.Client
	shutdown func(context.Context) error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "visitq",
		Short:        "Follow a hospital visit queue as a patient or run a department queue as staff",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.AddCommand(lookupCmd(a))
	rootCmd.AddCommand(watchCmd(a))
	rootCmd.AddCommand(staffCmd(a))
	rootCmd.AddCommand(displayCmd(a))
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	a.shutdown = telemetry.Setup(telemetry.Options{
		ServiceName: "visitq",
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	}, a.logger)
	a.client = queueapi.New(cfg.APIURL, queueapi.WithLogger(a.logger))
	return nil
}

func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdown(ctx)
}

// lockedWriter serializes output from callbacks running on different
// goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
