package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/corrlog/internal/config"
	corrhttp "github.com/fyrsmithlabs/corrlog/internal/http"
	"github.com/fyrsmithlabs/corrlog/internal/logging"
	"github.com/fyrsmithlabs/corrlog/internal/telemetry"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server with /health, /metrics and POST /api/v1/logs.

Every request runs in its own correlation scope. SIGINT or SIGTERM shuts the
server down and flushes the log transports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the server until ctx is cancelled, then shuts down the server,
// the logger and telemetry within the configured timeout.
func serve(ctx context.Context, cfg *config.Config, opts ...logging.Option) error {
	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.ConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	if lp := tel.LoggerProvider(); lp != nil {
		logCfg.Output.OTEL = true
		opts = append(opts, logging.WithOTELProvider(lp))
	}

	logger, err := logging.New(logCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info(ctx, "starting corrlog", logging.Metadata{
		"port":             cfg.Server.Port,
		"log_dir":          cfg.Log.Dir,
		"otel":             tel.IsEnabled(),
		"shutdown_timeout": cfg.Server.ShutdownTimeout.Duration().String(),
	})

	srv, err := corrhttp.NewServer(logger,
		&corrhttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		corrhttp.WithTelemetry(tel),
	)
	if err != nil {
		_ = logger.Close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	errs = append(errs, runErr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	logger.Info(shutdownCtx, "corrlog stopped", nil)
	if err := logger.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
