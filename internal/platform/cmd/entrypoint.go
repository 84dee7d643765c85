// Package cmd holds the startup helpers shared by pixelwall commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/config"
	"github.com/louisbranch/pixelwall/internal/platform/otel"
	"github.com/louisbranch/pixelwall/internal/platform/timeouts"
)

// Command names. They double as the otel service suffix.
const (
	ServiceWorker      = "worker"
	ServiceMaintenance = "maintenance"
)

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// ShutdownTimeout bounds the telemetry flush after run returns.
	ShutdownTimeout time.Duration
	// Logger receives lifecycle records and becomes the slog default.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

// ParseConfig loads env defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags over already loaded defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads env defaults and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// OTelServiceName is the resource name reported for a command.
func OTelServiceName(service string) string {
	return "pixelwall-" + strings.TrimSpace(service)
}

// RunWithTelemetry runs a command under telemetry with default options.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions installs tracing, runs the command, and flushes
// telemetry. A run that ends because ctx was canceled is a clean stop.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	} else {
		slog.SetDefault(logger)
	}

	shutdown, err := otel.Setup(ctx, OTelServiceName(service))
	if err != nil {
		return err
	}
	defer func() {
		timeout := options.ShutdownTimeout
		if timeout <= 0 {
			timeout = timeouts.Shutdown
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Error("otel_shutdown_failed", "service", service, "error", err)
		}
	}()

	started := time.Now()
	logger.Info("service_started", "service", service)
	err = run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		logger.Error("service_failed", "service", service, "error", err, "uptime", time.Since(started).String())
		return err
	}
	logger.Info("service_stopped", "service", service, "uptime", time.Since(started).String())
	return nil
}
