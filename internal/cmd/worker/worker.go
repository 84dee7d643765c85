// Package worker parses worker command flags and launches the canvas worker runtime.
package worker

import (
	"context"
	"flag"
	"os"
	"time"

	entrypoint "github.com/louisbranch/pixelwall/internal/platform/cmd"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	canvasworker "github.com/louisbranch/pixelwall/internal/services/canvas/app"
)

// Config holds worker command configuration.
type Config struct {
	Port            int           `env:"PIXELWALL_WORKER_PORT" envDefault:"8095"`
	DBPath          string        `env:"PIXELWALL_WORKER_DB_PATH" envDefault:"data/canvas.db"`
	Consumer        string        `env:"PIXELWALL_WORKER_CONSUMER" envDefault:"canvas-worker"`
	PollInterval    time.Duration `env:"PIXELWALL_WORKER_POLL_INTERVAL" envDefault:"1s"`
	BatchSize       int           `env:"PIXELWALL_WORKER_BATCH_SIZE" envDefault:"32"`
	Concurrency     int           `env:"PIXELWALL_WORKER_CONCURRENCY" envDefault:"8"`
	MaxAttempts     int           `env:"PIXELWALL_WORKER_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitial    time.Duration `env:"PIXELWALL_WORKER_RETRY_INITIAL" envDefault:"10s"`
	RetryMaxDelay   time.Duration `env:"PIXELWALL_WORKER_RETRY_MAX_DELAY" envDefault:"10m"`
	RateWindow      time.Duration `env:"PIXELWALL_WORKER_RATE_WINDOW" envDefault:"60s"`
	RateMax         int           `env:"PIXELWALL_WORKER_RATE_MAX" envDefault:"20"`
	CounterBackend  string        `env:"PIXELWALL_WORKER_COUNTER_BACKEND" envDefault:"sqlite"`
	RedisAddr       string        `env:"PIXELWALL_REDIS_ADDR"`
	RedisPassword   string        `env:"PIXELWALL_REDIS_PASSWORD"`
	RedisDB         int           `env:"PIXELWALL_REDIS_DB" envDefault:"0"`
	PostgresDSN     string        `env:"PIXELWALL_POSTGRES_DSN"`
	PixelChannel    string        `env:"PIXELWALL_PIXEL_CHANNEL" envDefault:"public-pixel"`
	ArtifactDir     string        `env:"PIXELWALL_ARTIFACT_DIR" envDefault:"data/artifacts"`
	ArtifactBaseURL string        `env:"PIXELWALL_ARTIFACT_BASE_URL"`
	ReplyBaseURL    string        `env:"PIXELWALL_REPLY_BASE_URL"`
	AnnounceURL     string        `env:"PIXELWALL_ANNOUNCE_URL"`
	NotifierToken   string        `env:"PIXELWALL_NOTIFIER_TOKEN"`
	Locale          string        `env:"PIXELWALL_LOCALE" envDefault:"en"`
	SnapshotWorkers int           `env:"PIXELWALL_SNAPSHOT_WORKERS" envDefault:"0"`
	LogLevel        string        `env:"PIXELWALL_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"PIXELWALL_LOG_FORMAT" envDefault:"json"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The canvas SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Event queue consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Event queue poll interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events claimed per poll")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Events delivered in parallel")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts before dead-letter")
	fs.DurationVar(&cfg.RetryInitial, "retry-initial", cfg.RetryInitial, "First retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "Pixel rate limit window")
	fs.IntVar(&cfg.RateMax, "rate-max", cfg.RateMax, "Pixels allowed per owner per window")
	fs.StringVar(&cfg.CounterBackend, "counter-backend", cfg.CounterBackend, "Rate counter store: sqlite, redis, or postgres")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for counters and pixel fan-out")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres DSN for rate counters")
	fs.StringVar(&cfg.ArtifactDir, "artifact-dir", cfg.ArtifactDir, "Snapshot artifact directory")
	fs.StringVar(&cfg.ArtifactBaseURL, "artifact-base-url", cfg.ArtifactBaseURL, "Public base URL of the artifact directory")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Reply locale")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, or error")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
		Output: os.Stdout,
	})
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceWorker, entrypoint.RunOptions{Logger: logger}, func(context.Context) error {
		return canvasworker.Run(ctx, canvasworker.RuntimeConfig{
			Port:            cfg.Port,
			DBPath:          cfg.DBPath,
			Consumer:        cfg.Consumer,
			PollInterval:    cfg.PollInterval,
			BatchSize:       cfg.BatchSize,
			Concurrency:     cfg.Concurrency,
			MaxAttempts:     cfg.MaxAttempts,
			RetryInitial:    cfg.RetryInitial,
			RetryMaxDelay:   cfg.RetryMaxDelay,
			RateWindow:      cfg.RateWindow,
			RateMax:         cfg.RateMax,
			CounterBackend:  cfg.CounterBackend,
			RedisAddr:       cfg.RedisAddr,
			RedisPassword:   cfg.RedisPassword,
			RedisDB:         cfg.RedisDB,
			PostgresDSN:     cfg.PostgresDSN,
			PixelChannel:    cfg.PixelChannel,
			ArtifactDir:     cfg.ArtifactDir,
			ArtifactBaseURL: cfg.ArtifactBaseURL,
			ReplyBaseURL:    cfg.ReplyBaseURL,
			AnnounceURL:     cfg.AnnounceURL,
			NotifierToken:   cfg.NotifierToken,
			Locale:          cfg.Locale,
			SnapshotWorkers: cfg.SnapshotWorkers,
			Logger:          logger,
		})
	})
}
