package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/clock"
	platformgrpc "github.com/louisbranch/pixelwall/internal/platform/grpc"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/platform/timeouts"
	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/notify"
	"github.com/louisbranch/pixelwall/internal/services/canvas/replies"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage/artifactfs"
	canvaspostgres "github.com/louisbranch/pixelwall/internal/services/canvas/storage/postgres"
	canvasredis "github.com/louisbranch/pixelwall/internal/services/canvas/storage/redis"
	canvassqlite "github.com/louisbranch/pixelwall/internal/services/canvas/storage/sqlite"
)

// Counter backends.
const (
	CounterBackendSQLite   = "sqlite"
	CounterBackendRedis    = "redis"
	CounterBackendPostgres = "postgres"
)

// HealthService is the gRPC health service name the worker reports.
const HealthService = "canvas.worker"

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port            int
	DBPath          string
	Consumer        string
	PollInterval    time.Duration
	BatchSize       int
	Concurrency     int
	MaxAttempts     int
	RetryInitial    time.Duration
	RetryMaxDelay   time.Duration
	RateWindow      time.Duration
	RateMax         int
	CounterBackend  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	PostgresDSN     string
	PixelChannel    string
	ArtifactDir     string
	ArtifactBaseURL string
	ReplyBaseURL    string
	AnnounceURL     string
	NotifierToken   string
	Locale          string
	SnapshotWorkers int
	Logger          *slog.Logger
	Clock           clock.Clock
}

const (
	defaultWorkerPort  = 8095
	defaultWorkerDB    = "data/canvas.db"
	defaultArtifactDir = "data/artifacts"
)

func (c RuntimeConfig) normalized() RuntimeConfig {
	if c.Port <= 0 {
		c.Port = defaultWorkerPort
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultWorkerDB
	}
	if strings.TrimSpace(c.ArtifactDir) == "" {
		c.ArtifactDir = defaultArtifactDir
	}
	c.CounterBackend = strings.ToLower(strings.TrimSpace(c.CounterBackend))
	if c.CounterBackend == "" {
		c.CounterBackend = CounterBackendSQLite
	}
	c.Logger = logging.OrDefault(c.Logger)
	c.Clock = clock.OrReal(c.Clock)
	return c
}

// runtime holds the wired dependencies of one worker process.
type runtime struct {
	store   *canvassqlite.Store
	loop    *Loop
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newRuntime builds every dependency of the worker without serving.
func newRuntime(ctx context.Context, cfg RuntimeConfig) (*runtime, error) {
	cfg = cfg.normalized()
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create canvas storage dir: %w", err)
		}
	}
	store, err := canvassqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open canvas sqlite store: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	var redisClient *canvasredis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient, err = canvasredis.NewClient(ctx, canvasredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, redisClient.Close)
	}

	var counters storage.CounterStore
	switch cfg.CounterBackend {
	case CounterBackendSQLite:
		counters = store
	case CounterBackendRedis:
		if redisClient == nil {
			return fail(fmt.Errorf("redis counter backend requires a redis address"))
		}
		counters = canvasredis.NewCounterStore(redisClient, "")
	case CounterBackendPostgres:
		pg, err := canvaspostgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("connect postgres counters: %w", err))
		}
		rt.closers = append(rt.closers, func() error {
			pg.Close()
			return nil
		})
		counters = pg
	default:
		return fail(fmt.Errorf("unsupported counter backend %q", cfg.CounterBackend))
	}

	artifacts, err := artifactfs.New(cfg.ArtifactDir, cfg.ArtifactBaseURL)
	if err != nil {
		return fail(err)
	}

	var notifier storage.Notifier = notify.Nop{}
	if cfg.ReplyBaseURL != "" || cfg.AnnounceURL != "" {
		notifier = notify.NewWebhook(notify.Config{
			ReplyBaseURL: cfg.ReplyBaseURL,
			AnnounceURL:  cfg.AnnounceURL,
			AuthToken:    cfg.NotifierToken,
			Client:       &http.Client{Timeout: timeouts.WebhookRequest},
		})
	}

	var mutatorOpts []domain.MutatorOption
	if redisClient != nil {
		mutatorOpts = append(mutatorOpts, domain.WithPublisher(canvasredis.NewPublisher(redisClient, cfg.PixelChannel)))
	}

	limiter := domain.NewLimiter(counters, domain.LimiterConfig{Window: cfg.RateWindow, Max: cfg.RateMax}, cfg.Logger)
	snapshots := domain.NewSnapshotEngine(store, artifacts, cfg.Clock, cfg.Logger, domain.SnapshotConfig{Workers: cfg.SnapshotWorkers})
	dispatcher := domain.NewDispatcher(domain.DispatcherConfig{
		Pixels:    domain.NewMutator(store, limiter, cfg.Clock, cfg.Logger, mutatorOpts...),
		Sessions:  domain.NewSessionMachine(store, cfg.Clock, cfg.Logger, domain.DefaultResetBatchSize),
		Snapshots: snapshots,
		Notifier:  notifier,
		Replies:   replies.New(cfg.Locale),
		Logger:    cfg.Logger,
	})

	loopConfig := Config{
		Consumer:     cfg.Consumer,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		Policy: domain.DeliveryPolicy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMaxDelay,
		},
	}
	normalizedLoopConfig := loopConfig.normalized()
	rt.loop = New(
		store,
		dispatcher,
		newAttemptStoreRecorder(store, normalizedLoopConfig.Consumer),
		normalizedLoopConfig,
		cfg.Clock,
		cfg.Logger,
	)
	return rt, nil
}

// Run starts worker runtime dependencies and the delivery loop.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			cfg.Logger.Error("worker_close_failed", "error", closeErr)
		}
	}()

	health, err := platformgrpc.StartHealthServer(fmt.Sprintf(":%d", cfg.Port), HealthService)
	if err != nil {
		return fmt.Errorf("start worker health server: %w", err)
	}
	defer health.Stop()

	cfg.Logger.Info("worker_listening", "addr", health.Addr().String(), "counter_backend", cfg.CounterBackend)
	return rt.loop.Run(ctx)
}
