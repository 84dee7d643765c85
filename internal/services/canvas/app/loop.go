// Package app wires the canvas worker runtime and runs the delivery loop.
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "pixelwall/canvas/delivery"

const (
	defaultConsumer     = "canvas-worker"
	defaultPollInterval = time.Second
	defaultBatchSize    = 32
	defaultConcurrency  = 8
)

// Config controls delivery loop behavior.
type Config struct {
	Consumer     string
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	Policy       domain.DeliveryPolicy
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	c.Policy = c.Policy.Normalized()
	return c
}

// Queue is the slice of the event queue the loop drives.
type Queue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]storage.QueuedEvent, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, attempt int, nextAttempt time.Time, lastError string, now time.Time) error
	DeadLetter(ctx context.Context, id string, attempt int, lastError string, now time.Time) error
}

// EventDispatcher handles one decoded event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt domain.Event) error
}

// Attempt is one delivery outcome reported to the recorder.
type Attempt struct {
	EventID      string
	EventKind    string
	Outcome      domain.DeliveryAction
	AttemptCount int
	Error        string
	CreatedAt    time.Time
}

// AttemptRecorder persists delivery outcomes.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Loop claims due events and delivers them under the delivery policy.
type Loop struct {
	queue      Queue
	dispatcher EventDispatcher
	recorder   AttemptRecorder
	cfg        Config
	clock      clock.Clock
	logger     *slog.Logger
}

// New builds a delivery loop. recorder may be nil.
func New(queue Queue, dispatcher EventDispatcher, recorder AttemptRecorder, cfg Config, c clock.Clock, logger *slog.Logger) *Loop {
	return &Loop{
		queue:      queue,
		dispatcher: dispatcher,
		recorder:   recorder,
		cfg:        cfg.normalized(),
		clock:      clock.OrReal(c),
		logger:     logging.OrDefault(logger),
	}
}

// Run polls until ctx is canceled. In-flight deliveries finish before Run
// returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.queue == nil || l.dispatcher == nil {
		return errors.New("delivery loop is not configured")
	}
	l.logger.InfoContext(ctx, "delivery_loop_started",
		"consumer", l.cfg.Consumer,
		"poll_interval", l.cfg.PollInterval.String(),
		"batch_size", l.cfg.BatchSize,
		"concurrency", l.cfg.Concurrency,
	)
	for {
		handled, err := l.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			l.logger.ErrorContext(ctx, "delivery_claim_failed", "error", err)
		}
		if ctx.Err() != nil {
			l.logger.InfoContext(context.WithoutCancel(ctx), "delivery_loop_stopped", "consumer", l.cfg.Consumer)
			return nil
		}
		// A full batch usually means more work is already due.
		if handled == l.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
		case <-l.clock.After(l.cfg.PollInterval):
		}
	}
}

// RunOnce claims one batch and delivers it with bounded concurrency. It
// returns the number of claimed events.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows, err := l.queue.ClaimDue(ctx, l.clock.Now().UTC(), l.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Deliveries are detached from ctx so a shutdown lets claimed rows
	// settle instead of waiting out their lease.
	deliveryCtx := context.WithoutCancel(ctx)
	var group errgroup.Group
	group.SetLimit(l.cfg.Concurrency)
	for _, row := range rows {
		group.Go(func() error {
			l.deliver(deliveryCtx, row)
			return nil
		})
	}
	_ = group.Wait()
	return len(rows), nil
}

func (l *Loop) deliver(ctx context.Context, row storage.QueuedEvent) {
	attempt := row.AttemptCount + 1
	ctx, span := otel.Tracer(tracerName).Start(ctx, "canvas.deliver", trace.WithAttributes(
		attribute.String("canvas.event_id", row.ID),
		attribute.String("canvas.event_kind", row.Kind),
		attribute.Int("canvas.attempt", attempt),
	))
	defer span.End()

	evt, err := domain.DecodeEvent(row)
	if err == nil {
		err = l.dispatcher.Dispatch(ctx, evt)
	}
	decision := l.cfg.Policy.Decide(attempt, err)
	span.SetAttributes(attribute.String("canvas.outcome", string(decision.Action)))
	if decision.Action != domain.ActionAck {
		span.SetStatus(codes.Error, err.Error())
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	now := l.clock.Now().UTC()

	var settleErr error
	switch decision.Action {
	case domain.ActionAck:
		settleErr = l.queue.Complete(ctx, row.ID)
	case domain.ActionRetry:
		settleErr = l.queue.Retry(ctx, row.ID, attempt, now.Add(decision.Delay), errText, now)
		l.logger.WarnContext(ctx, "event_retry_scheduled",
			"event_id", row.ID,
			"kind", row.Kind,
			"attempt", attempt,
			"delay", decision.Delay.String(),
			"error", errText,
		)
	case domain.ActionDeadLetter:
		settleErr = l.queue.DeadLetter(ctx, row.ID, attempt, errText, now)
		l.logger.ErrorContext(ctx, "event_dead_lettered",
			"event_id", row.ID,
			"kind", row.Kind,
			"attempt", attempt,
			"error", errText,
		)
	}
	if settleErr != nil {
		l.logger.ErrorContext(ctx, "event_settle_failed", "event_id", row.ID, "outcome", string(decision.Action), "error", settleErr)
	}

	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordAttempt(ctx, Attempt{
		EventID:      row.ID,
		EventKind:    row.Kind,
		Outcome:      decision.Action,
		AttemptCount: attempt,
		Error:        errText,
		CreatedAt:    now,
	}); err != nil {
		l.logger.WarnContext(ctx, "attempt_record_failed", "event_id", row.ID, "error", err)
	}
}

type attemptStoreRecorder struct {
	store    storage.AttemptStore
	consumer string
}

func newAttemptStoreRecorder(store storage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer}
}

func (r *attemptStoreRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	consumer := strings.TrimSpace(r.consumer)
	if consumer == "" {
		consumer = defaultConsumer
	}
	return r.store.RecordAttempt(ctx, storage.AttemptRecord{
		EventID:      attempt.EventID,
		EventKind:    attempt.EventKind,
		Consumer:     consumer,
		Outcome:      canonicalOutcomeValue(attempt.Outcome),
		AttemptCount: attempt.AttemptCount,
		LastError:    attempt.Error,
		CreatedAt:    attempt.CreatedAt,
	})
}

func canonicalOutcomeValue(outcome domain.DeliveryAction) string {
	switch outcome {
	case domain.ActionAck:
		return "succeeded"
	case domain.ActionRetry:
		return "retry"
	case domain.ActionDeadLetter:
		return "dead"
	default:
		return "unknown"
	}
}
