package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// Rate limit defaults.
const (
	DefaultRateWindow = 60 * time.Second
	DefaultRateMax    = 20

	defaultRateConflictAttempts = 8
	defaultRateStoreAttempts    = 3
)

// RateDecision is the outcome of one TryConsume call.
type RateDecision struct {
	Allowed bool
	Count   int
	Max     int
	// FailedOpen marks an allowance granted because the counter store failed.
	FailedOpen bool
}

// LimiterConfig tunes the fixed-window limiter.
type LimiterConfig struct {
	Window time.Duration
	Max    int
	// ConflictAttempts bounds retries after concurrent counter updates.
	ConflictAttempts int
	// StoreAttempts bounds retries after counter store failures before
	// failing open.
	StoreAttempts int
}

func (c LimiterConfig) normalized() LimiterConfig {
	if c.Window < time.Second {
		c.Window = DefaultRateWindow
	}
	if c.Max <= 0 {
		c.Max = DefaultRateMax
	}
	if c.ConflictAttempts <= 0 {
		c.ConflictAttempts = defaultRateConflictAttempts
	}
	if c.StoreAttempts <= 0 {
		c.StoreAttempts = defaultRateStoreAttempts
	}
	return c
}

// Limiter enforces a per-owner fixed-window placement cap.
type Limiter struct {
	counters storage.CounterStore
	cfg      LimiterConfig
	logger   *slog.Logger
}

// NewLimiter creates a limiter over counters.
func NewLimiter(counters storage.CounterStore, cfg LimiterConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		counters: counters,
		cfg:      cfg.normalized(),
		logger:   logging.OrDefault(logger),
	}
}

// Max reports the per-window cap.
func (l *Limiter) Max() int { return l.cfg.Max }

// WindowIndex maps now onto its fixed window.
func (l *Limiter) WindowIndex(now time.Time) int64 {
	return now.Unix() / int64(l.cfg.Window/time.Second)
}

// TryConsume takes one unit from ownerID's current window. Conflicting
// concurrent updates are retried; a counter store that keeps failing makes
// the limiter fail open.
func (l *Limiter) TryConsume(ctx context.Context, ownerID string, now time.Time) (RateDecision, error) {
	if l == nil || l.counters == nil {
		return RateDecision{}, fmt.Errorf("rate limiter is not configured")
	}
	key := storage.CounterKey{OwnerID: ownerID, WindowIndex: l.WindowIndex(now)}
	expiresAt := now.Add(2 * l.cfg.Window)

	conflicts, storeFailures := 0, 0
	for {
		var decision RateDecision
		err := l.counters.UpdateCounter(ctx, key, func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
			if !found {
				decision = RateDecision{Allowed: true, Count: 1, Max: l.cfg.Max}
				return storage.RateCounter{Key: key, Count: 1, ExpiresAt: expiresAt}, true, nil
			}
			if current.Count >= l.cfg.Max {
				decision = RateDecision{Allowed: false, Count: current.Count, Max: l.cfg.Max}
				return current, false, nil
			}
			next := current
			next.Count++
			decision = RateDecision{Allowed: true, Count: next.Count, Max: l.cfg.Max}
			return next, true, nil
		})
		switch {
		case err == nil:
			return decision, nil
		case errors.Is(err, storage.ErrCounterConflict):
			conflicts++
			if conflicts >= l.cfg.ConflictAttempts {
				return RateDecision{}, fmt.Errorf("rate counter %s: %w", key, ErrConflictRetryExhausted)
			}
		case ctx.Err() != nil:
			return RateDecision{}, ctx.Err()
		default:
			storeFailures++
			if storeFailures >= l.cfg.StoreAttempts {
				l.logger.Warn("rate_limit_fail_open", "owner_id", ownerID, "window", key.WindowIndex, "error", err)
				return RateDecision{Allowed: true, Max: l.cfg.Max, FailedOpen: true}, nil
			}
		}
	}
}
