package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxCoordinate bounds |x| and |y| on every canvas.
const DefaultMaxCoordinate = 100000

var colorPattern = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)

// ValidColor reports whether color is six hex digits.
func ValidColor(color string) bool {
	return colorPattern.MatchString(color)
}

type pixelDocuments interface {
	RunTx(ctx context.Context, fn storage.TxFunc) error
	GetSession(ctx context.Context) (storage.Session, bool, error)
}

type rateConsumer interface {
	TryConsume(ctx context.Context, ownerID string, now time.Time) (RateDecision, error)
}

// Placement is a committed pixel placement.
type Placement struct {
	Pixel storage.Pixel
	Stat  storage.UserStat
	Rate  RateDecision
}

// Mutator validates and commits pixel placements.
type Mutator struct {
	docs          pixelDocuments
	limiter       rateConsumer
	publisher     storage.PixelPublisher
	clock         clock.Clock
	logger        *slog.Logger
	maxCoordinate int
}

// MutatorOption customizes a Mutator.
type MutatorOption func(*Mutator)

// WithPublisher fans placed pixels out through publisher.
func WithPublisher(publisher storage.PixelPublisher) MutatorOption {
	return func(m *Mutator) { m.publisher = publisher }
}

// WithMaxCoordinate overrides the absolute coordinate cap.
func WithMaxCoordinate(limit int) MutatorOption {
	return func(m *Mutator) {
		if limit > 0 {
			m.maxCoordinate = limit
		}
	}
}

// NewMutator creates a pixel mutator.
func NewMutator(docs pixelDocuments, limiter rateConsumer, c clock.Clock, logger *slog.Logger, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		docs:          docs,
		limiter:       limiter,
		clock:         clock.OrReal(c),
		logger:        logging.OrDefault(logger),
		maxCoordinate: DefaultMaxCoordinate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PlacePixel validates req in order (color, session, bounds, rate limit) and
// then writes the pixel and the owner's stats in one transaction. Terminal
// failures are returned as *Rejection.
func (m *Mutator) PlacePixel(ctx context.Context, req PlacePixel) (Placement, error) {
	if m == nil || m.docs == nil || m.limiter == nil {
		return Placement{}, Permanent(fmt.Errorf("pixel mutator is not configured"))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "canvas.place_pixel")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pixel.x", req.X),
		attribute.Int("pixel.y", req.Y),
		attribute.String("pixel.owner_id", req.OwnerID),
	)

	if !ValidColor(req.Color) {
		m.logger.Warn("pixel_validation_failed", "reason", RejectInvalidColor, "color", req.Color, "user_id", req.OwnerID)
		return Placement{}, &Rejection{Reason: RejectInvalidColor, Detail: req.Color}
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return Placement{}, &Rejection{Reason: RejectInvalidPayload, Detail: "owner id is required"}
	}

	session, found, err := m.docs.GetSession(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("load session: %w: %w", ErrStoreUnavailable, err)
	}
	if !found || session.State != storage.SessionActive {
		state := "missing"
		if found {
			state = string(session.State)
		}
		m.logger.Warn("pixel_validation_failed", "reason", RejectSessionInactive, "state", state, "user_id", req.OwnerID)
		return Placement{}, &Rejection{Reason: RejectSessionInactive, State: state}
	}
	if rejection := m.checkBounds(session, req.X, req.Y); rejection != nil {
		m.logger.Warn("pixel_validation_failed", "reason", rejection.Reason, "x", req.X, "y", req.Y, "user_id", req.OwnerID)
		return Placement{}, rejection
	}

	now := m.clock.Now().UTC()
	rate, err := m.limiter.TryConsume(ctx, req.OwnerID, now)
	if err != nil {
		return Placement{}, fmt.Errorf("consume rate limit: %w", err)
	}
	if !rate.Allowed {
		m.logger.Warn("rate_limit_exceeded", "user_id", req.OwnerID, "count", rate.Count, "max", rate.Max)
		return Placement{}, &Rejection{Reason: RejectRateLimited, Count: rate.Count, Max: rate.Max}
	}

	pixel := storage.Pixel{
		X:         req.X,
		Y:         req.Y,
		Color:     strings.ToUpper(req.Color),
		OwnerID:   req.OwnerID,
		OwnerName: req.OwnerName,
		Source:    req.Source,
		UpdatedAt: now,
	}
	var stat storage.UserStat
	err = m.docs.RunTx(ctx, func(ctx context.Context, tx storage.TxReader) (storage.WriteSet, error) {
		current, found, err := tx.GetUserStat(ctx, req.OwnerID)
		if err != nil {
			return storage.WriteSet{}, err
		}
		stat = nextUserStat(current, found, req, now)
		return storage.WriteSet{
			Pixels:    []storage.Pixel{pixel},
			UserStats: []storage.UserStat{stat},
		}, nil
	})
	if err != nil {
		m.logger.Error("pixel_placement_failed", "x", req.X, "y", req.Y, "user_id", req.OwnerID, "error", err)
		return Placement{}, storeError("place pixel", err)
	}

	m.logger.Info("pixel_placed", "x", req.X, "y", req.Y, "color", pixel.Color, "user_id", req.OwnerID, "source", req.Source)
	if m.publisher != nil {
		if err := m.publisher.PublishPixel(ctx, pixel); err != nil {
			m.logger.Warn("pixel_publish_failed", "x", req.X, "y", req.Y, "error", err)
		}
	}
	return Placement{Pixel: pixel, Stat: stat, Rate: rate}, nil
}

func (m *Mutator) checkBounds(session storage.Session, x, y int) *Rejection {
	if session.Bounded() && (x < 0 || x >= session.Width || y < 0 || y >= session.Height) {
		return &Rejection{Reason: RejectOutOfBounds, Width: session.Width, Height: session.Height}
	}
	if abs(x) > m.maxCoordinate || abs(y) > m.maxCoordinate {
		return &Rejection{Reason: RejectCoordinateTooLarge, Max: m.maxCoordinate}
	}
	return nil
}

func nextUserStat(current storage.UserStat, found bool, req PlacePixel, now time.Time) storage.UserStat {
	if !found {
		return storage.UserStat{
			OwnerID:     req.OwnerID,
			DisplayName: req.OwnerName,
			PixelCount:  1,
			LastPixelAt: now,
			CreatedAt:   now,
		}
	}
	next := current
	next.PixelCount++
	next.LastPixelAt = now
	if req.OwnerName != "" {
		next.DisplayName = req.OwnerName
	}
	return next
}

// storeError keeps conflict exhaustion distinguishable and tags everything
// else as a store outage.
func storeError(op string, err error) error {
	if errors.Is(err, ErrConflictRetryExhausted) || errors.Is(err, ErrStoreUnavailable) || IsPermanent(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
