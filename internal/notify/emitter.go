// Package notify writes durable notification records for the UI layer.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"parkgate/internal/db"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
	"parkgate/internal/store"
)

// DedupWindow is how long an identical notification suppresses repeats.
const DedupWindow = 10 * time.Minute

// ErrDuplicate reports that an identical notification already went out
// within the dedup window.
var ErrDuplicate = errors.New("duplicate notification")

// Emitter writes notifications, suppressing near-duplicates and bounding
// the write rate.
type Emitter struct {
	db      *db.DB
	limiter *rate.Limiter
	logger  zerolog.Logger

	now func() time.Time
}

// NewEmitter creates a notification emitter. A nil limiter disables rate
// limiting.
func NewEmitter(database *db.DB, limiter *rate.Limiter, logger zerolog.Logger) *Emitter {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Emitter{
		db:      database,
		limiter: limiter,
		logger:  logger.With().Str("component", "notify").Logger(),
		now:     time.Now,
	}
}

// Prepare runs the duplicate check and rate limit, then assigns an id and
// timestamp and returns the store op, for callers that write the
// notification inside an atomic batch. A suppressed near-duplicate returns
// ErrDuplicate; the caller applies the rest of its batch without the op.
func (e *Emitter) Prepare(ctx context.Context, n model.Notification) (model.Notification, store.Op, error) {
	dup, err := e.isDuplicate(ctx, n)
	if err != nil {
		return n, store.Op{}, err
	}
	if dup {
		e.logger.Debug().
			Str("type", n.Type).
			Str("username", n.Username).
			Msg("duplicate notification suppressed")
		return n, store.Op{}, ErrDuplicate
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return n, store.Op{}, err
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == "" {
		n.Timestamp = e.now().Format(time.RFC3339)
	}
	metrics.IncNotificationEmitted(n.Type)
	return n, store.Op{Path: db.NotificationPath(n.ID), Value: n}, nil
}

// Emit writes a notification unless an identical one was written within the
// dedup window. Returns the stored id, empty when suppressed.
func (e *Emitter) Emit(ctx context.Context, n model.Notification) (string, error) {
	n, op, err := e.Prepare(ctx, n)
	if err == ErrDuplicate {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := e.db.Store().Apply(ctx, []store.Op{op}); err != nil {
		return "", fmt.Errorf("writing notification: %w", err)
	}

	e.logger.Info().
		Str("type", n.Type).
		Str("username", n.Username).
		Str("slot_id", n.SlotID).
		Msg("notification written")
	return n.ID, nil
}

// isDuplicate checks for an identical message to the same recipient about
// the same slot within the dedup window.
func (e *Emitter) isDuplicate(ctx context.Context, n model.Notification) (bool, error) {
	existing, err := e.db.Notifications(ctx)
	if err != nil {
		return false, fmt.Errorf("loading notifications: %w", err)
	}

	cutoff := e.now().Add(-DedupWindow)
	for _, other := range existing {
		if other.Message != n.Message || other.SlotID != n.SlotID || other.Username != n.Username {
			continue
		}
		ts, err := time.Parse(time.RFC3339, other.Timestamp)
		if err != nil {
			continue
		}
		if ts.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}
