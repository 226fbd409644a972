// Package relocation resolves slot conflicts by moving or compensating the
// affected booking.
package relocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/availability"
	"parkgate/internal/booking"
	"parkgate/internal/db"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
	"parkgate/internal/notify"
	"parkgate/internal/store"
)

// Cancellation reasons written on resolved bookings.
const (
	ReasonRelocated   = "Slot unavailable - Relocated"
	ReasonCompensated = "Slot unavailable - Compensation issued"
)

// Coordinator applies the user's decision over a slot conflict.
type Coordinator struct {
	db       *db.DB
	resolver *availability.Resolver
	emitter  *notify.Emitter
	logger   zerolog.Logger

	now func() time.Time
}

// NewCoordinator creates a relocation coordinator.
func NewCoordinator(database *db.DB, resolver *availability.Resolver, emitter *notify.Emitter, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:       database,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With().Str("component", "relocation").Logger(),
		now:      time.Now,
	}
}

// Relocate moves the booking to a free slot, preserving its terms. The old
// booking is cancelled, its slot freed, and the replacement reserved in one
// batch. The chosen slot is re-checked immediately before the batch; one
// fresh search is retried on a stale read before giving up.
func (c *Coordinator) Relocate(ctx context.Context, bookingID string) (*model.Booking, error) {
	old, err := c.activeBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	window, err := old.Window()
	if err != nil {
		return nil, err
	}

	exclude := availability.Slot{Floor: old.Floor, SlotID: old.SlotID}
	target, err := c.pickSlot(ctx, window, exclude)
	if err != nil {
		return nil, err
	}

	replacement := &model.Booking{
		ID:               uuid.NewString(),
		Username:         old.Username,
		SlotID:           target.SlotID,
		Floor:            target.Floor,
		RateType:         old.RateType,
		EntryDate:        old.EntryDate,
		EntryTime:        old.EntryTime,
		ExitDate:         old.ExitDate,
		ExitTime:         old.ExitTime,
		Price:            old.Price,
		Status:           model.StatusConfirmed,
		PaymentStatus:    old.PaymentStatus,
		PlateNumber:      old.PlateNumber,
		IsVisitorBooking: old.IsVisitorBooking,
		VisitorUsername:  old.VisitorUsername,
		CouponID:         old.CouponID,
		CreatedAt:        c.now().Format(time.RFC3339),
	}

	old.Status = model.StatusCancelled
	old.CancellationReason = ReasonRelocated

	notification := model.Notification{
		Type:     model.NotifyRelocated,
		Message:  fmt.Sprintf("Your parking slot %s (floor %s) was unavailable. Your booking was moved to slot %s (floor %s).", exclude.SlotID, exclude.Floor, target.SlotID, target.Floor),
		SlotID:   target.SlotID,
		Floor:    target.Floor,
		Username: old.Username,

		BookingID: replacement.ID,
		Handled:   true,
		Read:      false,
	}
	_, notifyOp, notifyErr := c.emitter.Prepare(ctx, notification)
	if notifyErr != nil && notifyErr != notify.ErrDuplicate {
		return nil, notifyErr
	}

	ops, err := booking.CancelOps(ctx, c.db, old)
	if err != nil {
		return nil, err
	}
	ops = append(ops,
		store.Op{Path: db.BookingPath(replacement.ID), Value: replacement},
		store.Op{Path: db.SlotRecordPath(target.Floor, target.SlotID, replacement.ID), Value: model.NewOccupancyRecord(replacement, model.SlotMoved)},
	)
	if notifyErr == nil {
		ops = append(ops, notifyOp)
	}
	if err := c.db.Store().Apply(ctx, ops); err != nil {
		return nil, fmt.Errorf("applying relocation: %w", err)
	}

	metrics.IncConflictResolved("relocated")
	c.logger.Info().
		Str("booking_id", bookingID).
		Str("replacement_id", replacement.ID).
		Str("from", exclude.String()).
		Str("to", target.String()).
		Msg("booking relocated")
	return replacement, nil
}

// pickSlot finds and re-validates a replacement slot. A slot that turned
// stale between the search and the check is searched once more.
func (c *Coordinator) pickSlot(ctx context.Context, window model.TimeWindow, exclude availability.Slot) (availability.Slot, error) {
	for attempt := 0; attempt < 2; attempt++ {
		target, err := c.resolver.FindFreeSlot(ctx, window, exclude)
		if err != nil {
			return availability.Slot{}, err
		}
		if err := c.resolver.CheckFree(ctx, *target, window); err == nil {
			return *target, nil
		}
	}
	return availability.Slot{}, &store.StaleReadError{Path: db.SlotsRoot}
}

// Compensate cancels the booking and issues a discount coupon for the same
// rate type, expiring one month out. Coupon, cancellation and notification
// land in one batch.
func (c *Coordinator) Compensate(ctx context.Context, bookingID string) (*model.Coupon, error) {
	b, err := c.activeBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	coupon := &model.Coupon{
		ID:           uuid.NewString(),
		Username:     b.Username,
		Discount:     model.DiscountFor(b.RateType),
		DiscountType: b.RateType,
		CreatedDate:  now.Format("2006-01-02"),
		CreatedTime:  now.Format("15:04"),
		ExpiryDate:   now.AddDate(0, 1, 0).Format("2006-01-02"),
		Used:         false,
		Reason:       fmt.Sprintf("Slot %s (floor %s) unavailable", b.SlotID, b.Floor),
	}

	b.Status = model.StatusCancelled
	b.CancellationReason = ReasonCompensated

	notification := model.Notification{
		Type:     model.NotifyCouponReceived,
		Message:  fmt.Sprintf("Your parking slot %s (floor %s) was unavailable. Your booking was cancelled and a %d%% %s coupon was added to your account.", b.SlotID, b.Floor, coupon.Discount, b.RateType),
		SlotID:   b.SlotID,
		Floor:    b.Floor,
		Username: b.Username,

		BookingID: b.ID,
		Handled:   true,
		Read:      false,
	}
	_, notifyOp, notifyErr := c.emitter.Prepare(ctx, notification)
	if notifyErr != nil && notifyErr != notify.ErrDuplicate {
		return nil, notifyErr
	}

	ops, err := booking.CancelOps(ctx, c.db, b)
	if err != nil {
		return nil, err
	}
	ops = append(ops, store.Op{Path: db.CouponPath(coupon.ID), Value: coupon})
	if notifyErr == nil {
		ops = append(ops, notifyOp)
	}
	if err := c.db.Store().Apply(ctx, ops); err != nil {
		return nil, fmt.Errorf("applying compensation: %w", err)
	}

	metrics.IncConflictResolved("compensated")
	c.logger.Info().
		Str("booking_id", bookingID).
		Str("coupon_id", coupon.ID).
		Int("discount", coupon.Discount).
		Msg("booking compensated")
	return coupon, nil
}

func (c *Coordinator) activeBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := c.db.Booking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("loading booking %s: %w", bookingID, err)
	}
	if !b.IsActive() {
		return nil, fmt.Errorf("booking %s is no longer active", bookingID)
	}
	return b, nil
}
