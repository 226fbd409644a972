// Package booking creates, cancels and settles parking bookings.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/availability"
	"parkgate/internal/db"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
	"parkgate/internal/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Hourly entries may start up to this far in the past to absorb clock skew
// between the client and the engine.
const hourlyEntryTolerance = time.Minute

// Service implements the booking lifecycle.
type Service struct {
	db       *db.DB
	resolver *availability.Resolver
	rates    model.RateTable
	logger   zerolog.Logger

	now func() time.Time
}

// NewService creates a booking service.
func NewService(database *db.DB, resolver *availability.Resolver, rates model.RateTable, logger zerolog.Logger) *Service {
	return &Service{
		db:       database,
		resolver: resolver,
		rates:    rates,
		logger:   logger.With().Str("component", "booking").Logger(),
		now:      time.Now,
	}
}

// CreateRequest describes a new booking.
type CreateRequest struct {
	Username    string
	Floor       string
	SlotID      string
	PlateNumber string
	RateType    model.RateType
	EntryDate   string // 2006-01-02
	EntryTime   string // 15:04, required for hourly
	Units       int    // hours, days or months depending on rate type
	CouponID    string // optional

	IsVisitorBooking bool
	VisitorUsername  string
}

// Create validates the request, prices it, applies an optional coupon and
// reserves the slot. Booking, occupancy record and coupon consumption land
// in one batch.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	if !req.RateType.Valid() {
		return nil, fmt.Errorf("unknown rate type %q", req.RateType)
	}
	if req.RateType == model.RateHourly && req.EntryTime == "" {
		return nil, fmt.Errorf("hourly booking needs an entry time")
	}

	b := &model.Booking{
		ID:               uuid.NewString(),
		Username:         req.Username,
		SlotID:           req.SlotID,
		Floor:            req.Floor,
		RateType:         req.RateType,
		EntryDate:        req.EntryDate,
		EntryTime:        req.EntryTime,
		PlateNumber:      req.PlateNumber,
		Status:           model.StatusConfirmed,
		PaymentStatus:    model.PaymentPaid,
		IsVisitorBooking: req.IsVisitorBooking,
		VisitorUsername:  req.VisitorUsername,
		CreatedAt:        s.now().Format(time.RFC3339),
	}
	if err := s.fillExit(b, req.Units); err != nil {
		return nil, err
	}

	window, err := b.Window()
	if err != nil {
		return nil, err
	}
	if err := s.validateEntry(window, req.RateType); err != nil {
		return nil, err
	}

	if err := s.resolver.CheckFree(ctx, availability.Slot{Floor: req.Floor, SlotID: req.SlotID}, window); err != nil {
		return nil, err
	}

	price, err := s.rates.Price(req.RateType, req.Units)
	if err != nil {
		return nil, err
	}

	ops := []store.Op{}
	if req.CouponID != "" {
		coupon, err := s.db.Coupon(ctx, req.CouponID)
		if err != nil {
			return nil, fmt.Errorf("loading coupon %s: %w", req.CouponID, err)
		}
		if !coupon.UsableBy(req.Username, req.RateType, s.now()) {
			return nil, fmt.Errorf("coupon %s not usable for this booking", req.CouponID)
		}
		price = model.ApplyDiscount(price, coupon.Discount)

		coupon.Used = true
		coupon.UsedDate = s.now().Format(dateLayout)
		coupon.UsedBookingID = b.ID
		b.CouponID = coupon.ID
		ops = append(ops, store.Op{Path: db.CouponPath(coupon.ID), Value: coupon})
	}
	b.Price = price

	ops = append(ops,
		store.Op{Path: db.BookingPath(b.ID), Value: b},
		store.Op{Path: db.SlotRecordPath(b.Floor, b.SlotID, b.ID), Value: model.NewOccupancyRecord(b, model.SlotBooked)},
	)
	if err := s.db.Store().Apply(ctx, ops); err != nil {
		return nil, fmt.Errorf("writing booking: %w", err)
	}

	metrics.IncBookingCreated(string(b.RateType))
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("username", b.Username).
		Str("slot", b.Floor+"/"+b.SlotID).
		Str("rate_type", string(b.RateType)).
		Float64("price", b.Price).
		Msg("booking created")
	return b, nil
}

// fillExit derives the exit date and time from the entry and duration.
func (s *Service) fillExit(b *model.Booking, units int) error {
	if units < 1 {
		return fmt.Errorf("duration must be at least 1")
	}

	switch b.RateType {
	case model.RateHourly:
		entry, err := time.ParseInLocation(dateLayout+" "+timeLayout, b.EntryDate+" "+b.EntryTime, time.Local)
		if err != nil {
			return fmt.Errorf("parsing entry: %w", err)
		}
		exit := entry.Add(time.Duration(units) * time.Hour)
		b.ExitDate = exit.Format(dateLayout)
		b.ExitTime = exit.Format(timeLayout)
	case model.RateDaily, model.RateMonthly:
		entry, err := time.ParseInLocation(dateLayout, b.EntryDate, time.Local)
		if err != nil {
			return fmt.Errorf("parsing entry date: %w", err)
		}
		var exit time.Time
		if b.RateType == model.RateDaily {
			exit = entry.AddDate(0, 0, units)
		} else {
			exit = entry.AddDate(0, units, 0)
		}
		b.ExitDate = exit.Format(dateLayout)
		b.ExitTime = b.EntryTime
	}
	return nil
}

// validateEntry rejects windows that start in the past.
func (s *Service) validateEntry(window model.TimeWindow, rate model.RateType) error {
	now := s.now()
	tolerance := time.Duration(0)
	if rate == model.RateHourly {
		tolerance = hourlyEntryTolerance
	}
	if window.Entry.Before(now.Add(-tolerance)) {
		return fmt.Errorf("entry time %s is in the past", window.Entry.Format(dateLayout+" "+timeLayout))
	}
	return nil
}

// Cancel cancels a booking and frees its occupancy record in one batch.
func (s *Service) Cancel(ctx context.Context, bookingID, reason string) error {
	b, err := s.db.Booking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("loading booking %s: %w", bookingID, err)
	}
	if !b.IsActive() {
		return fmt.Errorf("booking %s is already cancelled", bookingID)
	}

	b.Status = model.StatusCancelled
	b.CancellationReason = reason

	ops, err := CancelOps(ctx, s.db, b)
	if err != nil {
		return err
	}
	if err := s.db.Store().Apply(ctx, ops); err != nil {
		return fmt.Errorf("cancelling booking %s: %w", bookingID, err)
	}

	metrics.IncBookingCancelled()
	s.logger.Info().
		Str("booking_id", bookingID).
		Str("reason", reason).
		Msg("booking cancelled")
	return nil
}

// CancelOps returns the batch ops that cancel a booking: the cancelled
// booking document and its occupancy record removed. The slot's available
// marker is written only when no other booking still holds a record on the
// slot. The booking must already carry its cancelled state.
func CancelOps(ctx context.Context, database *db.DB, b *model.Booking) ([]store.Op, error) {
	ops := []store.Op{
		{Path: db.BookingPath(b.ID), Value: b},
		{Path: db.SlotRecordPath(b.Floor, b.SlotID, b.ID), Value: nil},
	}

	records, err := database.SlotRecords(ctx, b.Floor, b.SlotID)
	if err != nil {
		return nil, fmt.Errorf("loading slot records: %w", err)
	}
	others := 0
	for _, rec := range records {
		if rec.BookingID != b.ID {
			others++
		}
	}
	if others == 0 {
		ops = append(ops, store.Op{Path: db.SlotPath(b.Floor, b.SlotID), Value: map[string]string{"status": model.SlotAvailable}})
	}
	return ops, nil
}

// AssessFine computes the current overdue fine for a booking without
// persisting anything.
func (s *Service) AssessFine(ctx context.Context, bookingID string) (*model.FineRecord, error) {
	b, err := s.db.Booking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("loading booking %s: %w", bookingID, err)
	}
	window, err := b.Window()
	if err != nil {
		return nil, err
	}

	fine := model.AssessFine(b.Price, window.Exit, s.now())
	return &model.FineRecord{
		BookingID:      b.ID,
		Username:       b.Username,
		SlotID:         b.SlotID,
		Floor:          b.Floor,
		Amount:         fine.Amount,
		MinutesOverdue: fine.MinutesOverdue,
		Rounds:         fine.Rounds,
		PayFineStatus:  model.PaymentPending,
	}, nil
}

// FineDue reports whether the booking currently blocks on an unpaid fine:
// the window expired, the barrier log says the vehicle is still inside and
// no paid fine record exists.
func (s *Service) FineDue(ctx context.Context, b *model.Booking) (bool, error) {
	window, err := b.Window()
	if err != nil {
		return false, err
	}
	if !window.Expired(s.now()) {
		return false, nil
	}

	logs, err := s.db.BarrierLogs(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("loading barrier logs: %w", err)
	}
	if model.ResolveOccupancy(logs) == model.Departed {
		return false, nil
	}

	fine, err := s.db.Fine(ctx, b.ID)
	if err != nil {
		return false, err
	}
	return fine == nil || fine.PayFineStatus != model.PaymentPaid, nil
}

// SettleFine records the fine as paid with the assessed breakdown.
func (s *Service) SettleFine(ctx context.Context, bookingID string) (*model.FineRecord, error) {
	rec, err := s.AssessFine(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.PayFineStatus = model.PaymentPaid
	rec.PaidDate = now.Format(dateLayout)
	rec.PaidTime = now.Format(timeLayout)

	if err := s.db.PutFine(ctx, rec); err != nil {
		return nil, fmt.Errorf("writing fine record: %w", err)
	}

	s.logger.Info().
		Str("booking_id", bookingID).
		Float64("amount", rec.Amount).
		Int("rounds", rec.Rounds).
		Msg("fine settled")
	return rec, nil
}
