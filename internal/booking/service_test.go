package booking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkgate/internal/availability"
	"parkgate/internal/db"
	"parkgate/internal/model"
	"parkgate/internal/store"
)

var testNow = time.Date(2026, 9, 1, 9, 0, 0, 0, time.Local)

func newService(t *testing.T) (*Service, *db.DB) {
	t.Helper()
	database := db.New(store.NewMemory())
	layout := availability.Layout{Floors: []availability.Floor{
		{Name: "1", Slots: []string{"A1", "A2"}},
		{Name: "2", Slots: []string{"B1"}},
	}}
	resolver := availability.NewResolver(database, layout, zerolog.Nop())
	s := NewService(database, resolver, model.DefaultRateTable(), zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s, database
}

func hourlyRequest() CreateRequest {
	return CreateRequest{
		Username:    "alice",
		Floor:       "1",
		SlotID:      "A1",
		PlateNumber: "AB-1234",
		RateType:    model.RateHourly,
		EntryDate:   "2026-09-01",
		EntryTime:   "10:00",
		Units:       3,
	}
}

func TestCreateHourly(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	b, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	assert.Equal(t, 120.0, b.Price)
	assert.Equal(t, "2026-09-01", b.ExitDate)
	assert.Equal(t, "13:00", b.ExitTime)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	stored, err := database.Booking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Username, stored.Username)

	records, err := database.SlotRecords(ctx, "1", "A1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b.ID, records[0].BookingID)
	assert.Equal(t, model.SlotBooked, records[0].Status)
	assert.Equal(t, "10:00-13:00", records[0].TimeRange)
}

func TestCreateDailyAndMonthlyExits(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	daily, err := s.Create(ctx, CreateRequest{
		Username: "alice", Floor: "1", SlotID: "A1",
		RateType: model.RateDaily, EntryDate: "2026-09-02", Units: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-09-05", daily.ExitDate)
	assert.Equal(t, 750.0, daily.Price)

	monthly, err := s.Create(ctx, CreateRequest{
		Username: "bob", Floor: "2", SlotID: "B1",
		RateType: model.RateMonthly, EntryDate: "2026-09-02", Units: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-11-02", monthly.ExitDate)
	assert.Equal(t, 6000.0, monthly.Price)
}

func TestCreateRejectsConflict(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	req := hourlyRequest()
	req.Username = "bob"
	req.EntryTime = "11:00"
	_, err = s.Create(ctx, req)
	var conflict *availability.ConflictError
	assert.ErrorAs(t, err, &conflict)

	// The adjacent window right after is free.
	req.EntryTime = "13:00"
	_, err = s.Create(ctx, req)
	assert.NoError(t, err)
}

func TestCreateRejectsPastEntry(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	req := hourlyRequest()
	req.EntryTime = "08:00"
	_, err := s.Create(ctx, req)
	assert.Error(t, err)

	// Within the one-minute tolerance.
	s.now = func() time.Time { return time.Date(2026, 9, 1, 10, 0, 30, 0, time.Local) }
	req.EntryTime = "10:00"
	_, err = s.Create(ctx, req)
	assert.NoError(t, err)

	// Daily gets no tolerance.
	s.now = func() time.Time { return time.Date(2026, 9, 1, 0, 0, 30, 0, time.Local) }
	_, err = s.Create(ctx, CreateRequest{
		Username: "alice", Floor: "1", SlotID: "A2",
		RateType: model.RateDaily, EntryDate: "2026-09-01", Units: 1,
	})
	assert.Error(t, err)
}

func TestCreateRejectsBadDurations(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	req := hourlyRequest()
	req.Units = 13
	_, err := s.Create(ctx, req)
	assert.Error(t, err)

	req.Units = 0
	_, err = s.Create(ctx, req)
	assert.Error(t, err)
}

func TestCreateConsumesCoupon(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	require.NoError(t, database.Store().Put(ctx, db.CouponPath("c1"), model.Coupon{
		Username:     "alice",
		Discount:     10,
		DiscountType: model.RateHourly,
		ExpiryDate:   "2026-09-30",
	}))

	req := hourlyRequest()
	req.CouponID = "c1"
	b, err := s.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 108.0, b.Price)
	assert.Equal(t, "c1", b.CouponID)

	coupon, err := database.Coupon(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, coupon.Used)
	assert.Equal(t, b.ID, coupon.UsedBookingID)

	// A consumed coupon cannot be used again.
	req = hourlyRequest()
	req.SlotID = "A2"
	req.CouponID = "c1"
	_, err = s.Create(ctx, req)
	assert.Error(t, err)
}

func TestCreateRejectsMismatchedCoupon(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	require.NoError(t, database.Store().Put(ctx, db.CouponPath("c1"), model.Coupon{
		Username:     "alice",
		Discount:     20,
		DiscountType: model.RateDaily,
		ExpiryDate:   "2026-09-30",
	}))

	req := hourlyRequest()
	req.CouponID = "c1"
	_, err := s.Create(ctx, req)
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	b, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, b.ID, "user request"))

	stored, err := database.Booking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	assert.Equal(t, "user request", stored.CancellationReason)

	records, err := database.SlotRecords(ctx, "1", "A1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// Cancelling twice fails.
	assert.Error(t, s.Cancel(ctx, b.ID, "again"))
}

func TestCancelKeepsSlotMarkerWhileOccupied(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	first, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	later := hourlyRequest()
	later.Username = "bob"
	later.EntryTime = "14:00"
	second, err := s.Create(ctx, later)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, first.ID, "change of plans"))

	// The second booking still holds a record, so no available marker yet.
	var marker map[string]string
	err = database.Store().Get(ctx, db.SlotPath("1", "A1"), &marker)
	assert.ErrorIs(t, err, store.ErrNotFound)

	records, err := database.SlotRecords(ctx, "1", "A1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second.ID, records[0].BookingID)

	// The last record out marks the slot available.
	require.NoError(t, s.Cancel(ctx, second.ID, "change of plans"))
	require.NoError(t, database.Store().Get(ctx, db.SlotPath("1", "A1"), &marker))
	assert.Equal(t, model.SlotAvailable, marker["status"])
}

func TestFineDue(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	b, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	// Window not expired yet.
	due, err := s.FineDue(ctx, b)
	require.NoError(t, err)
	assert.False(t, due)

	// Past exit with no departure logged.
	s.now = func() time.Time { return time.Date(2026, 9, 1, 13, 20, 0, 0, time.Local) }
	due, err = s.FineDue(ctx, b)
	require.NoError(t, err)
	assert.True(t, due)

	// Departure recorded before the check clears it.
	require.NoError(t, database.AppendBarrierLog(ctx, b.ID, model.BarrierLogEntry{
		Status: model.BarrierLifted, Date: "2026-09-01", Time: "12:50",
	}))
	require.NoError(t, database.AppendBarrierLog(ctx, b.ID, model.BarrierLogEntry{
		Status: model.BarrierLowered, Date: "2026-09-01", Time: "12:55",
	}))
	due, err = s.FineDue(ctx, b)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestFineDueClearedBySettlement(t *testing.T) {
	s, database := newService(t)
	ctx := context.Background()

	b, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	s.now = func() time.Time { return time.Date(2026, 9, 1, 13, 16, 0, 0, time.Local) }

	rec, err := s.SettleFine(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, rec.PayFineStatus)
	assert.Equal(t, 16, rec.MinutesOverdue)
	assert.Equal(t, 2, rec.Rounds)
	assert.InDelta(t, 480.0, rec.Amount, 0.001)

	due, err := s.FineDue(ctx, b)
	require.NoError(t, err)
	assert.False(t, due)

	stored, err := database.Fine(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.PaymentPaid, stored.PayFineStatus)
}

func TestAssessFineOnTime(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	b, err := s.Create(ctx, hourlyRequest())
	require.NoError(t, err)

	rec, err := s.AssessFine(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, rec.Amount)
	assert.Zero(t, rec.Rounds)
}
