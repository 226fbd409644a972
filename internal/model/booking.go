// Package model holds the parking domain types and pure calculations.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RateType identifies the billing granularity of a booking.
type RateType string

const (
	RateHourly  RateType = "hourly"
	RateDaily   RateType = "daily"
	RateMonthly RateType = "monthly"
)

// Valid reports whether the rate type is one of the known values.
func (r RateType) Valid() bool {
	switch r {
	case RateHourly, RateDaily, RateMonthly:
		return true
	}
	return false
}

// Booking statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Payment statuses.
const (
	PaymentPaid    = "paid"
	PaymentPending = "pending"
)

// Booking is a reservation of one slot for one time window.
type Booking struct {
	ID                 string   `json:"id"`
	Username           string   `json:"username"`
	SlotID             string   `json:"slotId"`
	Floor              string   `json:"floor"`
	RateType           RateType `json:"rateType"`
	EntryDate          string   `json:"entryDate"`
	EntryTime          string   `json:"entryTime,omitempty"`
	ExitDate           string   `json:"exitDate"`
	ExitTime           string   `json:"exitTime,omitempty"`
	Price              float64  `json:"price"`
	Status             string   `json:"status"`
	PaymentStatus      string   `json:"paymentStatus,omitempty"`
	PlateNumber        string   `json:"plateNumber,omitempty"`
	IsVisitorBooking   bool     `json:"isVisitorBooking,omitempty"`
	VisitorUsername    string   `json:"visitorUsername,omitempty"`
	CouponID           string   `json:"couponId,omitempty"`
	CancellationReason string   `json:"cancellationReason,omitempty"`

	// Reminder and conflict bookkeeping. ConflictNotifiedAt is the durable
	// marker that an overstay conflict was already recorded for this booking.
	NotifiedHour       bool   `json:"notifiedHour,omitempty"`
	NotifiedMonthly    bool   `json:"notifiedMonthly,omitempty"`
	ConflictNotifiedAt string `json:"conflictNotifiedAt,omitempty"`

	CreatedAt string `json:"createdAt,omitempty"`
}

// IsActive reports whether the booking still reserves its slot.
func (b *Booking) IsActive() bool {
	return b.Status != StatusCancelled
}

// Window returns the booking's reserved time window.
func (b *Booking) Window() (TimeWindow, error) {
	return NewTimeWindow(b.RateType, b.EntryDate, b.EntryTime, b.ExitDate, b.ExitTime)
}

// PlateMatches compares plates ignoring case and surrounding whitespace.
func (b *Booking) PlateMatches(plate string) bool {
	return strings.EqualFold(strings.TrimSpace(b.PlateNumber), strings.TrimSpace(plate))
}

// OccupancyRecord marks a slot as taken for a date or date range.
type OccupancyRecord struct {
	BookingID string `json:"bookingId"`
	Username  string `json:"username"`
	Date      string `json:"date"`
	TimeRange string `json:"timeRange,omitempty"`
	Available bool   `json:"available"`
	Status    string `json:"status"`
}

// Occupancy statuses.
const (
	SlotBooked    = "booked"
	SlotMoved     = "moved"
	SlotAvailable = "available"
)

// NewOccupancyRecord builds the slot record written alongside a booking.
// Single-day windows record the date alone; ranges record "entry - exit".
func NewOccupancyRecord(b *Booking, status string) OccupancyRecord {
	date := b.EntryDate
	if b.ExitDate != "" && b.ExitDate != b.EntryDate {
		date = fmt.Sprintf("%s - %s", b.EntryDate, b.ExitDate)
	}
	rec := OccupancyRecord{
		BookingID: b.ID,
		Username:  b.Username,
		Date:      date,
		Available: false,
		Status:    status,
	}
	if b.EntryTime != "" && b.ExitTime != "" {
		rec.TimeRange = fmt.Sprintf("%s-%s", b.EntryTime, b.ExitTime)
	}
	return rec
}

// Coupon is a percentage discount granted as overstay compensation.
type Coupon struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Discount      int      `json:"discount"`
	DiscountType  RateType `json:"discountType"`
	CreatedDate   string   `json:"createdDate"`
	CreatedTime   string   `json:"createdTime"`
	ExpiryDate    string   `json:"expiryDate"`
	Used          bool     `json:"used"`
	UsedDate      string   `json:"usedDate,omitempty"`
	UsedBookingID string   `json:"usedBookingId,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// UsableBy reports whether the coupon can discount a booking of the given
// rate type for the given user at the given instant. Coupons expire at the
// end of their expiry date.
func (c *Coupon) UsableBy(username string, rate RateType, now time.Time) bool {
	if c.Used || c.Username != username || c.DiscountType != rate {
		return false
	}
	expiry, err := time.ParseInLocation("2006-01-02 15:04:05", c.ExpiryDate+" 23:59:59", now.Location())
	if err != nil {
		return false
	}
	return !expiry.Before(now)
}

// DiscountFor returns the compensation discount tier for a rate type.
func DiscountFor(rate RateType) int {
	switch rate {
	case RateHourly:
		return 10
	case RateDaily:
		return 20
	case RateMonthly:
		return 30
	}
	return 0
}

// FineRecord is the settled (or assessed) overdue fine for a booking.
type FineRecord struct {
	BookingID      string  `json:"bookingId"`
	Username       string  `json:"username"`
	SlotID         string  `json:"slotId"`
	Floor          string  `json:"floor"`
	Amount         float64 `json:"amount"`
	MinutesOverdue int     `json:"minutesOverdue"`
	Rounds         int     `json:"rounds"`
	PayFineStatus  string  `json:"payFineStatus"`
	PaidDate       string  `json:"paidDate,omitempty"`
	PaidTime       string  `json:"paidTime,omitempty"`
}

// Notification types emitted by the engine.
const (
	NotifySlotUnavailable = "Parking Slot Unavailable"
	NotifyRelocated       = "Parking Slot Unavailable (Relocated)"
	NotifyCouponReceived  = "Parking Slot Unavailable (Coupon Received)"
	NotifyReminder        = "Parking Reminder"
)

// Notification is a durable message record consumed by the UI layer.
type Notification struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Message         string `json:"message"`
	SlotID          string `json:"slotId,omitempty"`
	Floor           string `json:"floor,omitempty"`
	Username        string `json:"username"`
	VisitorUsername string `json:"visitorUsername,omitempty"`
	BookingID       string `json:"bookingId,omitempty"`
	OfferSlotID     string `json:"offerSlotId,omitempty"`
	OfferFloor      string `json:"offerFloor,omitempty"`
	Handled         bool   `json:"handled"`
	Read            bool   `json:"read"`
	Timestamp       string `json:"timestamp"`
}
