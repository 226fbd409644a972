// Package db provides typed access to the parking document tree.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"parkgate/internal/model"
	"parkgate/internal/store"
)

// Document tree roots.
const (
	BookingsRoot      = "bookings"
	SlotsRoot         = "parkingSlots"
	CouponsRoot       = "coupons"
	FinesRoot         = "payFine"
	NotificationsRoot = "notifications"
)

// BookingPath returns the path of a booking document.
func BookingPath(id string) string {
	return BookingsRoot + "/" + id
}

// BarrierLogsPath returns the path of a booking's barrier log node.
func BarrierLogsPath(bookingID string) string {
	return BookingPath(bookingID) + "/barrierLogs"
}

// SlotPath returns the path of a slot's availability marker.
func SlotPath(floor, slotID string) string {
	return fmt.Sprintf("%s/%s/%s", SlotsRoot, floor, slotID)
}

// SlotRecordPath returns the path of one occupancy record, keyed by the
// booking that owns it.
func SlotRecordPath(floor, slotID, bookingID string) string {
	return SlotPath(floor, slotID) + "/" + bookingID
}

// CouponPath returns the path of a coupon document.
func CouponPath(id string) string {
	return CouponsRoot + "/" + id
}

// FinePath returns the path of a booking's fine record.
func FinePath(bookingID string) string {
	return FinesRoot + "/" + bookingID
}

// NotificationPath returns the path of a notification document.
func NotificationPath(id string) string {
	return NotificationsRoot + "/" + id
}

// DB wraps a document store with typed accessors.
type DB struct {
	store store.Store
}

// New creates typed access over the given store.
func New(s store.Store) *DB {
	return &DB{store: s}
}

// Store exposes the underlying store for batch writes and watches.
func (d *DB) Store() store.Store {
	return d.store
}

// Booking loads one booking.
func (d *DB) Booking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := d.store.Get(ctx, BookingPath(id), &b); err != nil {
		return nil, err
	}
	b.ID = id
	return &b, nil
}

// PutBooking writes one booking.
func (d *DB) PutBooking(ctx context.Context, b *model.Booking) error {
	return d.store.Put(ctx, BookingPath(b.ID), b)
}

// Bookings loads every booking, sorted by id for stable iteration.
func (d *DB) Bookings(ctx context.Context) ([]model.Booking, error) {
	children, err := d.store.List(ctx, BookingsRoot)
	if err != nil {
		return nil, err
	}

	out := make([]model.Booking, 0, len(children))
	for id, raw := range children {
		var b model.Booking
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decoding booking %s: %w", id, err)
		}
		b.ID = id
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ActiveBookings loads every booking that still reserves its slot.
func (d *DB) ActiveBookings(ctx context.Context) ([]model.Booking, error) {
	all, err := d.Bookings(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out, nil
}

// BarrierLogs loads the barrier log of a booking. A missing log is empty,
// not an error.
func (d *DB) BarrierLogs(ctx context.Context, bookingID string) ([]model.BarrierLogEntry, error) {
	children, err := d.store.List(ctx, BarrierLogsPath(bookingID))
	if err != nil {
		return nil, err
	}

	out := make([]model.BarrierLogEntry, 0, len(children))
	for id, raw := range children {
		var e model.BarrierLogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding barrier log %s/%s: %w", bookingID, id, err)
		}
		e.ID = id
		out = append(out, e)
	}
	return out, nil
}

// AppendBarrierLog appends one entry to a booking's barrier log.
func (d *DB) AppendBarrierLog(ctx context.Context, bookingID string, e model.BarrierLogEntry) error {
	_, err := d.store.Push(ctx, BarrierLogsPath(bookingID), e)
	return err
}

// Coupon loads one coupon.
func (d *DB) Coupon(ctx context.Context, id string) (*model.Coupon, error) {
	var c model.Coupon
	if err := d.store.Get(ctx, CouponPath(id), &c); err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

// CouponsFor loads every coupon owned by a user.
func (d *DB) CouponsFor(ctx context.Context, username string) ([]model.Coupon, error) {
	children, err := d.store.List(ctx, CouponsRoot)
	if err != nil {
		return nil, err
	}

	var out []model.Coupon
	for id, raw := range children {
		var c model.Coupon
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding coupon %s: %w", id, err)
		}
		if c.Username != username {
			continue
		}
		c.ID = id
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate < out[j].ExpiryDate })
	return out, nil
}

// Fine loads the fine record of a booking, nil when none exists.
func (d *DB) Fine(ctx context.Context, bookingID string) (*model.FineRecord, error) {
	var f model.FineRecord
	err := d.store.Get(ctx, FinePath(bookingID), &f)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PutFine writes the fine record of a booking.
func (d *DB) PutFine(ctx context.Context, f *model.FineRecord) error {
	return d.store.Put(ctx, FinePath(f.BookingID), f)
}

// Notifications loads every notification.
func (d *DB) Notifications(ctx context.Context) ([]model.Notification, error) {
	children, err := d.store.List(ctx, NotificationsRoot)
	if err != nil {
		return nil, err
	}

	out := make([]model.Notification, 0, len(children))
	for id, raw := range children {
		var n model.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decoding notification %s: %w", id, err)
		}
		n.ID = id
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// UnhandledConflicts loads unhandled slot-unavailable notifications.
func (d *DB) UnhandledConflicts(ctx context.Context) ([]model.Notification, error) {
	all, err := d.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if n.Type == model.NotifySlotUnavailable && !n.Handled {
			out = append(out, n)
		}
	}
	return out, nil
}

// SlotRecords loads the occupancy records of one slot.
func (d *DB) SlotRecords(ctx context.Context, floor, slotID string) ([]model.OccupancyRecord, error) {
	children, err := d.store.List(ctx, SlotPath(floor, slotID))
	if err != nil {
		return nil, err
	}

	out := make([]model.OccupancyRecord, 0, len(children))
	for id, raw := range children {
		var rec model.OccupancyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decoding slot record %s/%s/%s: %w", floor, slotID, id, err)
		}
		if rec.BookingID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
