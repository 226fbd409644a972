// Package availability finds free parking slots for a requested window.
package availability

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"parkgate/internal/db"
	"parkgate/internal/model"
)

// Slot identifies one parking slot.
type Slot struct {
	Floor  string
	SlotID string
}

func (s Slot) String() string {
	return s.Floor + "/" + s.SlotID
}

// Layout describes the parking lot.
type Layout struct {
	Floors []Floor `yaml:"floors"`
}

// Floor is one level of the lot with its slot ids.
type Floor struct {
	Name  string   `yaml:"name"`
	Slots []string `yaml:"slots"`
}

// ErrNoCapacity is returned when no slot in the lot can take the window.
var ErrNoCapacity = fmt.Errorf("no slot available for the requested window")

// ConflictError is returned when a specific slot is already reserved for an
// overlapping window.
type ConflictError struct {
	Slot      Slot
	BookingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s already reserved by booking %s", e.Slot, e.BookingID)
}

// Resolver answers slot availability questions. It only reads; reserving a
// slot is the booking service's job.
type Resolver struct {
	db     *db.DB
	layout Layout
	logger zerolog.Logger

	// intn is swappable for deterministic tests.
	intn func(n int) int
}

// NewResolver creates a resolver over the given lot layout.
func NewResolver(database *db.DB, layout Layout, logger zerolog.Logger) *Resolver {
	return &Resolver{
		db:     database,
		layout: layout,
		logger: logger.With().Str("component", "availability").Logger(),
		intn:   rand.IntN,
	}
}

// CheckFree returns nil when the slot is free for the window, a
// ConflictError naming the blocking booking otherwise.
func (r *Resolver) CheckFree(ctx context.Context, slot Slot, window model.TimeWindow) error {
	occupied, err := r.occupiedSlots(ctx, window, "")
	if err != nil {
		return err
	}
	if bookingID, taken := occupied[slot]; taken {
		return &ConflictError{Slot: slot, BookingID: bookingID}
	}
	return nil
}

// FindFreeSlot picks a replacement slot for the window. Slots on the
// conflicted slot's floor are preferred; otherwise one of the remaining
// free slots is chosen uniformly at random. The conflicted slot itself is
// never returned.
func (r *Resolver) FindFreeSlot(ctx context.Context, window model.TimeWindow, exclude Slot) (*Slot, error) {
	occupied, err := r.occupiedSlots(ctx, window, "")
	if err != nil {
		return nil, err
	}

	var sameFloor, otherFloors []Slot
	for _, floor := range r.layout.Floors {
		for _, slotID := range floor.Slots {
			candidate := Slot{Floor: floor.Name, SlotID: slotID}
			if candidate == exclude {
				continue
			}
			if _, taken := occupied[candidate]; taken {
				continue
			}
			if floor.Name == exclude.Floor {
				sameFloor = append(sameFloor, candidate)
			} else {
				otherFloors = append(otherFloors, candidate)
			}
		}
	}

	pool := sameFloor
	if len(pool) == 0 {
		pool = otherFloors
	}
	if len(pool) == 0 {
		return nil, ErrNoCapacity
	}

	picked := pool[r.intn(len(pool))]
	r.logger.Debug().
		Str("slot", picked.String()).
		Int("candidates", len(pool)).
		Msg("replacement slot found")
	return &picked, nil
}

// occupiedSlots maps every slot reserved for an overlapping window to the
// booking holding it. Bookings with unparseable windows are skipped.
func (r *Resolver) occupiedSlots(ctx context.Context, window model.TimeWindow, ignoreBookingID string) (map[Slot]string, error) {
	bookings, err := r.db.ActiveBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active bookings: %w", err)
	}

	occupied := make(map[Slot]string)
	for _, b := range bookings {
		if b.ID == ignoreBookingID {
			continue
		}
		other, err := b.Window()
		if err != nil {
			r.logger.Warn().Str("booking_id", b.ID).Err(err).Msg("skipping booking with bad window")
			continue
		}
		if window.Overlaps(other) {
			occupied[Slot{Floor: b.Floor, SlotID: b.SlotID}] = b.ID
		}
	}
	return occupied, nil
}
