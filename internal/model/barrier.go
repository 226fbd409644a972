package model

import "sort"

// Barrier statuses recorded in the log.
const (
	BarrierLifted  = "lifted"
	BarrierLowered = "lowered"
)

// BarrierLogEntry is one append-only record of a physical barrier movement.
type BarrierLogEntry struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

func (e BarrierLogEntry) sortKey() string {
	// Entries without a timestamp sort earliest.
	return e.Date + " " + e.Time
}

// Verdict is the occupancy conclusion drawn from a barrier log.
type Verdict int

const (
	StillPresent Verdict = iota
	Departed
)

func (v Verdict) String() string {
	if v == Departed {
		return "departed"
	}
	return "still_present"
}

// ResolveOccupancy infers whether a vehicle has left its slot from the
// barrier log of its booking. Departure is only concluded from the
// unambiguous lifted-then-lowered tail; every other shape, including an
// empty or malformed log, resolves to StillPresent.
func ResolveOccupancy(entries []BarrierLogEntry) Verdict {
	if len(entries) == 0 {
		return StillPresent
	}

	sorted := make([]BarrierLogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].sortKey() < sorted[j].sortKey()
	})

	last := sorted[len(sorted)-1]
	if last.Status == BarrierLifted {
		return StillPresent
	}
	if last.Status != BarrierLowered {
		return StillPresent
	}
	if len(sorted) == 1 {
		// A lone lowered entry means the vehicle entered and is parked.
		return StillPresent
	}
	if sorted[len(sorted)-2].Status == BarrierLifted {
		return Departed
	}
	return StillPresent
}
