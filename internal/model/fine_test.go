package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssessFine(t *testing.T) {
	exit := time.Date(2026, 9, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		price   float64
		now     time.Time
		minutes int
		rounds  int
		amount  float64
	}{
		{"on time", 100, exit, 0, 0, 0},
		{"before exit", 100, exit.Add(-30 * time.Minute), 0, 0, 0},
		{"one minute over", 100, exit.Add(time.Minute), 1, 1, 200},
		{"exactly one round", 100, exit.Add(15 * time.Minute), 15, 1, 200},
		{"sixteen minutes over", 100, exit.Add(16 * time.Minute), 16, 2, 400},
		{"three rounds", 100, exit.Add(45 * time.Minute), 45, 3, 800},
		{"sub-minute overdue ignored", 100, exit.Add(30 * time.Second), 0, 0, 0},
		{"fractional price rounds to cents", 33.33, exit.Add(time.Minute), 1, 1, 66.66},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessFine(tt.price, exit, tt.now)
			assert.Equal(t, tt.minutes, got.MinutesOverdue)
			assert.Equal(t, tt.rounds, got.Rounds)
			assert.InDelta(t, tt.amount, got.Amount, 0.001)
		})
	}
}

func TestAssessFineDoublesPerRound(t *testing.T) {
	exit := time.Date(2026, 9, 1, 12, 0, 0, 0, time.Local)
	prev := AssessFine(40, exit, exit.Add(15*time.Minute)).Amount
	for rounds := 2; rounds <= 6; rounds++ {
		now := exit.Add(time.Duration(rounds*15) * time.Minute)
		cur := AssessFine(40, exit, now).Amount
		assert.InDelta(t, prev*2, cur, 0.001)
		prev = cur
	}
}
