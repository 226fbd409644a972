package model

import (
	"math"
	"time"
)

// FineRoundMinutes is the overdue interval after which the fine doubles
// again.
const FineRoundMinutes = 15

// FineAssessment is the computed overdue penalty for a booking.
type FineAssessment struct {
	MinutesOverdue int
	Rounds         int
	Amount         float64
}

// AssessFine computes the progressive overdue fine: the booking price
// doubled once per started 15-minute round past the exit instant. No
// overdue time means no fine. Amounts are rounded to two decimals; whole
// amounts stay whole.
func AssessFine(price float64, exit, now time.Time) FineAssessment {
	overdue := int(math.Max(0, math.Floor(now.Sub(exit).Minutes())))
	rounds := int(math.Ceil(float64(overdue) / FineRoundMinutes))

	var amount float64
	if rounds > 0 {
		amount = roundMoney(price * math.Pow(2, float64(rounds)))
	}
	return FineAssessment{
		MinutesOverdue: overdue,
		Rounds:         rounds,
		Amount:         amount,
	}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
