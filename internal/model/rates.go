package model

import "fmt"

// RateTable holds the price per unit and allowed duration per rate type.
type RateTable struct {
	HourlyPrice   float64 `yaml:"hourly_price"`
	DailyPrice    float64 `yaml:"daily_price"`
	MonthlyPrice  float64 `yaml:"monthly_price"`
	MaxHours      int     `yaml:"max_hours"`
	MaxDays       int     `yaml:"max_days"`
	MaxMonths     int     `yaml:"max_months"`
}

// DefaultRateTable returns the standard tariff.
func DefaultRateTable() RateTable {
	return RateTable{
		HourlyPrice:  40,
		DailyPrice:   250,
		MonthlyPrice: 3000,
		MaxHours:     12,
		MaxDays:      7,
		MaxMonths:    3,
	}
}

// Price returns the cost of a booking of the given duration units, or an
// error when the duration falls outside the tariff's bounds.
func (t RateTable) Price(rate RateType, units int) (float64, error) {
	var max int
	var per float64
	switch rate {
	case RateHourly:
		max, per = t.MaxHours, t.HourlyPrice
	case RateDaily:
		max, per = t.MaxDays, t.DailyPrice
	case RateMonthly:
		max, per = t.MaxMonths, t.MonthlyPrice
	default:
		return 0, fmt.Errorf("unknown rate type %q", rate)
	}
	if units < 1 || units > max {
		return 0, fmt.Errorf("%s duration %d out of range 1..%d", rate, units, max)
	}
	return per * float64(units), nil
}

// ApplyDiscount reduces a price by a whole-percent discount, keeping money
// rounding.
func ApplyDiscount(price float64, percent int) float64 {
	if percent <= 0 {
		return price
	}
	return roundMoney(price * float64(100-percent) / 100)
}
