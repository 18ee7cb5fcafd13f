package pricing

import "time"

// RescuePrice replaces any move that would take the price to zero or below.
// The delta is set to the same value.
const RescuePrice = 334

// Period boundary days.
const (
	FirstBoundaryDay  = 1
	SecondBoundaryDay = 16
)

// IsBoundaryDay reports whether day starts a new period.
func IsBoundaryDay(day int) bool {
	return day == FirstBoundaryDay || day == SecondBoundaryDay
}

// DaysUntilBoundary returns the number of days from t until the next period
// boundary. It is 0 on day 16 and counts to the first of next month after it.
func DaysUntilBoundary(t time.Time) int {
	day := t.Day()
	if day <= SecondBoundaryDay {
		return SecondBoundaryDay - day
	}
	return daysInMonth(t) - day + 1
}

func daysInMonth(t time.Time) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// OpeningPrice draws the price a new period starts at.
//
// The base is usually 100..140. A 1-in-10 draw opens low at 80..100 and
// another 1-in-10 opens high at 140..180. A 1..9 discount is subtracted.
func OpeningPrice(src Source) int64 {
	var base int64
	switch src.Between(1, 10) {
	case 1:
		base = src.Between(80, 100)
	case 2:
		base = src.Between(140, 180)
	default:
		base = src.Between(100, 140)
	}
	return base - src.Between(1, 9)
}

// Move is the outcome of one ordinary-day draw.
type Move struct {
	Percent int64 // signed percentage drawn
	Price   int64 // new price
	Delta   int64 // Price minus the previous price, or RescuePrice
	Rescued bool  // the move would have taken the price to <= 0
}

// DailyMove draws an ordinary-day move from price.
//
// Magnitude bands, keyed by a chance draw in 0..50:
//
//	0..20   0..10%
//	21..45  10..25%
//	46..50  25..40%
//
// The delta truncates toward zero.
func DailyMove(src Source, price int64) Move {
	chance := src.Between(0, 50)

	var magnitude int64
	switch {
	case chance <= 20:
		magnitude = src.Between(0, 10)
	case chance <= 45:
		magnitude = src.Between(10, 25)
	default:
		magnitude = src.Between(25, 40)
	}

	percent := magnitude
	if src.Between(0, 1) == 0 {
		percent = -magnitude
	}

	delta := percent * price / 100
	next := price + delta
	if next <= 0 {
		return Move{Percent: percent, Price: RescuePrice, Delta: RescuePrice, Rescued: true}
	}
	return Move{Percent: percent, Price: next, Delta: delta}
}
