package utils

import "math"

// SeatFare returns the amount owed for seats at pricePerSeat in KES,
// rounded to 2 decimal places.
func SeatFare(pricePerSeat float64, seats int) float64 {
	if seats <= 0 || pricePerSeat <= 0 {
		return 0
	}
	return math.Round(pricePerSeat*float64(seats)*100) / 100
}

// ChargeableAmount is the whole-shilling amount sent to mobile money, which
// does not accept fractions. Fractions round up.
func ChargeableAmount(amount float64) int64 {
	if amount <= 0 {
		return 0
	}
	return int64(math.Ceil(math.Round(amount*100) / 100))
}
