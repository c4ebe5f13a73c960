package negotiation

import "loadpilot/internal/types"

// counterIncrement returns how far above the broker's rate the counter
// should land. Higher-paying loads warrant pushing for more.
func counterIncrement(brokerRate float64) float64 {
	switch {
	case brokerRate >= 3000:
		return 250
	case brokerRate >= 2000:
		return 200
	case brokerRate >= 1000:
		return 150
	default:
		return 100
	}
}

// CounterOffer computes the dispatcher's counter to a broker-stated rate:
// the rate plus a bracket increment, rounded to the nearest $50, never
// exceeding the load's maximum when a range is known.
func CounterOffer(brokerRate float64, rate types.RateInfo) float64 {
	counter := roundToUnit(brokerRate+counterIncrement(brokerRate), 50)
	if rate.HasRange() && counter > rate.MaximumRate {
		counter = rate.MaximumRate
	}
	return counter
}

// Deadlocked reports a negotiation that can no longer converge: the broker
// already sits at or above what the ladder would propose next, so sending
// the proposal would be bidding against ourselves.
func Deadlocked(brokerRate, nextProposed float64) bool {
	return brokerRate > 0 && brokerRate >= nextProposed
}
