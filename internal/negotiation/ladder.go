// Package negotiation implements the rate strategy: the descending bid
// ladder, counter-offers to broker rates, and classification of broker
// responses to an outstanding bid.
package negotiation

import (
	"fmt"
	"math"

	"loadpilot/internal/types"
)

// Step indexes the dispatcher's descending bid ladder. Lower steps ask for
// more money.
type Step int

const (
	StepMaxBid Step = iota
	StepFirstBid
	StepSecondBid
	StepMinBid
)

func (s Step) String() string {
	switch s {
	case StepMaxBid:
		return "max_bid"
	case StepFirstBid:
		return "first_bid"
	case StepSecondBid:
		return "second_bid"
	case StepMinBid:
		return "min_bid"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Ladder computes bid amounts from the company's negotiation policy and a
// load's acceptable rate range.
type Ladder struct {
	policy types.NegotiationPolicy
}

func NewLadder(policy types.NegotiationPolicy) (*Ladder, error) {
	if !policy.Valid() {
		return nil, &types.PolicyViolation{Reason: "negotiation policy has non-positive thresholds or rounding unit"}
	}
	return &Ladder{policy: policy}, nil
}

// OfferForStep returns the dollar amount to bid at the given ladder step.
// Interior steps interpolate between the range bounds by the configured
// threshold percentage, rounded to the policy's rounding unit and clamped
// back into the range.
func (l *Ladder) OfferForStep(step Step, rate types.RateInfo) (float64, error) {
	if !rate.HasRange() {
		return 0, &types.PolicyViolation{Reason: "load has no acceptable rate range"}
	}

	switch step {
	case StepMaxBid:
		return rate.MaximumRate, nil
	case StepMinBid:
		return rate.MinimumRate, nil
	case StepFirstBid:
		return l.interpolate(rate, l.policy.FirstBidThresholdPct), nil
	case StepSecondBid:
		return l.interpolate(rate, l.policy.SecondBidThresholdPct), nil
	default:
		return 0, &types.PolicyViolation{Reason: fmt.Sprintf("no offer defined for %s", step)}
	}
}

func (l *Ladder) interpolate(rate types.RateInfo, thresholdPct float64) float64 {
	span := rate.MaximumRate - rate.MinimumRate
	raw := rate.MinimumRate + span*thresholdPct/100
	rounded := roundToUnit(raw, l.policy.RoundingUnit)
	return clamp(rounded, rate.MinimumRate, rate.MaximumRate)
}

// roundToUnit rounds half away from zero to the nearest multiple of unit.
func roundToUnit(v, unit float64) float64 {
	return math.Round(v/unit) * unit
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
