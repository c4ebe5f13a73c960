package types

// NegotiationPolicy is the per-tenant bid ladder policy. Thresholds are
// percentages of the min..max range; RoundingUnit is the dollar multiple
// offers are rounded to.
type NegotiationPolicy struct {
	FirstBidThresholdPct  float64 `json:"firstBidThresholdPct,omitempty"`
	SecondBidThresholdPct float64 `json:"secondBidThresholdPct,omitempty"`
	RoundingUnit          float64 `json:"roundingUnit,omitempty"`
}

// Valid reports whether the policy carries everything the ladder needs.
func (p NegotiationPolicy) Valid() bool {
	return p.FirstBidThresholdPct > 0 && p.SecondBidThresholdPct > 0 && p.RoundingUnit >= 1
}

// CompanyProfile is static per-tenant data, read-only to the pipeline.
type CompanyProfile struct {
	Name      string            `json:"name"`
	MCNumber  string            `json:"mcNumber,omitempty"`
	DOTNumber string            `json:"dotNumber,omitempty"`
	CarrierID string            `json:"carrierId,omitempty"`
	Policy    NegotiationPolicy `json:"policy"`
}

// TruckProfile describes the capabilities and restrictions of the truck the
// load would be booked on. Consumed by the requirement checks.
type TruckProfile struct {
	MaxWeightPounds      int      `json:"maxWeightPounds,omitempty"`
	MaxLengthFeet        int      `json:"maxLengthFeet,omitempty"`
	PermittedCommodities []string `json:"permittedCommodities,omitempty"`
	SecurityFeatures     []string `json:"securityFeatures,omitempty"`
}
