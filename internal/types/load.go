package types

import "time"

// RateInfo holds the negotiable rate range and what has been quoted so far.
// Current is the broker's latest quoted rate; Committed is set once a bid is
// accepted.
type RateInfo struct {
	MinimumRate  float64 `json:"minimumRate,omitempty"`
	MaximumRate  float64 `json:"maximumRate,omitempty"`
	Current      float64 `json:"current,omitempty"`
	Committed    float64 `json:"committed,omitempty"`
	AIIdentified bool    `json:"aiIdentified,omitempty"`
}

// HasRange reports whether a usable negotiation range is present.
func (r RateInfo) HasRange() bool {
	return r.MinimumRate > 0 && r.MaximumRate > 0 && r.MinimumRate <= r.MaximumRate
}

// LoadDetails is the bag of shipment facts gathered from the broker.
type LoadDetails struct {
	Commodity      string `json:"commodity,omitempty"`
	WeightPounds   int    `json:"weightPounds,omitempty"`
	LengthFeet     int    `json:"lengthFeet,omitempty"`
	PickupWindow   string `json:"pickupWindow,omitempty"`
	DeliveryWindow string `json:"deliveryWindow,omitempty"`
	SpecialNotes   string `json:"specialNotes,omitempty"`
}

// Offerer identifies which side proposed a rate.
type Offerer string

const (
	OffererDispatcher Offerer = "dispatcher"
	OffererBroker     Offerer = "broker"
)

// BidOffer is one rate proposal. Append-only; never mutated once created.
type BidOffer struct {
	Amount    float64   `json:"amount"`
	Offerer   Offerer   `json:"offerer"`
	OfferedAt time.Time `json:"offeredAt"`
}

// LoadRecord is the shipment being negotiated. The persistence layer owns
// the durable copy; the orchestrator only proposes field updates against it.
type LoadRecord struct {
	ID            string            `json:"id"`
	Origin        string            `json:"origin"`
	Destination   string            `json:"destination"`
	EquipmentType string            `json:"equipmentType,omitempty"`
	ReferenceID   string            `json:"referenceId,omitempty"`
	State         LoadState         `json:"state"`
	Status        NegotiationStatus `json:"status"`
	Rate          RateInfo          `json:"rate"`
	Details       LoadDetails       `json:"details"`

	InfoRequestFinished bool     `json:"infoRequestFinished,omitempty"`
	DraftAttempts       int      `json:"draftAttempts,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	CriticalQuestions   []string `json:"criticalQuestions,omitempty"`

	Offers []BidOffer `json:"offers,omitempty"`
}

// Processable reports whether an inbound reply for this load should be
// handled at all. Cancelled or closed loads, loads already flagged with
// warnings or unanswered critical questions, and terminal negotiations are
// skipped.
func (l *LoadRecord) Processable() bool {
	if l.State == LoadStateCancelled || l.State == LoadStateClosed {
		return false
	}
	if len(l.Warnings) > 0 || len(l.CriticalQuestions) > 0 {
		return false
	}
	return !l.Status.IsTerminal()
}

// LastOfferBy returns the most recent offer made by the given side, if any.
func (l *LoadRecord) LastOfferBy(o Offerer) (BidOffer, bool) {
	for i := len(l.Offers) - 1; i >= 0; i-- {
		if l.Offers[i].Offerer == o {
			return l.Offers[i], true
		}
	}
	return BidOffer{}, false
}
