package types

import "fmt"

// NegotiationStatus tracks where a load sits in the info-request and
// bid-ladder flow. Advancement is monotonic: the only transitions allowed
// are the edges listed in statusEdges, plus Blocked from any non-terminal
// state.
type NegotiationStatus string

const (
	StatusNotStarted        NegotiationStatus = "not_started"
	StatusGatheringInfo     NegotiationStatus = "gathering_info"
	StatusCollectedInfo     NegotiationStatus = "collected_info"
	StatusOfferedFirstBid   NegotiationStatus = "offered_first_bid"
	StatusFirstBidAccepted  NegotiationStatus = "first_bid_accepted"
	StatusFirstBidRejected  NegotiationStatus = "first_bid_rejected"
	StatusOfferedSecondBid  NegotiationStatus = "offered_second_bid"
	StatusSecondBidAccepted NegotiationStatus = "second_bid_accepted"
	StatusSecondBidRejected NegotiationStatus = "second_bid_rejected"
	StatusBlocked           NegotiationStatus = "blocked"
)

var statusEdges = map[NegotiationStatus][]NegotiationStatus{
	StatusNotStarted:       {StatusGatheringInfo, StatusCollectedInfo},
	StatusGatheringInfo:    {StatusCollectedInfo},
	StatusCollectedInfo:    {StatusOfferedFirstBid},
	StatusOfferedFirstBid:  {StatusFirstBidAccepted, StatusFirstBidRejected},
	StatusFirstBidRejected: {StatusOfferedSecondBid},
	StatusOfferedSecondBid: {StatusSecondBidAccepted, StatusSecondBidRejected},
}

// IsTerminal reports whether no further negotiation activity is possible.
func (s NegotiationStatus) IsTerminal() bool {
	switch s {
	case StatusFirstBidAccepted, StatusSecondBidAccepted, StatusSecondBidRejected, StatusBlocked:
		return true
	}
	return false
}

// Accepted reports whether the broker agreed to one of our bids.
func (s NegotiationStatus) Accepted() bool {
	return s == StatusFirstBidAccepted || s == StatusSecondBidAccepted
}

// CanAdvance reports whether the transition s -> to is legal.
func (s NegotiationStatus) CanAdvance(to NegotiationStatus) bool {
	if to == s {
		return true
	}
	if to == StatusBlocked {
		return !s.IsTerminal()
	}
	for _, next := range statusEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance returns the new status, or an error when the transition would
// regress or leave a terminal state.
func (s NegotiationStatus) Advance(to NegotiationStatus) (NegotiationStatus, error) {
	if !s.CanAdvance(to) {
		return s, fmt.Errorf("illegal negotiation status transition %s -> %s", s, to)
	}
	return to, nil
}

// LoadState is the load-level lifecycle, kept apart from the negotiation
// status because a cancelled load blocks the negotiation as a side effect.
type LoadState string

const (
	LoadStateActive    LoadState = "active"
	LoadStateCancelled LoadState = "cancelled"
	LoadStateClosed    LoadState = "closed"
)
