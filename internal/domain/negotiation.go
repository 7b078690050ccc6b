package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type DecisionKind string

const (
	DecisionPending        DecisionKind = "pending"
	DecisionAccepted       DecisionKind = "accepted"
	DecisionRejected       DecisionKind = "rejected"
	DecisionCounterOffered DecisionKind = "counter_offered"
)

// SellerAction is what a seller asks for; the resulting state is a DecisionKind.
type SellerAction string

const (
	ActionAccept       SellerAction = "accept"
	ActionReject       SellerAction = "reject"
	ActionCounterOffer SellerAction = "counter_offer"
)

func ParseSellerAction(v string) (SellerAction, bool) {
	switch SellerAction(v) {
	case ActionAccept, ActionReject, ActionCounterOffer:
		return SellerAction(v), true
	}
	return "", false
}

type CounterOffer struct {
	Amount    decimal.Decimal
	ExpiresAt time.Time
}

// Negotiation is the seller's post-close decision. The zero value is Pending,
// and a counter offer only exists when the kind is counter_offered.
type Negotiation struct {
	kind  DecisionKind
	offer CounterOffer
}

func PendingNegotiation() Negotiation {
	return Negotiation{kind: DecisionPending}
}

func AcceptedNegotiation() Negotiation {
	return Negotiation{kind: DecisionAccepted}
}

func RejectedNegotiation() Negotiation {
	return Negotiation{kind: DecisionRejected}
}

func CounterOfferedNegotiation(amount decimal.Decimal, expiresAt time.Time) Negotiation {
	return Negotiation{
		kind:  DecisionCounterOffered,
		offer: CounterOffer{Amount: amount, ExpiresAt: expiresAt},
	}
}

// RestoreNegotiation rebuilds the variant from persisted columns and refuses
// combinations the variant cannot express.
func RestoreNegotiation(kind string, amount *decimal.Decimal, expiresAt *time.Time) (Negotiation, error) {
	switch DecisionKind(kind) {
	case "", DecisionPending, DecisionAccepted, DecisionRejected:
		if amount != nil || expiresAt != nil {
			return Negotiation{}, errors.Newf("decision %q cannot carry a counter offer", kind)
		}
		if kind == "" {
			return PendingNegotiation(), nil
		}
		return Negotiation{kind: DecisionKind(kind)}, nil
	case DecisionCounterOffered:
		if amount == nil || expiresAt == nil {
			return Negotiation{}, errors.New("counter offer requires amount and expiry")
		}
		return CounterOfferedNegotiation(*amount, *expiresAt), nil
	}
	return Negotiation{}, errors.Newf("unknown seller decision %q", kind)
}

func (n Negotiation) Kind() DecisionKind {
	if n.kind == "" {
		return DecisionPending
	}
	return n.kind
}

func (n Negotiation) IsPending() bool {
	return n.Kind() == DecisionPending
}

func (n Negotiation) CounterOffer() (CounterOffer, bool) {
	if n.kind != DecisionCounterOffered {
		return CounterOffer{}, false
	}
	return n.offer, true
}

// EffectiveAt treats an unanswered counter offer past its expiry as rejected.
func (n Negotiation) EffectiveAt(now time.Time) DecisionKind {
	if offer, ok := n.CounterOffer(); ok && !now.Before(offer.ExpiresAt) {
		return DecisionRejected
	}
	return n.Kind()
}

func (n Negotiation) String() string {
	if offer, ok := n.CounterOffer(); ok {
		return fmt.Sprintf("%s(%s until %s)", n.kind, offer.Amount, offer.ExpiresAt.Format(time.RFC3339))
	}
	return string(n.Kind())
}
