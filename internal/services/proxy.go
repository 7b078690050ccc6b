package services

import (
	"time"

	"auction-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// proxyOutcome lists the bids to insert, in order, for one submission. The
// last entry is the winner.
type proxyOutcome struct {
	bids      []*domain.Bid
	escalated bool
}

func (o proxyOutcome) winner() *domain.Bid {
	return o.bids[len(o.bids)-1]
}

// resolveProxy settles the exchange between the standing winner and a new
// challenger when either holds a ceiling. Both sides alternately raise by one
// increment until one cannot afford the next step:
//
//	x_k = x_0 + k*increment, defender bids odd k, challenger bids even k.
//
// The defender drops out at the first odd k with x_k above its ceiling and the
// challenger at the first even k with x_k above its own. Only the loser's last
// affordable bid and the winner's final bid are recorded.
func resolveProxy(defender, challenger *domain.Bid, increment decimal.Decimal, now time.Time) proxyOutcome {
	out := proxyOutcome{bids: []*domain.Bid{challenger}}

	if defender == nil || defender.BidderID == challenger.BidderID || defender.MaxAmount == nil {
		return out
	}

	x0 := challenger.Amount
	defenderCeiling := defender.Ceiling()
	if defenderCeiling.LessThan(x0.Add(increment)) {
		return out
	}

	kD := steps(defenderCeiling, x0, increment)
	kC := steps(challenger.Ceiling(), x0, increment)

	stop := firstOddAbove(kD)
	if s := firstEvenAbove(kC); s < stop {
		stop = s
	}

	at := func(k int64) decimal.Decimal {
		return x0.Add(increment.Mul(decimal.NewFromInt(k)))
	}
	standing := func(owner *domain.Bid, k int64) *domain.Bid {
		return &domain.Bid{
			BidderID:  owner.BidderID,
			Amount:    at(k),
			MaxAmount: ceilingOf(owner),
			Type:      domain.BidProxy,
			Source:    domain.SourceEngine,
			PlacedAt:  now,
		}
	}
	ownerOf := func(k int64) *domain.Bid {
		if k%2 == 1 {
			return defender
		}
		return challenger
	}

	if loser := stop - 2; loser >= 1 {
		out.bids = append(out.bids, standing(ownerOf(loser), loser))
	}
	if win := stop - 1; win >= 1 {
		out.bids = append(out.bids, standing(ownerOf(win), win))
	}
	out.escalated = len(out.bids) > 1
	return out
}

// steps is how many whole increments above base the ceiling allows.
func steps(ceiling, base, increment decimal.Decimal) int64 {
	if ceiling.LessThan(base) {
		return 0
	}
	return ceiling.Sub(base).Div(increment).Floor().IntPart()
}

func firstOddAbove(k int64) int64 {
	if k%2 == 0 {
		return k + 1
	}
	return k + 2
}

func firstEvenAbove(k int64) int64 {
	if k < 1 {
		return 2
	}
	if k%2 == 1 {
		return k + 1
	}
	return k + 2
}

func ceilingOf(b *domain.Bid) *decimal.Decimal {
	if b.MaxAmount == nil {
		return nil
	}
	c := b.Ceiling()
	return &c
}
