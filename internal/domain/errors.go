package domain

import (
	"github.com/cockroachdb/errors"
)

// Every failure the engine reports to callers is one of these, possibly
// wrapped with detail. Classify with errors.Is.
var (
	ErrNotFound            = errors.New("auction not found")
	ErrAuctionNotLive      = errors.New("auction is not in the required state")
	ErrBidTooLow           = errors.New("bid does not exceed the current highest bid")
	ErrBelowIncrement      = errors.New("bid is below the minimum increment")
	ErrInvalidProxyCeiling = errors.New("max bid amount is below the bid amount")
	ErrContention          = errors.New("auction is busy, retry later")
	ErrNoBids              = errors.New("auction has no bids")
	ErrAlreadyDecided      = errors.New("seller decision already made")
	ErrUnauthorized        = errors.New("caller is not allowed to act on this auction")
	ErrInvalidInput        = errors.New("invalid input")
)

type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindAuctionNotLive      ErrorKind = "auction_not_live"
	KindBidTooLow           ErrorKind = "bid_too_low"
	KindBelowIncrement      ErrorKind = "below_increment"
	KindInvalidProxyCeiling ErrorKind = "invalid_proxy_ceiling"
	KindContention          ErrorKind = "contention"
	KindNoBids              ErrorKind = "no_bids"
	KindAlreadyDecided      ErrorKind = "already_decided"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindInternal            ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrAuctionNotLive, KindAuctionNotLive},
	{ErrBidTooLow, KindBidTooLow},
	{ErrBelowIncrement, KindBelowIncrement},
	{ErrInvalidProxyCeiling, KindInvalidProxyCeiling},
	{ErrContention, KindContention},
	{ErrNoBids, KindNoBids},
	{ErrAlreadyDecided, KindAlreadyDecided},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidInput, KindInvalidInput},
}

// KindOf maps an error to its taxonomy kind; anything unclassified is internal.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable is true only for contention; every other failure is final for the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
