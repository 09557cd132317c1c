package domain

import (
	"context"
	"errors"
)

// Validation errors: the request itself is wrong.
var (
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrUnknownParty         = errors.New("unknown party")
	ErrInvalidAction        = errors.New("invalid action")
	ErrOwnOffer             = errors.New("cannot accept your own offer")
	ErrAwaitingCounterparty = errors.New("requester cannot counter before the counterparty has made an offer")
	ErrTooLow               = errors.New("bid is below the minimum next bid")
	ErrTooHigh              = errors.New("bid is above the maximum bid")
	ErrNotStarted           = errors.New("auction has not started")
)

// State-conflict errors: the caller's view is out of date and should be
// re-fetched before deciding what to do.
var (
	ErrStaleChain       = errors.New("chain already accepted")
	ErrChainClosed      = errors.New("deal is already closed")
	ErrOfferSuperseded  = errors.New("a newer offer from the same party exists")
	ErrOfferNotPending  = errors.New("offer is no longer pending")
	ErrAuctionClosed    = errors.New("auction is closed")
	ErrConcurrentUpdate = errors.New("chain was modified concurrently")
	ErrChainExists      = errors.New("chain already exists")
)

var (
	ErrChainNotFound   = errors.New("chain not found")
	ErrOfferNotFound   = errors.New("offer not found")
	ErrListingNotFound = errors.New("listing not found")
)

// Transport errors: a collaborator could not be reached or did not answer.
var (
	ErrUnavailable    = errors.New("collaborator unavailable")
	ErrOutcomeUnknown = errors.New("write outcome unknown")
	ErrLockTimeout    = errors.New("timed out waiting for chain lock")
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindStateConflict
	KindNotFound
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the same call with backoff.
func (k ErrorKind) Retryable() bool {
	return k == KindTransport
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidPrice, KindValidation},
	{ErrUnknownParty, KindValidation},
	{ErrInvalidAction, KindValidation},
	{ErrOwnOffer, KindValidation},
	{ErrAwaitingCounterparty, KindValidation},
	{ErrTooLow, KindValidation},
	{ErrTooHigh, KindValidation},
	{ErrNotStarted, KindValidation},
	{ErrStaleChain, KindStateConflict},
	{ErrChainClosed, KindStateConflict},
	{ErrOfferSuperseded, KindStateConflict},
	{ErrOfferNotPending, KindStateConflict},
	{ErrAuctionClosed, KindStateConflict},
	{ErrConcurrentUpdate, KindStateConflict},
	{ErrChainExists, KindStateConflict},
	{ErrChainNotFound, KindNotFound},
	{ErrOfferNotFound, KindNotFound},
	{ErrListingNotFound, KindNotFound},
	{ErrUnavailable, KindTransport},
	{ErrOutcomeUnknown, KindTransport},
	{ErrLockTimeout, KindTransport},
	{context.DeadlineExceeded, KindTransport},
	{context.Canceled, KindTransport},
}

// KindOf classifies err. The first matching sentinel wins, so a wrapped
// validation error stays a validation error even if it also wraps a
// transport cause.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}

// IsAmbiguous reports whether a failed write may still have been applied.
func IsAmbiguous(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnavailable)
}
