package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNotParty       = errors.New("caller is not a designated party")
	ErrLegFunded      = errors.New("leg already funded")
	ErrAlreadySettled = errors.New("bet already settled")
	ErrBetActive      = errors.New("bet already activated")
	ErrStillPending   = errors.New("bet not activated")
	ErrWindowOpen     = errors.New("settlement window not elapsed")
	ErrTransferFailed = errors.New("asset transfer failed")
	ErrBadPrice       = errors.New("oracle price unusable")
	ErrLockHeld       = errors.New("lock already held")
	ErrRateLimited    = errors.New("rate limited")
)

// IsStateConflict reports whether err belongs to the state-conflict family:
// the requested action is invalid for the bet's current lifecycle state.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrLegFunded) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrBetActive) ||
		errors.Is(err, ErrStillPending) ||
		errors.Is(err, ErrWindowOpen)
}
