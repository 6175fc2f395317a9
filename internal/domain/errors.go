package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrCycleInProgress = errors.New("resolution cycle already in progress")
	ErrSecretNotFound  = errors.New("secret not found")

	// Data errors.
	ErrPathResolution = errors.New("json path resolution failed")
	ErrTypeMismatch   = errors.New("value is not numeric")
	ErrFetch          = errors.New("metric fetch failed")
	ErrQuorum         = errors.New("consensus quorum not reached")

	// Report and chain errors.
	ErrEncoding        = errors.New("report encoding failed")
	ErrSigningFailed   = errors.New("signing failed")
	ErrUnknownChain    = errors.New("unknown chain")
	ErrDecode          = errors.New("contract response decode failed")
	ErrInvalidReceiver = errors.New("invalid report receiver")
	ErrInsufficientGas = errors.New("gas budget insufficient")
	ErrWriteRejected   = errors.New("report write rejected")
)
