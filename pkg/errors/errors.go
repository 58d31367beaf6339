package apperrors

import "errors"

// Standardized errors, grouped by the failure taxonomy of the bot:
// backfill failures are fatal, decision failures skip one block, event
// refresh failures are logged and the loop continues.
var (
	ErrLedgerQuery      = errors.New("ledger query failed")
	ErrBackfill         = errors.New("origination backfill failed")
	ErrPriceUnavailable = errors.New("price lookup failed")
	ErrGasEstimate      = errors.New("gas estimation failed")
	ErrOverflow         = errors.New("arithmetic overflow")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrNotSynced        = errors.New("engine not synced")
	ErrNetwork          = errors.New("network error")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
