package domain

import "errors"

var (
	// ErrFeedUnavailable marks an unreachable or malformed external price source.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	// ErrLedgerUnavailable marks a failed on-chain oracle read or write.
	ErrLedgerUnavailable = errors.New("oracle ledger unavailable")
	// ErrQuoteUnavailable marks a swap route that could not be priced.
	ErrQuoteUnavailable = errors.New("swap quote unavailable")
	// ErrExecutionFailed marks a swap submission that failed after a valid quote.
	ErrExecutionFailed = errors.New("swap execution failed")
	// ErrConfiguration marks a missing or invalid startup parameter.
	ErrConfiguration = errors.New("configuration error")
)
