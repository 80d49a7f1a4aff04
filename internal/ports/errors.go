package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Pipeline Errors
	ErrInvalidGranularity   = errors.New("invalid granularity")
	ErrCapacityExceeded     = errors.New("series capacity exceeded")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrOutOfOrderBar        = errors.New("bar is older than the last bar in the series")
	ErrInvalidPeriods       = errors.New("short period must be positive and below the long period")
	ErrHandlerNotRegistered = errors.New("no handler registered under that name")

	// Broker Specific Errors
	ErrBrokerRequestFailed  = errors.New("broker request failed")
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API credentials)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrPositionNotFound     = errors.New("position not found on the broker")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrStreamClosed         = errors.New("market data stream closed")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
