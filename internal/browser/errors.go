package browser

import "errors"

// Sentinel errors returned by the session pool.
var (
	// ErrPoolExhausted indicates no session became available within the
	// bounded wait. Callers should treat this as retryable.
	ErrPoolExhausted = errors.New("browser pool exhausted")

	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("browser pool closed")

	// ErrSessionNotFound indicates a release for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrLoginFailed indicates the login flow did not reach a recognized
	// success state within the timeout.
	ErrLoginFailed = errors.New("login failed")
)
