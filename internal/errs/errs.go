// Package errs defines the sentinel error taxonomy shared across the
// streaming pipeline. Components wrap one of these with fmt.Errorf's
// %w verb so callers can classify failures with errors.Is, the same
// convention the rest of this module uses for layered error context.
package errs

import "errors"

var (
	// ErrAuth marks an invalid or missing credential. Non-retriable;
	// terminal for the session.
	ErrAuth = errors.New("auth error")

	// ErrTransport marks a dial failure, read/write error, or
	// unexpected close. Retriable via backoff.
	ErrTransport = errors.New("transport error")

	// ErrProtocol marks a malformed frame or invalid field. The
	// offending frame is dropped; processing continues.
	ErrProtocol = errors.New("protocol error")

	// ErrSubscription marks a server-side error frame correlated to a
	// pending subscribe/update request.
	ErrSubscription = errors.New("subscription error")

	// ErrTimeout marks a confirmation or update deadline exceeded.
	ErrTimeout = errors.New("timeout error")

	// ErrValidation marks an event the normalizer rejected.
	ErrValidation = errors.New("validation error")

	// ErrSink marks a fan-out sink failure. Always logged and
	// swallowed; never propagated to other sinks or the publisher.
	ErrSink = errors.New("sink error")
)
