package status

import "errors"

var (
	ErrNotFound           = errors.New("store: document not found")
	ErrPreconditionFailed = errors.New("store: precondition failed")
	ErrTransientIO        = errors.New("store: transient io failure")

	ErrInvalidCode     = errors.New("checkin: invalid code")
	ErrCircuitOpen     = errors.New("checkin: circuit breaker is open")
	ErrTooManyRequests = errors.New("checkin: too many requests while circuit is half open")

	ErrFetchInFlight = errors.New("directory: fetch already in flight")
	ErrNoMorePages   = errors.New("directory: no more pages")
	ErrClosed        = errors.New("directory: closed")

	ErrSessionNotFound = errors.New("session: session not found")
	ErrInvalidInput    = errors.New("registry: invalid input")
)
