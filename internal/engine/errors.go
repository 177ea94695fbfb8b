package engine

import (
	"errors"

	"roomsync/internal/store"
)

// ErrConnectionLost is delivered to the fatal callback when the retry
// budget is exhausted. The UI maps it to a "connection lost, please
// refresh" state.
var ErrConnectionLost = errors.New("connection lost, please refresh")

// isTerminal reports whether a watch error must not be retried. Everything
// else (unavailable transport, closed streams, timeouts, unrecognized
// failures) is treated as transient; retrying is bounded by the attempt
// cap either way.
func isTerminal(err error) bool {
	return errors.Is(err, store.ErrPermissionDenied)
}
