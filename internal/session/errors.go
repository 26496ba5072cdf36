package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound indicates the key does not name a live session.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTooManySessions indicates the store is at its configured capacity.
	ErrTooManySessions = errors.New("session: too many sessions")

	// ErrInvalidMessageID indicates an id that is not "d" followed by a
	// non-negative decimal integer.
	ErrInvalidMessageID = errors.New("session: invalid message id")

	// ErrMessageNotFound indicates a well-formed id that is out of range or
	// already deleted.
	ErrMessageNotFound = errors.New("session: message not found")

	// ErrNoPendingApproval indicates an approval answer for a session that
	// has no call waiting for one.
	ErrNoPendingApproval = errors.New("session: no pending approval")
)
