package domain

import "errors"

var (
	// ErrInvalidFormat rejects room codes that are not 11 digits.
	ErrInvalidFormat = errors.New("invalid room code format")
	// ErrOutOfRange rejects numeric room ids outside [1, 4294967294].
	ErrOutOfRange = errors.New("room id out of range")
	// ErrAuthentication means no valid credential is available for a join.
	ErrAuthentication = errors.New("no valid credential")
	// ErrRoomNotFound means an operation was attempted on a room that is
	// not in the joined state.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPermissionDenied means media device access was refused. Never
	// fatal: it downgrades capability flags.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrNetwork wraps roster/credential fetch failures. Retry is caller
	// policy, the core never retries on its own.
	ErrNetwork = errors.New("backend request failed")
	// ErrStreamBindTimeout means a video sink never appeared within the
	// bounded retry budget. Recoverable by a later availability event.
	ErrStreamBindTimeout = errors.New("stream sink never appeared")
)
