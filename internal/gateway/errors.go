package gateway

import "errors"

// Sentinel errors for gateway failure modes. Authentication failures close the socket; room failures are reported
// with an error frame and leave the socket open.
var (
	ErrNotAuthenticated     = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthTimeout          = errors.New("authentication grace period exceeded")
	ErrInvalidRoomName      = errors.New("invalid room name")
	ErrForbiddenRoom        = errors.New("room access denied")
)
