package session

import "errors"

// Session registry error types
var (
	ErrSessionNotLive = errors.New("session has no live state")
)
