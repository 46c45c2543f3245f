package router

import "errors"

// Router-specific error types
var (
	ErrSessionNotFound   = errors.New("no live session for message")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
