package client

import "errors"

// Reconciler error types
var (
	ErrAlreadyStarted   = errors.New("reconciler already started")
	ErrAttachRejected   = errors.New("attach rejected by server")
	ErrInvalidServerURL = errors.New("invalid server URL")
)
