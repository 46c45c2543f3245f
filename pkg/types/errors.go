package types

import "errors"

var (
	ErrInvalidSessionID   = errors.New("session id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole        = errors.New("role must be 'candidate' or 'interviewer'")
	ErrInvalidMessageKind = errors.New("invalid message kind")
	ErrInvalidLanguageTag = errors.New("unsupported language tag")
	ErrEmptyContent       = errors.New("chat content cannot be empty")
	ErrContentTooLarge    = errors.New("content exceeds size limit")
)
