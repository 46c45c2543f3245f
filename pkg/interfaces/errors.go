package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrDocumentNotFound = errors.New("no document stored for session")
)
