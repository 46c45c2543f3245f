package interfaces

import (
	"context"

	"codepair/pkg/types"
)

// ResponseProvider produces AI participant replies. Given the transcript so
// far it returns the next message to attribute to the "ai" sender. Calls may
// be slow; callers run them off the routing hot path.
type ResponseProvider interface {
	Reply(ctx context.Context, transcript []types.TranscriptEntry) (string, error)
}
