package ai

import (
	"context"
	"sync"

	"codepair/pkg/types"
)

// defaultScript keeps interviews moving when no external provider is
// configured.
var defaultScript = []string{
	"Can you walk me through your approach before you code it?",
	"What is the time complexity of what you have so far?",
	"Is there an edge case this doesn't handle yet?",
	"How would you test this?",
	"Good. Anything you would refactor if you had more time?",
}

// ScriptedProvider is a deterministic ResponseProvider that cycles through
// a fixed list of prompts. Used as the default wiring and in tests.
type ScriptedProvider struct {
	mu      sync.Mutex
	replies []string
	next    int
}

// NewScriptedProvider creates a provider over the given replies, falling
// back to the built-in script when none are given.
func NewScriptedProvider(replies ...string) *ScriptedProvider {
	if len(replies) == 0 {
		replies = defaultScript
	}
	return &ScriptedProvider{replies: replies}
}

// Reply returns the next scripted prompt, ignoring transcript content.
func (p *ScriptedProvider) Reply(ctx context.Context, transcript []types.TranscriptEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reply := p.replies[p.next%len(p.replies)]
	p.next++
	return reply, nil
}
