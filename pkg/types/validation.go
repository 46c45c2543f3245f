package types

import (
	"regexp"
)

// Size limits for inbound content. Code updates carry the whole document on
// every submit, so the limit is generous; chat messages are short by nature.
const (
	MaxCodeContentBytes = 256 * 1024
	MaxChatContentBytes = 16 * 1024
)

var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// languageTags is the set of candidate-selectable document languages.
var languageTags = map[string]bool{
	"javascript": true,
	"typescript": true,
	"python":     true,
	"go":         true,
	"java":       true,
	"c":          true,
	"cpp":        true,
	"csharp":     true,
	"ruby":       true,
	"rust":       true,
	"kotlin":     true,
	"swift":      true,
	"plaintext":  true,
}

// IsValidSessionID checks the interview id format. Malformed ids are
// rejected before any session state is touched.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidRole checks that a role is one of the two connection roles.
func IsValidRole(role string) bool {
	return role == RoleCandidate || role == RoleInterviewer
}

// IsValidLanguageTag checks that a language tag is in the supported set.
func IsValidLanguageTag(tag string) bool {
	return languageTags[tag]
}

// IsValidSender checks that a transcript sender is one of the two
// transcript-writing participants.
func IsValidSender(sender string) bool {
	return sender == SenderCandidate || sender == SenderAI
}

// Validate ensures an inbound frame is well formed. It does not check role
// permissions; those are a routing concern.
func (m *ClientMessage) Validate() error {
	switch m.Kind {
	case KindCodeUpdate:
		if len(m.Content) > MaxCodeContentBytes {
			return ErrContentTooLarge
		}
		if !IsValidLanguageTag(m.LanguageTag) {
			return ErrInvalidLanguageTag
		}
		return nil
	case KindChatMessage:
		if m.Content == "" {
			return ErrEmptyContent
		}
		if len(m.Content) > MaxChatContentBytes {
			return ErrContentTooLarge
		}
		return nil
	default:
		return ErrInvalidMessageKind
	}
}
