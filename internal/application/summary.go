package application

import (
	"fmt"
	"strings"

	"robobuddy/internal/domain"
)

// SummaryInstruction is the system prompt for summarizer backends.
const SummaryInstruction = `You keep RoboBuddy's memory of its operator.
Merge the previous memory with the new conversation into at most three short sentences
about the operator and anything RoboBuddy promised to follow up on.
Reply with the memory text only.`

// FormatConversation renders the summarizer input: the previous memory
// followed by one "role: text" line per transcript entry.
func FormatConversation(previous string, transcript []domain.TranscriptEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous memory: %s\n\nConversation:\n", previous)
	for _, e := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}
