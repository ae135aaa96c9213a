package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/caboose/internal/models"
)

const systemPrompt = `You review stalled sales conversations on WhatsApp and decide whether an automated follow-up should be sent.
Reply with a single JSON object and nothing else:
{"should_send": bool, "message": string or null, "reasoning": string, "sentiment": "positive"|"neutral"|"negative", "urgency": "low"|"medium"|"high"}
Set should_send to false only when the lead clearly asked to stop, said they are not interested, or the conversation is already concluded.
Set message to null to use the standard follow-up text. When you write a message, keep it short, friendly, in the language of the conversation, and do not repeat earlier follow-ups.`

// buildPrompt renders the conversation context for one decision.
func buildPrompt(in Input) string {
	var b strings.Builder

	b.WriteString("## Lead\n")
	name := in.LeadName
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(&b, "- Name: %s\n", name)
	if in.FunnelStage != "" {
		fmt.Fprintf(&b, "- Funnel stage: %s\n", in.FunnelStage)
	}
	if !in.LastInteractionAt.IsZero() {
		fmt.Fprintf(&b, "- Last interaction: %s\n", in.LastInteractionAt.Format(time.RFC3339))
	}
	if in.MaxAttempts > 0 {
		fmt.Fprintf(&b, "- Follow-up attempt: %d of %d\n", in.Attempt, in.MaxAttempts)
	} else {
		fmt.Fprintf(&b, "- Follow-up attempt: %d\n", in.Attempt)
	}

	if len(in.Transcript) > 0 {
		b.WriteString("\n## Recent conversation (oldest first)\n")
		for _, t := range in.Transcript {
			who := "Assistant"
			if t.Role == models.RoleUser {
				who = "Lead"
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", t.At.Format("2006-01-02 15:04"), who, strings.TrimSpace(t.Content))
		}
	}

	if in.LastMessage != "" {
		b.WriteString("\n## Last message\n")
		b.WriteString(strings.TrimSpace(in.LastMessage))
		b.WriteString("\n")
	}

	b.WriteString("\nDecide now.\n")
	return b.String()
}
