package relay

import (
	"fmt"
	"strings"

	"github.com/amora-labs/amora/client/internal/model/profile"
)

// buildSystemPrompt renders the coach profile into the system instruction for
// the chat model.
func buildSystemPrompt(coach profile.CoachProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.\n\n", coach.Name, coach.Title)
	fmt.Fprintf(&b, "Tone: %s.\n", coach.Tone)
	if coach.Description != "" {
		fmt.Fprintf(&b, "About you: %s\n", coach.Description)
	}
	if len(coach.Specialties) > 0 {
		fmt.Fprintf(&b, "Your specialties: %s.\n", strings.Join(coach.Specialties, ", "))
	}
	if coach.PromptHint != "" {
		fmt.Fprintf(&b, "\nCoaching style: %s\n", coach.PromptHint)
	}

	b.WriteString("\nStay in character as a relationship coach. Keep replies focused on the ")
	b.WriteString("user's situation, ask at most one question per reply, and never give ")
	b.WriteString("medical or legal advice.")

	return b.String()
}
