package playbook

import (
	"strings"

	"github.com/ashureev/campus-companion/internal/engine"
)

// FailureMessage is sent when the engine cannot be reached or rejects a request.
const FailureMessage = "I'm having trouble reaching my playbook engine right now. Mind trying again in a moment?"

// Assemble builds the assistant message for a reply: validation, then the
// triage question, then the bolded action title, then one bullet per action.
func Assemble(r *engine.Reply) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Validation))

	if q := strings.TrimSpace(r.TriageQuestion); q != "" {
		b.WriteString("\n\n")
		b.WriteString(q)
	}
	if title := strings.TrimSpace(r.ActionTitle); title != "" {
		b.WriteString("\n\n**")
		b.WriteString(title)
		b.WriteString("**")
	}
	for _, action := range r.Actions {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(action)
	}
	return strings.TrimLeft(b.String(), "\n")
}
