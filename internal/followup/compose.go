package followup

import (
	"fmt"
	"strings"

	"github.com/ashureev/campus-companion/internal/domain"
)

const genericCheckIn = "Hey, just checking in. How are you doing since we last talked?"

// Compose picks the check-in text by priority: goal, topic, weather, generic.
// Any candidate the checker flags is skipped.
func Compose(mem domain.Memory, weather string, checker CrisisChecker) string {
	safe := func(s string) bool {
		return strings.TrimSpace(s) != "" && !checker.IsCrisis(s)
	}

	switch {
	case safe(mem.LastGoal):
		return fmt.Sprintf("Hey! Earlier you said you were working on this: \"%s\". How did that go?", strings.TrimSpace(mem.LastGoal))
	case safe(mem.LastTopic):
		return fmt.Sprintf("Thinking about what you shared earlier (\"%s\"). How are you feeling about it now?", strings.TrimSpace(mem.LastTopic))
	case safe(weather):
		return fmt.Sprintf("Checking in! Looks like it's %s out there. How's your day going?", strings.ToLower(strings.TrimSpace(weather)))
	default:
		return genericCheckIn
	}
}
