// Package memory derives the rolling companion memory from user messages.
package memory

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/campus-companion/internal/domain"
)

const (
	// MinSignalLength is the shortest trimmed message that updates topic or goal.
	MinSignalLength = 6
	// MaxTopicLength bounds LastTopic, ellipsis included.
	MaxTopicLength = 140
	// MaxGoalLength bounds LastGoal.
	MaxGoalLength = 120
)

// goalPhrases introduce an intent; everything after the first match is the goal.
var goalPhrases = []string{
	"i need to",
	"i want to",
	"i'm trying to",
	"i have to",
	"i'm nervous about",
	"i'm excited about",
}

// Derive computes the memory update for one completed user turn.
// Crisis-flagged text only refreshes the interaction timestamp.
func Derive(text string, now time.Time, isCrisis bool) domain.MemoryUpdate {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < MinSignalLength {
		return domain.MemoryUpdate{}
	}

	ts := now
	if isCrisis {
		return domain.MemoryUpdate{LastInteractionAt: &ts}
	}

	update := domain.MemoryUpdate{LastInteractionAt: &ts}
	topic := Truncate(trimmed, MaxTopicLength)
	update.LastTopic = &topic
	if goal := extractGoal(trimmed); goal != "" {
		update.LastGoal = &goal
	}
	return update
}

func extractGoal(text string) string {
	lower := strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))

	best := -1
	var phraseLen int
	for _, phrase := range goalPhrases {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			phraseLen = len(phrase)
		}
	}
	if best < 0 {
		return ""
	}

	// Lowercasing and apostrophe folding can shift byte offsets for non-ASCII
	// input, so slice the folded copy's rune view back onto the original.
	runesLower := []rune(lower)
	runesOrig := []rune(text)
	start := utf8.RuneCountInString(lower[:best+phraseLen])
	if len(runesLower) != len(runesOrig) || start > len(runesOrig) {
		return ""
	}

	goal := strings.TrimSpace(string(runesOrig[start:]))
	goal = strings.TrimRight(goal, ".!?,;: ")
	if goal == "" {
		return ""
	}
	if r := []rune(goal); len(r) > MaxGoalLength {
		goal = strings.TrimSpace(string(r[:MaxGoalLength]))
	}
	return goal
}

// Truncate shortens s to at most limit runes, ending with an ellipsis when cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
