// Package onboarding drives the fixed handshake that precedes any playbook.
package onboarding

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ashureev/campus-companion/internal/domain"
)

// Step is a state of the onboarding handshake.
type Step int

const (
	StepName Step = iota
	StepVibe
	StepHandshake
	StepReady
)

func (s Step) String() string {
	switch s {
	case StepName:
		return "name"
	case StepVibe:
		return "vibe"
	case StepHandshake:
		return "handshake"
	case StepReady:
		return "ready"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Drinks recognized by the handshake question.
const (
	DrinkCoffee  = "coffee"
	DrinkTea     = "tea"
	DrinkNatural = "naturally caffeinated"
)

// Outcome is the result of feeding one reply into the machine.
type Outcome struct {
	Profile domain.Profile
	Step    Step
	Reply   string
	// Advanced is false when the reply was rejected and the prompt repeated.
	Advanced bool
}

// StepFor derives the current step from a persisted profile. Only a completed
// profile maps to StepReady; partial profiles resume at the first missing field.
func StepFor(p domain.Profile) Step {
	switch {
	case p.OnboardingComplete:
		return StepReady
	case p.Name == "":
		return StepName
	case p.Vibe == "":
		return StepVibe
	default:
		return StepHandshake
	}
}

// Greeting is the cold-start placeholder shown before the first reply.
func Greeting() string {
	return "Hey there! I'm your campus companion, here to listen and help you figure things out. What should I call you?"
}

// Prompt is the assistant line that opens step for p. Used on cold start and
// when a partially onboarded profile resumes.
func Prompt(p domain.Profile, step Step) string {
	switch step {
	case StepVibe:
		return vibePrompt(p.Name)
	case StepHandshake:
		return handshakePrompt(p.Vibe)
	case StepReady:
		if p.Name == "" {
			return "Welcome back! What's on your mind today?"
		}
		return fmt.Sprintf("Welcome back, %s! What's on your mind today?", p.Name)
	default:
		return Greeting()
	}
}

// Advance applies one reply to the profile. It is total: every step yields a
// defined outcome, and StepReady is terminal.
func Advance(p domain.Profile, step Step, text string) Outcome {
	switch step {
	case StepName:
		name := NormalizeName(text)
		if name == "" {
			return Outcome{Profile: p, Step: StepName, Reply: "Sorry, I didn't catch that. What name should I use for you?"}
		}
		p.Name = name
		return Outcome{Profile: p, Step: StepVibe, Reply: vibePrompt(name), Advanced: true}
	case StepVibe:
		p.Vibe = ClassifyVibe(text)
		return Outcome{Profile: p, Step: StepHandshake, Reply: handshakePrompt(p.Vibe), Advanced: true}
	case StepHandshake:
		p.Drink = ClassifyDrink(text)
		p.OnboardingComplete = true
		return Outcome{Profile: p, Step: StepReady, Reply: readyPrompt(p), Advanced: true}
	default:
		return Outcome{Profile: p, Step: StepReady}
	}
}

// NormalizeName keeps letters, spaces, hyphens and apostrophes, takes the first
// token and capitalizes it.
func NormalizeName(text string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			b.WriteRune(r)
		}
	}
	fields := strings.Fields(b.String())
	if len(fields) == 0 {
		return ""
	}
	token := strings.Trim(fields[0], "-'")
	if token == "" {
		return ""
	}
	runes := []rune(token)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// ClassifyVibe maps a free-text answer onto a vibe by keyword.
func ClassifyVibe(text string) domain.Vibe {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "joke", "fun", "playful"):
		return domain.VibeJokester
	case containsAny(lower, "tea", "cozy", "warm", "blanket"):
		return domain.VibeCozy
	default:
		return domain.VibeBalanced
	}
}

// ClassifyDrink recognizes the three known answers and keeps anything else verbatim.
func ClassifyDrink(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "coffee"):
		return DrinkCoffee
	case strings.Contains(lower, "naturally") || strings.Contains(lower, "natural"):
		return DrinkNatural
	case strings.Contains(lower, "tea"):
		return DrinkTea
	default:
		return trimmed
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func vibePrompt(name string) string {
	return fmt.Sprintf("Nice to meet you, %s! What kind of vibe do you want from me? Playful with some jokes, cozy and warm, or somewhere balanced in between?", name)
}

func handshakePrompt(v domain.Vibe) string {
	switch v {
	case domain.VibeJokester:
		return "Playful it is, I'll bring the bad puns. Important question: coffee, tea, or naturally caffeinated?"
	case domain.VibeCozy:
		return "Cozy mode on, blankets ready. Before we settle in: coffee, tea, or naturally caffeinated?"
	default:
		return "Balanced, got it. One last icebreaker: coffee, tea, or naturally caffeinated?"
	}
}

func readyPrompt(p domain.Profile) string {
	drink := p.Drink
	if drink == "" {
		drink = "whatever you're sipping"
	}
	return fmt.Sprintf("Perfect, %s and %s it is. I'm here whenever you want to talk. What's on your mind today?", p.Name, drink)
}
