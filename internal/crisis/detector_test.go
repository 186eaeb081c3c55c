package crisis

import (
	"testing"
)

func TestIsCrisisMatchesPhrasesInSentences(t *testing.T) {
	t.Parallel()

	d := Default()
	cases := []string{
		"I've been thinking about suicide lately",
		"honestly I WANT TO DIE",
		"sometimes I want to kill myself",
		"I just can't go on like this",
		"I can’t go on anymore",
		"there's no reason to live",
		"I feel so hopeless about everything",
		"I started cutting myself again",
		"I've been having suicidal thoughts",
		"maybe everyone would be better off without me",
		"I don't want to be here anymore",
		"Self-harm feels like the only option",
		"I'm drowning in hopelessness",
		"I keep wanting to die",
		"I can not go on like this",
		"I wish I was dead",
		"sometimes I wish I were dead",
		"I want to end it",
		"i'm going to kms",
	}
	for _, text := range cases {
		if !d.IsCrisis(text) {
			t.Errorf("expected crisis for %q", text)
		}
	}
}

func TestIsCrisisIgnoresOrdinaryText(t *testing.T) {
	t.Parallel()

	d := Default()
	cases := []string{
		"I need to submit my essay",
		"I'm feeling overwhelmed with school",
		"the studio was killing it last night",
		"I want to dye my hair",
		"my hopes are high for this exam",
		"",
	}
	for _, text := range cases {
		if d.IsCrisis(text) {
			t.Errorf("did not expect crisis for %q", text)
		}
	}
}

func TestNewDetectorAppendsExtraPatterns(t *testing.T) {
	t.Parallel()

	d, err := NewDetector(`\bwalk\s+into\s+traffic\b`)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	if !d.IsCrisis("I thought about walking into traffic... no, walk into traffic") {
		t.Fatal("expected extra pattern to match")
	}
	if !d.IsCrisis("I want to die") {
		t.Fatal("expected default patterns to stay active")
	}
}

func TestNewDetectorRejectsInvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := NewDetector(`(unclosed`); err == nil {
		t.Fatal("expected compile error")
	}
}
