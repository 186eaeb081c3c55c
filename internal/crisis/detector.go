// Package crisis implements the crisis gate run on every user message.
package crisis

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPatterns covers direct statements of suicidal ideation, self-harm and
// hopelessness. The list favors recall: a false positive costs one extra supportive turn.
var DefaultPatterns = []string{
	`\bsuicid(e|al)\b`,
	`\bkill(ing)?\s+my\s*self\b`,
	`\bwant(s|ed|ing)?\s+to\s+die\b`,
	`\bwanna\s+die\b`,
	`\bend\s+(it\s+all|my\s+life)\b`,
	`\bend\s+it\b`,
	`\btake\s+my\s+(own\s+)?life\b`,
	`\bself[\s-]?harm(ing)?\b`,
	`\b(hurt|harm|cut|cutting)\s+my\s*self\b`,
	`\bcan'?t\s+go\s+on\b`,
	`\bcannot\s+go\s+on\b`,
	`\bcan\s+not\s+go\s+on\b`,
	`\bno\s+reason\s+to\s+(live|go\s+on)\b`,
	`\bnothing\s+to\s+live\s+for\b`,
	`\bbetter\s+off\s+dead\b`,
	`\bwish\s+(i\s+)?(was|were)\s+dead\b`,
	`\b(everyone|they|people)\s+would\s+be\s+better\s+off\s+without\s+me\b`,
	`\bdon'?t\s+want\s+to\s+(be\s+here|live|exist)(\s+anymore)?\b`,
	`\bhopeless(ness|ly)?\b`,
	`\bkms\b`,
	`\bno\s+way\s+out\b`,
	`\bover\s*dose\b`,
}

// Detector matches free text against a fixed list of compiled patterns.
// A Detector is immutable after construction and safe for concurrent use.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles the default patterns plus any extras.
// Extras are appended; defaults are never removed.
func NewDetector(extra ...string) (*Detector, error) {
	all := make([]string, 0, len(DefaultPatterns)+len(extra))
	all = append(all, DefaultPatterns...)
	all = append(all, extra...)

	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile crisis pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Detector{patterns: compiled}, nil
}

var defaultDetector = mustDefault()

func mustDefault() *Detector {
	d, err := NewDetector()
	if err != nil {
		panic(err)
	}
	return d
}

// Default returns a detector built from DefaultPatterns only.
func Default() *Detector {
	return defaultDetector
}

// IsCrisis reports whether text contains any crisis phrase.
func (d *Detector) IsCrisis(text string) bool {
	if text == "" {
		return false
	}
	normalized := normalize(text)
	for _, re := range d.patterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// normalize folds typographic apostrophes so "can’t" matches "can't".
func normalize(text string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(text)
}

// SupportMessage is sent instead of any other reply when a crisis signal is
// seen before a support flow can take over.
const SupportMessage = "I'm really glad you told me, and I'm worried about how you're feeling. You don't have to go through this alone. " +
	"If you're in the US you can call or text 988 to reach the Suicide & Crisis Lifeline any time, or text HOME to 741741. " +
	"If you're in immediate danger, please call 911 or go to the nearest emergency room. I'm here to keep talking with you too."
