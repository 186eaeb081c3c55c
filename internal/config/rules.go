package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rules are operator overrides loaded from RULES_FILE.
//
//	crisis_patterns:
//	  - '\bi give up on everything\b'
//	followup_delay: 2h
type Rules struct {
	CrisisPatterns []string `yaml:"crisis_patterns"`
	FollowUpDelay  string   `yaml:"followup_delay"`
}

// LoadRules reads path. An empty path yields empty rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if _, err := r.Delay(0); err != nil {
		return nil, err
	}
	return &r, nil
}

// Delay returns the follow-up delay override, or fallback when unset.
func (r *Rules) Delay(fallback time.Duration) (time.Duration, error) {
	if r.FollowUpDelay == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(r.FollowUpDelay)
	if err != nil {
		return 0, fmt.Errorf("followup_delay: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("followup_delay must be > 0, got %s", d)
	}
	return d, nil
}
