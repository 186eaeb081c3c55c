package playbook

import "github.com/ashureev/campus-companion/internal/domain"

// ChipAction says what tapping a chip does.
type ChipAction string

const (
	// ChipSend sends the chip's message as if the student typed it.
	ChipSend ChipAction = "send"
	// ChipReset resets the playbook without sending anything.
	ChipReset ChipAction = "reset"
)

// Chip is a quick-reply affordance.
type Chip struct {
	ID      string     `json:"id"`
	Label   string     `json:"label"`
	Message string     `json:"message,omitempty"`
	Action  ChipAction `json:"action"`
}

var chipsByStage = map[domain.Stage][]Chip{
	domain.StageVent: {
		{ID: "academics", Label: "Academics", Message: "It's mostly academics.", Action: ChipSend},
		{ID: "personal", Label: "Personal stuff", Message: "It's more personal stuff.", Action: ChipSend},
		{ID: "everything", Label: "Honestly, everything", Message: "Honestly, it's everything.", Action: ChipSend},
	},
	domain.StageTriage: {
		{ID: "mini-plan-today", Label: "Mini plan for today", Message: "Can we make a mini plan for today?", Action: ChipSend},
		{ID: "mini-plan-week", Label: "Mini plan for the week", Message: "Can we make a mini plan for this week?", Action: ChipSend},
		{ID: "one-step", Label: "Just one step", Message: "Just give me one small step.", Action: ChipSend},
	},
	domain.StagePlan: {
		{ID: "another-step", Label: "Another step", Message: "What's another step I could take?", Action: ChipSend},
		{ID: "resources", Label: "Show resources", Message: "Can you show me some resources?", Action: ChipSend},
		{ID: "reset", Label: "Start over", Action: ChipReset},
	},
}

// ChipsFor returns the chips offered at stage. Unknown stages offer none.
func ChipsFor(stage domain.Stage) []Chip {
	chips := chipsByStage[stage]
	if len(chips) == 0 {
		return nil
	}
	out := make([]Chip, len(chips))
	copy(out, chips)
	return out
}

// FindChip looks up a chip offered at stage.
func FindChip(stage domain.Stage, id string) (Chip, bool) {
	for _, c := range chipsByStage[stage] {
		if c.ID == id {
			return c, true
		}
	}
	return Chip{}, false
}
