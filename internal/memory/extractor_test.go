package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/campus-companion/internal/domain"
)

var now = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func TestDeriveIgnoresShortText(t *testing.T) {
	t.Parallel()

	update := Derive("  ok  ", now, false)
	assert.True(t, update.Empty())
}

func TestDeriveCrisisOnlyStampsTime(t *testing.T) {
	t.Parallel()

	update := Derive("I need to stop thinking I want to die", now, true)
	require.NotNil(t, update.LastInteractionAt)
	assert.Equal(t, now, *update.LastInteractionAt)
	assert.Nil(t, update.LastTopic)
	assert.Nil(t, update.LastGoal)
}

func TestDeriveExtractsGoal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		goal string
	}{
		{"Ugh, I need to talk to my advisor.", "talk to my advisor"},
		{"I'm nervous about my chem midterm!", "my chem midterm"},
		{"honestly I’m trying to sleep more", "sleep more"},
		{"I HAVE TO finish the lab report", "finish the lab report"},
		{"I want to call home but I need to study", "call home but I need to study"},
	}
	for _, tt := range tests {
		update := Derive(tt.text, now, false)
		require.NotNil(t, update.LastGoal, tt.text)
		assert.Equal(t, tt.goal, *update.LastGoal, tt.text)
		require.NotNil(t, update.LastTopic)
		assert.Equal(t, strings.TrimSpace(tt.text), *update.LastTopic)
	}
}

func TestDeriveWithoutGoalKeepsTopicOnly(t *testing.T) {
	t.Parallel()

	update := Derive("I'm feeling overwhelmed with school", now, false)
	require.NotNil(t, update.LastTopic)
	assert.Equal(t, "I'm feeling overwhelmed with school", *update.LastTopic)
	assert.Nil(t, update.LastGoal)
}

func TestDeriveBoundsLengths(t *testing.T) {
	t.Parallel()

	long := "I need to " + strings.Repeat("a", 300)
	update := Derive(long, now, false)

	require.NotNil(t, update.LastTopic)
	topic := []rune(*update.LastTopic)
	assert.LessOrEqual(t, len(topic), MaxTopicLength)
	assert.Equal(t, '…', topic[len(topic)-1])

	require.NotNil(t, update.LastGoal)
	assert.LessOrEqual(t, len([]rune(*update.LastGoal)), MaxGoalLength)
}

func TestMemoryApplyMergesPartialUpdate(t *testing.T) {
	t.Parallel()

	m := domain.Memory{LastTopic: "old topic", LastGoal: "old goal"}
	m = m.Apply(Derive("I'm feeling overwhelmed with school", now, false))

	assert.Equal(t, "I'm feeling overwhelmed with school", m.LastTopic)
	assert.Equal(t, "old goal", m.LastGoal)
	require.NotNil(t, m.LastInteractionAt)

	later := now.Add(time.Hour)
	m = m.Apply(Derive("I want to die", later, true))
	assert.Equal(t, "I'm feeling overwhelmed with school", m.LastTopic)
	assert.Equal(t, later, *m.LastInteractionAt)
}
