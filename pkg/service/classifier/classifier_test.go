package classifier_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/service/classifier"
)

func TestClassifier_Classify(t *testing.T) {
	c, err := classifier.New()
	gt.NoError(t, err).Required()

	testCases := []struct {
		name     string
		text     string
		fallback types.MemoryType
		expected types.MemoryType
	}{
		{
			name:     "combat",
			text:     "The orc attacked with a rusty sword and the fight spilled into the road",
			fallback: types.MemoryTypeNarration,
			expected: types.MemoryTypeCombatEvent,
		},
		{
			name:     "npc interaction",
			text:     `The innkeeper whispers that the merchant said nothing`,
			fallback: types.MemoryTypeNarration,
			expected: types.MemoryTypeNPCInteraction,
		},
		{
			name:     "item",
			text:     "You pick up a glowing amulet and three gold coins",
			fallback: types.MemoryTypePlayerAction,
			expected: types.MemoryTypeItemEvent,
		},
		{
			name:     "location with plural",
			text:     "The party encountered a fierce red dragon in the mountains",
			fallback: types.MemoryTypeNarration,
			expected: types.MemoryTypeLocation,
		},
		{
			name:     "case insensitive",
			text:     "A PROPHECY foretold the QUEST",
			fallback: types.MemoryTypeNarration,
			expected: types.MemoryTypePlotPoint,
		},
		{
			name:     "no keyword uses fallback",
			text:     "I look around carefully",
			fallback: types.MemoryTypePlayerAction,
			expected: types.MemoryTypePlayerAction,
		},
		{
			name:     "keywords inside other words do not count",
			text:     "Bring the swordfish to the harbor",
			fallback: types.MemoryTypeNarration,
			expected: types.MemoryTypeNarration,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Value(t, c.Classify(tc.text, tc.fallback)).Equal(tc.expected)
		})
	}
}

func TestClassifier_TieUsesTypeOrder(t *testing.T) {
	c, err := classifier.New()
	gt.NoError(t, err).Required()

	// one combat keyword and one location keyword
	gt.Value(t, c.Classify("A battle at the gate", types.MemoryTypeNarration)).Equal(types.MemoryTypeCombatEvent)
}

func TestClassifier_WithKeywords(t *testing.T) {
	c, err := classifier.New(
		classifier.WithKeywords(types.MemoryTypeLore, "first age"),
	)
	gt.NoError(t, err).Required()

	scores := c.Scores("Songs of the First Age")
	gt.Value(t, scores[types.MemoryTypeLore]).Equal(1)
	gt.Value(t, c.Classify("Songs of the First Age", types.MemoryTypeNarration)).Equal(types.MemoryTypeLore)

	// the replaced list no longer knows the default lore words
	gt.Value(t, c.Classify("an ancient legend", types.MemoryTypeNarration)).Equal(types.MemoryTypeNarration)
}
