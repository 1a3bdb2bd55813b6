package types

import "strings"

// MemoryType categorises a memory. The set is open: values outside the
// known list are kept as-is and fall back to MemoryTypeOther wherever a
// category is required.
type MemoryType string

const (
	MemoryTypeNarration       MemoryType = "narration"
	MemoryTypePlayerAction    MemoryType = "player_action"
	MemoryTypeNPCInteraction  MemoryType = "npc_interaction"
	MemoryTypeCombatEvent     MemoryType = "combat_event"
	MemoryTypeLocation        MemoryType = "location"
	MemoryTypePlotPoint       MemoryType = "plot_point"
	MemoryTypeItemEvent       MemoryType = "item_event"
	MemoryTypeLore            MemoryType = "lore"
	MemoryTypeContextEntry    MemoryType = "context_entry"
	MemoryTypeCharacterMoment MemoryType = "character_moment"
	MemoryTypeOther           MemoryType = "other"
)

// AllMemoryTypes returns all known memory types
func AllMemoryTypes() []MemoryType {
	return []MemoryType{
		MemoryTypeNarration,
		MemoryTypePlayerAction,
		MemoryTypeNPCInteraction,
		MemoryTypeCombatEvent,
		MemoryTypeLocation,
		MemoryTypePlotPoint,
		MemoryTypeItemEvent,
		MemoryTypeLore,
		MemoryTypeContextEntry,
		MemoryTypeCharacterMoment,
		MemoryTypeOther,
	}
}

// ParseMemoryType normalises s. Empty input becomes MemoryTypeOther,
// unknown values are accepted unchanged.
func ParseMemoryType(s string) MemoryType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return MemoryTypeOther
	}
	return MemoryType(s)
}

// IsKnown reports whether t is one of the known memory types
func (t MemoryType) IsKnown() bool {
	_, ok := memoryTypeDisplay[t]
	return ok
}

// Category returns t when it is known and MemoryTypeOther otherwise
func (t MemoryType) Category() MemoryType {
	if t.IsKnown() {
		return t
	}
	return MemoryTypeOther
}

// String returns the string representation of the memory type
func (t MemoryType) String() string {
	return string(t)
}

// MemoryTypeDisplay holds presentation metadata for a memory type
type MemoryTypeDisplay struct {
	Label string
	Icon  string
	Color string
}

var memoryTypeDisplay = map[MemoryType]MemoryTypeDisplay{
	MemoryTypeNarration:       {Label: "Narration", Icon: "📜", Color: "blue"},
	MemoryTypePlayerAction:    {Label: "Player Action", Icon: "🎲", Color: "green"},
	MemoryTypeNPCInteraction:  {Label: "NPC Interaction", Icon: "🗣", Color: "cyan"},
	MemoryTypeCombatEvent:     {Label: "Combat", Icon: "⚔", Color: "red"},
	MemoryTypeLocation:        {Label: "Location", Icon: "🗺", Color: "yellow"},
	MemoryTypePlotPoint:       {Label: "Plot Point", Icon: "⭐", Color: "magenta"},
	MemoryTypeItemEvent:       {Label: "Item", Icon: "💎", Color: "yellow"},
	MemoryTypeLore:            {Label: "Lore", Icon: "📖", Color: "magenta"},
	MemoryTypeContextEntry:    {Label: "Context", Icon: "📌", Color: "white"},
	MemoryTypeCharacterMoment: {Label: "Character Moment", Icon: "🎭", Color: "cyan"},
	MemoryTypeOther:           {Label: "Other", Icon: "•", Color: "white"},
}

// Display returns presentation metadata for t, using the MemoryTypeOther
// entry for unknown types
func (t MemoryType) Display() MemoryTypeDisplay {
	return memoryTypeDisplay[t.Category()]
}
