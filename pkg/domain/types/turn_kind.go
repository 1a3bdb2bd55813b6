package types

import (
	"fmt"
	"strings"
)

// TurnKind tells whether a gameplay turn was narrated or played
type TurnKind string

const (
	TurnKindNarration TurnKind = "narration"
	TurnKindAction    TurnKind = "action"
)

// AllTurnKinds returns all valid turn kinds
func AllTurnKinds() []TurnKind {
	return []TurnKind{
		TurnKindNarration,
		TurnKindAction,
	}
}

// IsValid checks if the turn kind is valid
func (k TurnKind) IsValid() bool {
	switch k {
	case TurnKindNarration,
		TurnKindAction:
		return true
	default:
		return false
	}
}

// Normalize returns the kind, treating empty as TurnKindNarration
func (k TurnKind) Normalize() TurnKind {
	if k == "" {
		return TurnKindNarration
	}
	return k
}

// FallbackMemoryType is the memory type used when no keyword classifies
// a turn of this kind
func (k TurnKind) FallbackMemoryType() MemoryType {
	if k.Normalize() == TurnKindAction {
		return MemoryTypePlayerAction
	}
	return MemoryTypeNarration
}

// String returns the string representation of the turn kind
func (k TurnKind) String() string {
	return string(k)
}

// ParseTurnKind parses a string into a TurnKind. Empty input is narration.
func ParseTurnKind(s string) (TurnKind, error) {
	kind := TurnKind(strings.ToLower(strings.TrimSpace(s))).Normalize()
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid turn kind: %s", s)
	}
	return kind, nil
}
