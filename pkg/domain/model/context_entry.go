package model

import (
	"fmt"
	"strings"
	"time"
)

// ContextEntryID identifies an entry in the campaign context store
type ContextEntryID string

// ContextEntry is a pre-existing piece of campaign context (NPC sheet,
// location note, lore page) owned by an external context store.
type ContextEntry struct {
	ID         ContextEntryID
	CampaignID int64
	Kind       string
	Title      string
	Content    string
	Tags       []string
	UpdatedAt  time.Time
}

// SourceRef returns the stable source reference used to detect that the
// entry is already represented as a memory
func (e *ContextEntry) SourceRef() string {
	return ContextSourceRef(e.ID)
}

// MemoryText returns the text that is embedded for this entry
func (e *ContextEntry) MemoryText() string {
	title := strings.TrimSpace(e.Title)
	content := strings.TrimSpace(e.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	default:
		return fmt.Sprintf("%s: %s", title, content)
	}
}

// ContextSourceRef builds the source reference for a context entry
func ContextSourceRef(id ContextEntryID) string {
	return "context:" + string(id)
}

// TurnSourceRef builds the source reference for a gameplay turn event
func TurnSourceRef(sessionNumber, turnNumber *int, digest string) string {
	return fmt.Sprintf("turn:%s:%s:%s", optionalInt(sessionNumber), optionalInt(turnNumber), digest)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
