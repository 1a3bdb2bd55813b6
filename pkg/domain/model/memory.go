package model

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

// MemoryID is a UUID-based identifier for Memory
type MemoryID string

// NewMemoryID generates a new UUID v4 MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// String returns the string representation of MemoryID
func (id MemoryID) String() string {
	return string(id)
}

const (
	maxTags      = 20
	maxTagLength = 32
)

// Memory is a persisted unit of campaign knowledge paired with its embedding.
// Everything except Importance is write-once; Importance is stored as a
// separate fact by repositories and joined on read.
type Memory struct {
	ID            MemoryID
	CampaignID    int64
	Type          types.MemoryType
	Content       string
	Summary       string
	Embedding     Embedding
	SessionNumber *int
	TurnNumber    *int
	Tags          []string
	Importance    types.Importance
	SourceRef     string // stable identity of the originating event, empty for manual additions
	CreatedAt     time.Time
}

// Validate checks the invariants a memory must satisfy before it is stored
func (m *Memory) Validate() error {
	if m.CampaignID <= 0 {
		return goerr.Wrap(ErrValidation, "campaign ID must be positive", goerr.V(CampaignIDKey, m.CampaignID))
	}
	if strings.TrimSpace(m.Content) == "" {
		return goerr.Wrap(ErrValidation, "memory content is required", goerr.V(CampaignIDKey, m.CampaignID))
	}
	if len(m.Embedding) == 0 {
		return goerr.Wrap(ErrValidation, "memory embedding is required", goerr.V(CampaignIDKey, m.CampaignID))
	}
	if err := m.Importance.Validate(); err != nil {
		return goerr.Wrap(ErrValidation, err.Error(), goerr.V(CampaignIDKey, m.CampaignID))
	}
	if _, err := NormalizeTags(m.Tags); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy of m
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	copied := *m
	copied.Embedding = m.Embedding.Clone()
	copied.Tags = slices.Clone(m.Tags)
	copied.SessionNumber = cloneInt(m.SessionNumber)
	copied.TurnNumber = cloneInt(m.TurnNumber)
	return &copied
}

// Preview returns the summary when present, otherwise the content
func (m *Memory) Preview() string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Content
}

// NormalizeTags trims, deduplicates and sorts tags. Empty tags, tags longer
// than 32 characters, tags with control characters and more than 20 tags
// are rejected.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{}, nil
	}

	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return nil, goerr.Wrap(ErrValidation, "tag must not be empty")
		}
		if len([]rune(tag)) > maxTagLength {
			return nil, goerr.Wrap(ErrValidation, "tag is too long", goerr.V("tag", tag))
		}
		if strings.IndexFunc(tag, unicode.IsControl) >= 0 {
			return nil, goerr.Wrap(ErrValidation, "tag contains control characters", goerr.V("tag", tag))
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}

	if len(result) > maxTags {
		return nil, goerr.Wrap(ErrValidation, "too many tags", goerr.V("count", len(result)))
	}

	slices.Sort(result)
	return result, nil
}

// ScoredMemory is a search hit
type ScoredMemory struct {
	Memory     *Memory
	Similarity float64 // raw cosine similarity
	Score      int     // display score in [0, 100]
}

// NewScoredMemory builds a ScoredMemory from a raw cosine similarity
func NewScoredMemory(m *Memory, similarity float64) *ScoredMemory {
	return &ScoredMemory{
		Memory:     m,
		Similarity: similarity,
		Score:      SimilarityScore(similarity),
	}
}

// RankBefore reports whether s sorts ahead of o: score desc, importance
// desc, createdAt desc, then ID
func (s *ScoredMemory) RankBefore(o *ScoredMemory) bool {
	if s.Score != o.Score {
		return s.Score > o.Score
	}
	if s.Memory.Importance != o.Memory.Importance {
		return s.Memory.Importance > o.Memory.Importance
	}
	if !s.Memory.CreatedAt.Equal(o.Memory.CreatedAt) {
		return s.Memory.CreatedAt.After(o.Memory.CreatedAt)
	}
	return s.Memory.ID < o.Memory.ID
}

// SortScored orders hits by RankBefore
func SortScored(hits []*ScoredMemory) {
	slices.SortFunc(hits, func(a, b *ScoredMemory) int {
		switch {
		case a.RankBefore(b):
			return -1
		case b.RankBefore(a):
			return 1
		default:
			return 0
		}
	})
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
