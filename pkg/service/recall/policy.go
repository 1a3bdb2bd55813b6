package recall

import (
	"cmp"
	"slices"
	"sort"

	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

// Policy controls how search candidates are ordered and cut
type Policy struct {
	// DefaultTopK is used when a search asks for topK <= 0
	DefaultTopK int

	// CandidateMultiplier and MinCandidates size the pool fetched from the
	// store: max(topK*CandidateMultiplier, MinCandidates)
	CandidateMultiplier int
	MinCandidates       int

	// MinScore drops candidates scoring below it
	MinScore int

	// ImportanceWeight blends importance into the primary sort key as
	// score + ImportanceWeight*importance. Zero keeps pure similarity order.
	ImportanceWeight float64

	// Candidates with importance >= FloorImportance scoring within
	// FloorMargin of the cut-off may replace the lowest-ranked included
	// memory that is below FloorImportance
	FloorImportance types.Importance
	FloorMargin     int
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		DefaultTopK:         10,
		CandidateMultiplier: 3,
		MinCandidates:       30,
		MinScore:            0,
		ImportanceWeight:    0,
		FloorImportance:     8,
		FloorMargin:         5,
	}
}

// TopK resolves the requested result size
func (p Policy) TopK(topK int) int {
	if topK <= 0 {
		if p.DefaultTopK > 0 {
			return p.DefaultTopK
		}
		return DefaultPolicy().DefaultTopK
	}
	return topK
}

// PoolSize returns how many candidates to fetch for topK results
func (p Policy) PoolSize(topK int) int {
	return max(topK*max(p.CandidateMultiplier, 1), p.MinCandidates, topK)
}

func (p Policy) key(m *model.ScoredMemory) float64 {
	return float64(m.Score) + p.ImportanceWeight*float64(m.Memory.Importance)
}

// less orders by primary key desc, importance desc, createdAt desc, then ID
func (p Policy) less(a, b *model.ScoredMemory) bool {
	if ka, kb := p.key(a), p.key(b); ka != kb {
		return ka > kb
	}
	if a.Memory.Importance != b.Memory.Importance {
		return a.Memory.Importance > b.Memory.Importance
	}
	if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
		return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
	}
	return a.Memory.ID < b.Memory.ID
}

func (p Policy) sort(candidates []*model.ScoredMemory) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.less(candidates[i], candidates[j])
	})
}

// Rank orders candidates and returns at most topK of them
func (p Policy) Rank(candidates []*model.ScoredMemory, topK int) []*model.ScoredMemory {
	topK = p.TopK(topK)

	ranked := make([]*model.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Memory == nil || c.Score < p.MinScore {
			continue
		}
		ranked = append(ranked, c)
	}
	p.sort(ranked)

	if len(ranked) <= topK {
		return ranked
	}

	included := ranked[:topK:topK]
	excluded := ranked[topK:]
	if p.applyFloor(included, excluded) {
		p.sort(included)
	}
	return included
}

// applyFloor promotes important near-misses into included in place. It
// reports whether included changed.
func (p Policy) applyFloor(included, excluded []*model.ScoredMemory) bool {
	if p.FloorImportance <= 0 || len(included) == 0 {
		return false
	}

	// a blended key does not keep excluded in score order
	nearMisses := excluded
	if p.ImportanceWeight != 0 {
		nearMisses = slices.Clone(excluded)
		slices.SortStableFunc(nearMisses, func(a, b *model.ScoredMemory) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}

	cutoff := included[len(included)-1].Score
	changed := false
	slot := len(included) - 1

	for _, candidate := range nearMisses {
		if cutoff-candidate.Score > p.FloorMargin {
			break
		}
		if candidate.Memory.Importance < p.FloorImportance {
			continue
		}

		for slot >= 0 && included[slot].Memory.Importance >= p.FloorImportance {
			slot--
		}
		if slot < 0 {
			break
		}
		included[slot] = candidate
		slot--
		changed = true
	}

	return changed
}
