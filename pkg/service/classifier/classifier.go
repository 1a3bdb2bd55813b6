package classifier

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

// Classifier assigns a MemoryType to free text by counting keyword hits
// per type with a single Aho-Corasick automaton
type Classifier struct {
	automaton *ahocorasick.Automaton
	patterns  []string
	owners    [][]types.MemoryType // pattern index -> types that listed it
	priority  map[types.MemoryType]int
}

// Option configures a Classifier
type Option func(*config)

type config struct {
	keywords map[types.MemoryType][]string
}

// WithKeywords replaces the keyword list of one memory type
func WithKeywords(memoryType types.MemoryType, keywords ...string) Option {
	return func(c *config) {
		c.keywords[memoryType] = keywords
	}
}

// typeOrder decides ties; earlier types win
var typeOrder = []types.MemoryType{
	types.MemoryTypeCombatEvent,
	types.MemoryTypeNPCInteraction,
	types.MemoryTypeItemEvent,
	types.MemoryTypePlotPoint,
	types.MemoryTypeLore,
	types.MemoryTypeCharacterMoment,
	types.MemoryTypeLocation,
}

func defaultKeywords() map[types.MemoryType][]string {
	return map[types.MemoryType][]string{
		types.MemoryTypeCombatEvent: {
			"attack", "attacked", "ambush", "battle", "combat", "damage", "fight", "fought",
			"hit points", "initiative", "kill", "killed", "parry", "slay", "slain", "strike",
			"struck", "sword", "wound", "wounded",
		},
		types.MemoryTypeNPCInteraction: {
			"asked", "asks", "bargain", "conversation", "greet", "greets", "guard", "innkeeper",
			"merchant", "persuade", "replied", "replies", "said", "says", "speak with",
			"talk to", "tells", "told", "whisper", "whispers",
		},
		types.MemoryTypeItemEvent: {
			"amulet", "buy", "buys", "chest", "coin", "equip", "gold", "inventory", "loot",
			"pick up", "picked up", "picks up", "potion", "ring", "scroll", "sell", "sells",
			"treasure",
		},
		types.MemoryTypeLocation: {
			"arrive", "arrived", "arrives", "castle", "cave", "city", "dungeon", "enter",
			"entered", "enters", "forest", "gate", "mountain", "river", "road", "ruins",
			"tavern", "temple", "town", "village",
		},
		types.MemoryTypePlotPoint: {
			"artifact", "betray", "betrayal", "betrayed", "curse", "discover", "discovered",
			"mission", "oath", "prophecy", "quest", "revealed", "secret", "villain",
		},
		types.MemoryTypeLore: {
			"ancient", "chronicle", "dynasty", "empire", "god", "goddess", "history",
			"kingdom", "legend", "myth",
		},
		types.MemoryTypeCharacterMoment: {
			"backstory", "confesses", "dream", "fear", "fears", "feels", "regret", "regrets",
			"remembers", "tears", "vow", "vows",
		},
	}
}

// New builds a Classifier from the built-in keyword table and opts
func New(opts ...Option) (*Classifier, error) {
	cfg := &config{keywords: defaultKeywords()}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Classifier{
		priority: make(map[types.MemoryType]int, len(typeOrder)),
	}
	for i, t := range typeOrder {
		c.priority[t] = i
	}

	index := make(map[string]int)
	for _, memoryType := range typeOrder {
		for _, keyword := range cfg.keywords[memoryType] {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				continue
			}
			idx, exists := index[keyword]
			if !exists {
				idx = len(c.patterns)
				index[keyword] = idx
				c.patterns = append(c.patterns, keyword)
				c.owners = append(c.owners, nil)
			}
			c.owners[idx] = append(c.owners[idx], memoryType)
		}
	}

	if len(c.patterns) == 0 {
		return c, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(c.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build classifier automaton", goerr.V("patterns", len(c.patterns)))
	}
	c.automaton = automaton

	return c, nil
}

// Classify returns the memory type with the most keyword hits in text, or
// fallback when nothing matches
func (c *Classifier) Classify(text string, fallback types.MemoryType) types.MemoryType {
	scores := c.Scores(text)
	if len(scores) == 0 {
		return fallback
	}

	best := fallback
	bestScore := 0
	for _, t := range typeOrder {
		if scores[t] > bestScore {
			best = t
			bestScore = scores[t]
		}
	}
	return best
}

// Scores returns the number of whole-word keyword hits per memory type
func (c *Classifier) Scores(text string) map[types.MemoryType]int {
	if c.automaton == nil {
		return nil
	}

	haystack := strings.ToLower(text)
	matches := c.automaton.FindAllOverlapping([]byte(haystack))

	scores := make(map[types.MemoryType]int)
	for _, m := range matches {
		if m.PatternID < 0 || m.PatternID >= len(c.owners) {
			continue
		}
		if !isWordMatch(haystack, m.Start, m.End) {
			continue
		}
		for _, t := range c.owners[m.PatternID] {
			scores[t]++
		}
	}
	return scores
}

// isWordMatch reports whether haystack[start:end] is a whole word. A plural
// "s" directly after the keyword is accepted.
func isWordMatch(haystack string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(haystack[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(haystack) && haystack[end] == 's' {
		end++
	}
	if end < len(haystack) {
		r, _ := utf8.DecodeRuneInString(haystack[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}
