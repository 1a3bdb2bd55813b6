package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/orsinium-labs/stopwords"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

type hashService struct {
	dimension int
	stopwords *stopwords.Stopwords
}

// NewHash creates an offline Service that embeds text by feature hashing its
// content words. Texts that share words have positive similarity. It needs
// no provider and is deterministic, which makes it suitable for development
// and tests.
func NewHash(dimension int) (Service, error) {
	if dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V(model.DimensionKey, dimension))
	}

	return &hashService{
		dimension: dimension,
		stopwords: stopwords.MustGet("en"),
	}, nil
}

func (s *hashService) Dimension() int {
	return s.dimension
}

func (s *hashService) Embed(ctx context.Context, text string) (model.Embedding, error) {
	text, err := normalizeInput(text)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, providerError(err, "embedding cancelled")
	}

	tokens := s.tokens(text)
	vector := make(model.Embedding, s.dimension)
	if len(tokens) == 0 {
		// punctuation-only text still gets a stable non-zero vector
		s.add(vector, text)
	}
	for _, token := range tokens {
		s.add(vector, token)
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}

	return vector, nil
}

// tokens splits text into lower-cased content words. When every word is a
// stop word the stop words are kept.
func (s *hashService) tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	content := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || s.stopwords.Contains(w) {
			continue
		}
		content = append(content, stem(w))
	}
	if len(content) > 0 {
		return content
	}

	all := make([]string, 0, len(words))
	for _, w := range words {
		all = append(all, stem(w))
	}
	return all
}

func (s *hashService) add(vector model.Embedding, token string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()

	bucket := int(sum % uint64(s.dimension))
	if sum>>63 == 1 {
		vector[bucket]--
	} else {
		vector[bucket]++
	}
}

// stem folds plural forms so that "dragons" and "dragon" share a feature
func stem(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	default:
		return word
	}
}
