package summary

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

// DefaultThreshold is the content length in characters above which a
// summary is derived
const DefaultThreshold = 280

// DefaultTimeout bounds one LLM summary call
const DefaultTimeout = 15 * time.Second

const ellipsis = "…"

// Service derives a short summary for long memory content
type Service interface {
	// Summarize returns "" when text is within the threshold. Otherwise it
	// returns a summary of at most threshold characters. It never fails.
	Summarize(ctx context.Context, text string) string
}

// Truncate shortens text to at most limit characters, cutting at the last
// word boundary and appending an ellipsis
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	if limit == 1 {
		return ellipsis
	}

	cut := runes[:limit-1]
	// back off to the previous space unless the cut already ends a word
	for i := len(cut) - 1; i > 0 && !unicode.IsSpace(runes[limit-1]); i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}

	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + ellipsis
}

type truncator struct {
	threshold int
}

// NewTruncator creates a Service that summarizes by truncation
func NewTruncator(threshold int) Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &truncator{threshold: threshold}
}

func (s *truncator) Summarize(ctx context.Context, text string) string {
	if len([]rune(strings.TrimSpace(text))) <= s.threshold {
		return ""
	}
	return Truncate(text, s.threshold)
}

type llmSummarizer struct {
	client    gollem.LLMClient
	threshold int
	timeout   time.Duration
}

// LLMOption configures the LLM summarizer
type LLMOption func(*llmSummarizer)

// WithTimeout bounds each LLM call. Zero disables the bound.
func WithTimeout(d time.Duration) LLMOption {
	return func(s *llmSummarizer) {
		s.timeout = d
	}
}

// NewLLM creates a Service that asks an LLM to condense the text. Any LLM
// failure, including a missed deadline, falls back to truncation.
func NewLLM(client gollem.LLMClient, threshold int, opts ...LLMOption) (Service, error) {
	if client == nil {
		return nil, goerr.New("LLM client is required")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	s := &llmSummarizer{
		client:    client,
		threshold: threshold,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout < 0 {
		return nil, goerr.New("summary timeout must not be negative", goerr.V("timeout", s.timeout))
	}
	return s, nil
}

func (s *llmSummarizer) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) <= s.threshold {
		return ""
	}

	condensed, err := s.condense(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("failed to condense memory, falling back to truncation",
			"error", err,
			"text_length", len(text))
		return Truncate(text, s.threshold)
	}

	return Truncate(condensed, s.threshold)
}

func (s *llmSummarizer) condense(ctx context.Context, text string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	session, err := s.client.NewSession(ctx,
		gollem.WithSessionSystemPrompt(buildSystemPrompt(s.threshold)),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(text)})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("LLM returned no summary")
	}

	condensed := strings.TrimSpace(strings.Join(resp.Texts, " "))
	if condensed == "" {
		return "", goerr.New("LLM returned an empty summary")
	}
	return condensed, nil
}

func buildSystemPrompt(limit int) string {
	var sb strings.Builder
	sb.WriteString("You condense events of a tabletop role-playing game session into a single memory note.\n\n")
	sb.WriteString("## Instructions:\n\n")
	sb.WriteString("1. Keep the names of characters, places and items exactly as written.\n")
	sb.WriteString("2. Keep what happened and who was involved; drop flavor text.\n")
	sb.WriteString("3. Write in the same language as the input, in plain prose without markup.\n")
	fmt.Fprintf(&sb, "4. Stay under %d characters.\n", limit)
	return sb.String()
}
