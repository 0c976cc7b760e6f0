package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avenlabs/aven/internal/llm"
)

// ErrBatchTooSmall reports a batch below the minimum worth summarizing.
var ErrBatchTooSmall = errors.New("batch too small to summarize")

const summarySystemPrompt = `You compress a short conversation between a user and their AI companion into long-term memory.
Write 1-2 sentences capturing what matters for future recall:
- the key topics discussed
- new facts learned about the user
- emotional moments or decisions
- promises or plans made
Write plainly, in the third person. Output only the summary.`

// Summarizer turns a batch of raw turns into a 1-2 sentence summary via the
// completion service.
type Summarizer struct {
	completer llm.Completer
	minBatch  int
	maxTokens int
}

type SummarizerConfig struct {
	Completer llm.Completer
	MinBatch  int
	MaxTokens int
}

func NewSummarizer(cfg SummarizerConfig) *Summarizer {
	minBatch := cfg.MinBatch
	if minBatch <= 0 {
		minBatch = 3
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 120
	}
	return &Summarizer{
		completer: cfg.Completer,
		minBatch:  minBatch,
		maxTokens: maxTokens,
	}
}

// Summarize produces a summary of entries, or ErrBatchTooSmall when the
// batch is below the minimum.
func (s *Summarizer) Summarize(ctx context.Context, entries []Entry) (string, error) {
	if len(entries) < s.minBatch {
		return "", ErrBatchTooSmall
	}

	summary, err := s.completer.Complete(ctx, summarySystemPrompt, batchText(entries), llm.WithMaxTokens(s.maxTokens))
	if err != nil {
		return "", fmt.Errorf("summarize batch: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize batch: empty summary")
	}
	return summary, nil
}

// batchText renders entries as "role: content" lines, the raw form kept
// alongside each stored summary.
func batchText(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(e.Role))
		sb.WriteString(": ")
		sb.WriteString(e.Content)
	}
	return sb.String()
}
