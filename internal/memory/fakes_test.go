package memory

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/avenlabs/aven/internal/llm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fakeEmbedder returns canned vectors keyed by exact input text, falling
// back to a zero vector like the real adapter does on failure.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float64
	calls   int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: make(map[string][]float64)}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float64 {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return make([]float64, f.dim)
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

// flakyCompleter fails its first failFirst calls, then succeeds.
type flakyCompleter struct {
	failFirst int
	response  string
	calls     int
}

func (f *flakyCompleter) Complete(_ context.Context, _, _ string, _ ...llm.Option) (string, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return "", errProviderDown
	}
	return f.response, nil
}

var errProviderDown = errors.New("provider down")

// fakeCompleter records prompts and returns a fixed response or error.
type fakeCompleter struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, userPrompt string, _ ...llm.Option) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}
