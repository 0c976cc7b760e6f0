package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		entries[i] = Entry{Role: role, Content: "message"}
	}
	return entries
}

func TestSummarizeBatchTooSmall(t *testing.T) {
	fc := &fakeCompleter{response: "unused"}
	sum := NewSummarizer(SummarizerConfig{Completer: fc})

	_, err := sum.Summarize(context.Background(), testEntries(2))
	if !errors.Is(err, ErrBatchTooSmall) {
		t.Fatalf("expected ErrBatchTooSmall, got %v", err)
	}
	if fc.calls != 0 {
		t.Fatalf("tiny batch must not hit the completer, got %d calls", fc.calls)
	}
}

func TestSummarizeSuccess(t *testing.T) {
	fc := &fakeCompleter{response: "  They discussed greetings.  "}
	sum := NewSummarizer(SummarizerConfig{Completer: fc})

	got, err := sum.Summarize(context.Background(), testEntries(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "They discussed greetings." {
		t.Fatalf("expected trimmed summary, got %q", got)
	}
}

func TestSummarizePromptContainsDialogue(t *testing.T) {
	fc := &fakeCompleter{response: "ok"}
	sum := NewSummarizer(SummarizerConfig{Completer: fc})

	entries := []Entry{
		{Role: RoleUser, Content: "I got the job"},
		{Role: RoleAssistant, Content: "that is wonderful"},
		{Role: RoleUser, Content: "celebrating tonight"},
	}
	if _, err := sum.Summarize(context.Background(), entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := fc.prompts[0]
	if !strings.Contains(prompt, "user: I got the job") {
		t.Fatalf("prompt missing user line: %q", prompt)
	}
	if !strings.Contains(prompt, "assistant: that is wonderful") {
		t.Fatalf("prompt missing assistant line: %q", prompt)
	}
}

func TestSummarizeProviderError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("provider down")}
	sum := NewSummarizer(SummarizerConfig{Completer: fc})

	if _, err := sum.Summarize(context.Background(), testEntries(5)); err == nil {
		t.Fatal("expected error from failing completer")
	}
}

func TestSummarizeEmptyResponse(t *testing.T) {
	fc := &fakeCompleter{response: "   "}
	sum := NewSummarizer(SummarizerConfig{Completer: fc})

	if _, err := sum.Summarize(context.Background(), testEntries(3)); err == nil {
		t.Fatal("expected error for blank summary")
	}
}
