package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSystem(t *testing.T, fc *fakeCompleter, retryFailed bool) (*System, string) {
	t.Helper()
	dir := t.TempDir()
	emb := newFakeEmbedder(4)
	vs := NewVectorStore(VectorStoreConfig{
		Path:     filepath.Join(dir, "vectors.json"),
		Embedder: emb,
	})
	sys := NewSystem(SystemConfig{
		DataDir:     dir,
		RetryFailed: retryFailed,
		Vectors:     vs,
		Summarizer:  NewSummarizer(SummarizerConfig{Completer: fc}),
	})
	return sys, dir
}

func addMessages(sys *System, n int) {
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		sys.AddMessage(context.Background(), role, fmt.Sprintf("msg %d", i))
	}
}

func TestShortTermWindowBounded(t *testing.T) {
	sys, _ := newTestSystem(t, &fakeCompleter{response: "summary"}, false)
	addMessages(sys, 35)

	if got := sys.Stats().ShortTerm; got != 30 {
		t.Fatalf("expected window of 30, got %d", got)
	}
	recent := sys.RecentChat(0)
	if recent[0].Content != "msg 5" {
		t.Fatalf("oldest entries should be dropped, front is %q", recent[0].Content)
	}
	if recent[len(recent)-1].Content != "msg 34" {
		t.Fatalf("newest entry missing, back is %q", recent[len(recent)-1].Content)
	}
}

func TestSummarizationCadence(t *testing.T) {
	fc := &fakeCompleter{response: "a summary"}
	sys, _ := newTestSystem(t, fc, false)

	addMessages(sys, 9)
	if fc.calls != 0 {
		t.Fatalf("no summarization before the 10th message, got %d calls", fc.calls)
	}

	addMessages(sys, 1)
	if fc.calls != 1 {
		t.Fatalf("expected summarization at message 10, got %d calls", fc.calls)
	}
	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("expected 1 long-term memory, got %d", got)
	}

	addMessages(sys, 10)
	if fc.calls != 2 {
		t.Fatalf("expected second summarization at message 20, got %d calls", fc.calls)
	}
}

func TestSummarizationFailureDropsBatch(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("provider down")}
	sys, _ := newTestSystem(t, fc, false)

	addMessages(sys, 10)
	if fc.calls != 1 {
		t.Fatalf("expected one attempt, got %d", fc.calls)
	}
	if got := sys.Stats().LongTerm; got != 0 {
		t.Fatalf("failed batch must not be stored, got %d", got)
	}

	// Counter reset on failure: the next attempt comes 10 messages later,
	// not on the very next message.
	addMessages(sys, 9)
	if fc.calls != 1 {
		t.Fatalf("counter should have reset, got %d calls", fc.calls)
	}
	addMessages(sys, 1)
	if fc.calls != 2 {
		t.Fatalf("expected retry after a fresh cadence, got %d calls", fc.calls)
	}
}

func TestSummarizationFailureRetainsBatchWhenRetryEnabled(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("provider down")}
	sys, _ := newTestSystem(t, fc, true)

	addMessages(sys, 10)
	if fc.calls != 1 {
		t.Fatalf("expected one attempt, got %d", fc.calls)
	}
	// Counter kept: the very next message retries with a larger batch.
	addMessages(sys, 1)
	if fc.calls != 2 {
		t.Fatalf("expected immediate retry, got %d calls", fc.calls)
	}
}

func TestAddMessageWritesChatLog(t *testing.T) {
	sys, _ := newTestSystem(t, &fakeCompleter{response: "summary"}, false)
	sys.AddMessage(context.Background(), RoleUser, "hello there")

	data, err := os.ReadFile(sys.ChatLogPath())
	if err != nil {
		t.Fatalf("chat log missing: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "USER**: hello there") {
		t.Fatalf("unexpected chat log: %q", text)
	}
	if !strings.HasPrefix(text, "**[") {
		t.Fatalf("entry should start with timestamp marker: %q", text)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	fc := &fakeCompleter{response: "summary"}
	sys, dir := newTestSystem(t, fc, false)
	addMessages(sys, 7)

	emb := newFakeEmbedder(4)
	restored := NewSystem(SystemConfig{
		DataDir:    dir,
		Vectors:    NewVectorStore(VectorStoreConfig{Path: filepath.Join(dir, "vectors.json"), Embedder: emb}),
		Summarizer: NewSummarizer(SummarizerConfig{Completer: fc}),
	})
	restored.Load()

	if got := restored.Stats().ShortTerm; got != 7 {
		t.Fatalf("expected 7 restored entries, got %d", got)
	}
	// Cadence counter survives too: 3 more messages reach the threshold.
	addMessages(restored, 3)
	if fc.calls != 1 {
		t.Fatalf("expected summarization after restart at combined message 10, got %d calls", fc.calls)
	}
}

func TestContextRendersDialogueLines(t *testing.T) {
	sys, _ := newTestSystem(t, &fakeCompleter{response: "summary"}, false)
	sys.AddMessage(context.Background(), RoleUser, "hello")
	sys.AddMessage(context.Background(), RoleAssistant, "hi yourself")

	var blob struct {
		RecentDialogue []string `json:"recent_dialogue"`
	}
	if err := json.Unmarshal([]byte(sys.Context()), &blob); err != nil {
		t.Fatalf("context is not valid JSON: %v", err)
	}
	if len(blob.RecentDialogue) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(blob.RecentDialogue))
	}
	if blob.RecentDialogue[0] != "[USER]: hello" {
		t.Fatalf("unexpected first line: %q", blob.RecentDialogue[0])
	}
	if blob.RecentDialogue[1] != "[ASSISTANT]: hi yourself" {
		t.Fatalf("unexpected second line: %q", blob.RecentDialogue[1])
	}
}

func TestContextTruncatesInternalContent(t *testing.T) {
	sys, _ := newTestSystem(t, &fakeCompleter{response: "summary"}, false)
	long := InternalCodePrefix + " " + strings.Repeat("x", 500)
	sys.AddMessage(context.Background(), RoleAssistant, long)

	ctx := sys.Context()
	if !strings.Contains(ctx, "... (truncated)") {
		t.Fatal("internal content should carry an elision marker")
	}
	if strings.Contains(ctx, strings.Repeat("x", 300)) {
		t.Fatal("internal content should be truncated to 200 characters")
	}
}

func TestContextTokenBudgetKeepsMinimum(t *testing.T) {
	dir := t.TempDir()
	sys := NewSystem(SystemConfig{
		DataDir:     dir,
		TokenBudget: 10, // far below any real dialogue
		Vectors:     NewVectorStore(VectorStoreConfig{Path: filepath.Join(dir, "v.json"), Embedder: newFakeEmbedder(4)}),
		Summarizer:  NewSummarizer(SummarizerConfig{Completer: &fakeCompleter{response: "s"}}),
	})
	for i := 0; i < 8; i++ {
		sys.AddMessage(context.Background(), RoleUser, strings.Repeat("wordy content here ", 20))
	}

	var blob struct {
		RecentDialogue []string `json:"recent_dialogue"`
	}
	if err := json.Unmarshal([]byte(sys.Context()), &blob); err != nil {
		t.Fatalf("context is not valid JSON: %v", err)
	}
	if len(blob.RecentDialogue) != 3 {
		t.Fatalf("budget pressure must still keep 3 entries, got %d", len(blob.RecentDialogue))
	}
}

func TestRelevantMemoriesFormatting(t *testing.T) {
	dir := t.TempDir()
	emb := newFakeEmbedder(2)
	emb.vectors["what did we plan"] = []float64{1, 0}
	emb.vectors["They planned a picnic."] = []float64{1, 0}

	vs := NewVectorStore(VectorStoreConfig{Path: filepath.Join(dir, "v.json"), Embedder: emb})
	vs.Add(context.Background(), "raw", "They planned a picnic.", 3)

	sys := NewSystem(SystemConfig{
		DataDir:    dir,
		Vectors:    vs,
		Summarizer: NewSummarizer(SummarizerConfig{Completer: &fakeCompleter{response: "s"}}),
	})

	block := sys.RelevantMemories(context.Background(), "what did we plan")
	if !strings.HasPrefix(block, "RELEVANT MEMORIES (from past conversations):\n") {
		t.Fatalf("unexpected header: %q", block)
	}
	if !strings.Contains(block, "[Memory 1 - ") {
		t.Fatalf("missing memory line: %q", block)
	}
	if !strings.Contains(block, "They planned a picnic.") {
		t.Fatalf("missing summary: %q", block)
	}
}

func TestRelevantMemoriesEmptyStore(t *testing.T) {
	sys, _ := newTestSystem(t, &fakeCompleter{response: "s"}, false)
	if got := sys.RelevantMemories(context.Background(), "anything"); got != "" {
		t.Fatalf("expected empty block, got %q", got)
	}
}

func TestForceSummarize(t *testing.T) {
	fc := &fakeCompleter{response: "forced summary"}
	sys, _ := newTestSystem(t, fc, false)
	addMessages(sys, 4)

	sys.ForceSummarize(context.Background())
	if fc.calls != 1 {
		t.Fatalf("expected one summarization, got %d", fc.calls)
	}
	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("expected 1 stored memory, got %d", got)
	}
}

func TestForceSummarizeEmptyWindow(t *testing.T) {
	fc := &fakeCompleter{response: "s"}
	sys, _ := newTestSystem(t, fc, false)

	sys.ForceSummarize(context.Background())
	if fc.calls != 0 {
		t.Fatalf("empty window must not summarize, got %d calls", fc.calls)
	}
}

func TestEndToEndSummaryStored(t *testing.T) {
	fc := &fakeCompleter{response: "They discussed greetings."}
	sys, _ := newTestSystem(t, fc, false)
	addMessages(sys, 10)

	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("expected 1 memory, got %d", got)
	}
	vec := sys.vectors.vectors[0]
	if vec.Summary != "They discussed greetings." {
		t.Fatalf("unexpected summary: %q", vec.Summary)
	}
	if vec.MessageCount != 10 {
		t.Fatalf("expected batch of 10, got %d", vec.MessageCount)
	}
	if !strings.Contains(vec.Text, "user: msg 0") {
		t.Fatalf("raw text should carry the dialogue, got %q", vec.Text)
	}
}
