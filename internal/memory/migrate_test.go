package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func transcriptOf(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		role := "USER"
		if i%2 == 1 {
			role = "ASSISTANT"
		}
		fmt.Fprintf(&sb, "**[2026-01-15 09:%02d:00] %s**: line %d\n\n", i, role, i)
	}
	return sb.String()
}

func TestParseTranscript(t *testing.T) {
	entries := parseTranscript(transcriptOf(4))
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[0].Content != "line 0" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Role != RoleAssistant {
		t.Fatalf("expected assistant role, got %q", entries[1].Role)
	}
	if entries[0].Timestamp.IsZero() {
		t.Fatal("timestamp should parse from the marker")
	}
}

func TestParseTranscriptIgnoresNoise(t *testing.T) {
	text := "# Chat History\n\nsome stray prose\n\n**[2026-01-15 09:00:00] USER**: real line\n"
	entries := parseTranscript(text)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Content != "real line" {
		t.Fatalf("unexpected content: %q", entries[0].Content)
	}
}

func TestMigrateTranscriptCreatesMemories(t *testing.T) {
	fc := &fakeCompleter{response: "a migrated summary"}
	sys, dir := newTestSystem(t, fc, false)

	path := filepath.Join(dir, "old_chat.md")
	writeFile(t, path, transcriptOf(10))

	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("expected 1 memory from one batch of 10, got %d", got)
	}
}

func TestMigrateTranscriptSkipsShortTail(t *testing.T) {
	fc := &fakeCompleter{response: "summary"}
	sys, dir := newTestSystem(t, fc, false)

	// 12 messages: one full batch of 10 plus a tail of 2, below the minimum.
	path := filepath.Join(dir, "old_chat.md")
	writeFile(t, path, transcriptOf(12))

	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("tail below minimum must be skipped, got %d calls", fc.calls)
	}
}

func TestMigrateTranscriptIdempotent(t *testing.T) {
	fc := &fakeCompleter{response: "summary"}
	sys, dir := newTestSystem(t, fc, false)

	path := filepath.Join(dir, "old_chat.md")
	writeFile(t, path, transcriptOf(10))

	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("second run must be a no-op, got %d memories", got)
	}
}

func TestMigrateTranscriptTooShort(t *testing.T) {
	fc := &fakeCompleter{response: "summary"}
	sys, dir := newTestSystem(t, fc, false)

	path := filepath.Join(dir, "old_chat.md")
	writeFile(t, path, transcriptOf(2))

	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 0 {
		t.Fatalf("short transcript must not summarize, got %d calls", fc.calls)
	}
}

func TestMigrateTranscriptMissingFile(t *testing.T) {
	sys, dir := newTestSystem(t, &fakeCompleter{response: "s"}, false)
	if err := sys.MigrateTranscript(context.Background(), filepath.Join(dir, "nope.md")); err != nil {
		t.Fatalf("missing transcript should be a no-op, got %v", err)
	}
}

func TestMigrateTranscriptBatchFailureSkipped(t *testing.T) {
	// First batch fails, second succeeds.
	fc := &flakyCompleter{failFirst: 1, response: "summary"}
	dir := t.TempDir()
	vs := NewVectorStore(VectorStoreConfig{Path: filepath.Join(dir, "v.json"), Embedder: newFakeEmbedder(4)})
	sys := NewSystem(SystemConfig{
		DataDir:    dir,
		Vectors:    vs,
		Summarizer: NewSummarizer(SummarizerConfig{Completer: fc}),
	})

	path := filepath.Join(dir, "old_chat.md")
	writeFile(t, path, transcriptOf(20))

	if err := sys.MigrateTranscript(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sys.Stats().LongTerm; got != 1 {
		t.Fatalf("expected the surviving batch only, got %d", got)
	}
}
