package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/avenlabs/aven/internal/store"
)

const (
	stateSchemaVersion = 1
	stateFileName      = "memory.json"
	chatLogFileName    = "chat_history.md"
	chatLogTimeLayout  = "2006-01-02 15:04:05"

	// Rendered context keeps at least this many dialogue lines no matter
	// how far over the token budget they run.
	minContextEntries = 3

	// Internal tool output is informative, not conversational; cap what it
	// contributes to the rendered context.
	internalContentLimit = 200
)

// stateDocument is the persisted short-term state.
type stateDocument struct {
	Version      int     `json:"version"`
	ShortTerm    []Entry `json:"shortTerm"`
	Unsummarized int     `json:"unsummarized"`
}

// System is the memory orchestrator. It owns the short-term window, the
// summarization cadence, the long-term vector store, and the append-only
// chat log. Public operations never return errors: memory degrades, the
// conversation continues.
//
// System is not safe for concurrent use; the gateway's single sequential
// message loop is the only writer.
type System struct {
	dataDir        string
	maxShortTerm   int
	summarizeEvery int
	tokenBudget    int
	retryFailed    bool
	retrieveTopK   int

	entries      []Entry
	unsummarized int

	vectors    *VectorStore
	summarizer *Summarizer
}

type SystemConfig struct {
	DataDir        string
	MaxShortTerm   int
	SummarizeEvery int
	TokenBudget    int
	RetryFailed    bool
	RetrieveTopK   int
	Vectors        *VectorStore
	Summarizer     *Summarizer
}

func NewSystem(cfg SystemConfig) *System {
	maxShortTerm := cfg.MaxShortTerm
	if maxShortTerm <= 0 {
		maxShortTerm = 30
	}
	summarizeEvery := cfg.SummarizeEvery
	if summarizeEvery <= 0 {
		summarizeEvery = 10
	}
	tokenBudget := cfg.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = 6000
	}
	retrieveTopK := cfg.RetrieveTopK
	if retrieveTopK <= 0 {
		retrieveTopK = 3
	}
	return &System{
		dataDir:        cfg.DataDir,
		maxShortTerm:   maxShortTerm,
		summarizeEvery: summarizeEvery,
		tokenBudget:    tokenBudget,
		retryFailed:    cfg.RetryFailed,
		retrieveTopK:   retrieveTopK,
		vectors:        cfg.Vectors,
		summarizer:     cfg.Summarizer,
	}
}

func (s *System) statePath() string {
	return filepath.Join(s.dataDir, stateFileName)
}

// ChatLogPath is where the markdown transcript accumulates.
func (s *System) ChatLogPath() string {
	return filepath.Join(s.dataDir, chatLogFileName)
}

// Load restores short-term state from disk. Missing or corrupt state starts
// fresh; a broken file must not keep the companion from answering.
func (s *System) Load() {
	path := s.statePath()
	if !store.PathExists(path) {
		return
	}
	var doc stateDocument
	if err := store.ReadJSON(path, &doc); err != nil {
		log.Printf("[memory] load failed, starting fresh: %v", err)
		return
	}
	s.entries = doc.ShortTerm
	s.unsummarized = doc.Unsummarized
	if s.unsummarized < 0 {
		s.unsummarized = 0
	}
	log.Printf("[memory] restored %d short-term entries (%d unsummarized)", len(s.entries), s.unsummarized)
}

func (s *System) persist() {
	doc := stateDocument{
		Version:      stateSchemaVersion,
		ShortTerm:    s.entries,
		Unsummarized: s.unsummarized,
	}
	if doc.ShortTerm == nil {
		doc.ShortTerm = []Entry{}
	}
	if err := store.WriteJSON(s.statePath(), doc); err != nil {
		log.Printf("[memory] persist failed: %v", err)
	}
}

// AddMessage records one conversational turn: appends it to the short-term
// window, runs the summarization cadence, trims the window, appends to the
// chat log, and persists.
func (s *System) AddMessage(ctx context.Context, role Role, content string) {
	now := time.Now()
	s.entries = append(s.entries, Entry{Role: role, Content: content, Timestamp: now})
	s.unsummarized++

	if s.unsummarized >= s.summarizeEvery {
		s.summarizeRecent(ctx)
	}

	if len(s.entries) > s.maxShortTerm {
		trimmed := make([]Entry, s.maxShortTerm)
		copy(trimmed, s.entries[len(s.entries)-s.maxShortTerm:])
		s.entries = trimmed
	}

	s.appendChatLog(now, role, content)
	s.persist()
}

// summarizeRecent compresses the unsummarized tail of the window into one
// long-term memory. The counter resets whether or not summarization
// succeeded: a failed batch is dropped rather than retried on every
// subsequent message. RetryFailed flips that, keeping the counter so the
// next message tries again with a larger batch.
func (s *System) summarizeRecent(ctx context.Context) {
	n := s.unsummarized
	if n > len(s.entries) {
		n = len(s.entries)
	}
	batch := s.entries[len(s.entries)-n:]

	if err := s.flushBatch(ctx, batch); err != nil && s.retryFailed {
		return
	}
	s.unsummarized = 0
}

func (s *System) flushBatch(ctx context.Context, batch []Entry) error {
	summary, err := s.summarizer.Summarize(ctx, batch)
	if err != nil {
		if errors.Is(err, ErrBatchTooSmall) {
			return nil
		}
		log.Printf("[memory] summarization failed, dropping batch of %d: %v", len(batch), err)
		return err
	}
	s.vectors.Add(ctx, batchText(batch), summary, len(batch))
	log.Printf("[memory] stored long-term memory from %d messages", len(batch))
	return nil
}

func (s *System) appendChatLog(ts time.Time, role Role, content string) {
	line := fmt.Sprintf("**[%s] %s**: %s\n\n", ts.Format(chatLogTimeLayout), strings.ToUpper(string(role)), content)
	if err := store.AppendFile(s.ChatLogPath(), line); err != nil {
		log.Printf("[memory] chat log append failed: %v", err)
	}
}

// Context renders the short-term window for prompt assembly: a JSON blob of
// "[ROLE]: content" lines, oldest first. Internal tool output is truncated,
// and oldest lines are dropped until the whole blob fits the token budget,
// always keeping at least minContextEntries.
func (s *System) Context() string {
	start := 0
	if len(s.entries) > s.maxShortTerm {
		start = len(s.entries) - s.maxShortTerm
	}
	lines := make([]string, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		lines = append(lines, renderContextLine(e))
	}

	rendered := renderContextBlob(lines)
	for EstimateTokens(rendered) > s.tokenBudget && len(lines) > minContextEntries {
		lines = lines[1:]
		rendered = renderContextBlob(lines)
	}
	return rendered
}

func renderContextLine(e Entry) string {
	content := e.Content
	if strings.HasPrefix(content, InternalCodePrefix) {
		if runes := []rune(content); len(runes) > internalContentLimit {
			content = string(runes[:internalContentLimit]) + "... (truncated)"
		}
	}
	return fmt.Sprintf("[%s]: %s", strings.ToUpper(string(e.Role)), content)
}

func renderContextBlob(lines []string) string {
	blob := struct {
		RecentDialogue []string `json:"recent_dialogue"`
	}{RecentDialogue: lines}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// RelevantMemories retrieves long-term memories similar to query, formatted
// as a block ready for prompt injection. Empty when nothing relevant exists.
func (s *System) RelevantMemories(ctx context.Context, query string) string {
	results := s.vectors.Search(ctx, query, s.retrieveTopK)
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("RELEVANT MEMORIES (from past conversations):\n")
	for i, v := range results {
		fmt.Fprintf(&sb, "[Memory %d - %s]: %s\n", i+1, v.Timestamp.Format("2006-01-02"), v.Summary)
	}
	return sb.String()
}

// RecentChat returns up to limit most recent entries, oldest first.
func (s *System) RecentChat(limit int) []Entry {
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out
}

// ForceSummarize immediately compresses the current window tail regardless
// of where the cadence counter stands.
func (s *System) ForceSummarize(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	s.unsummarized = s.summarizeEvery
	s.summarizeRecent(ctx)
	s.persist()
}

// Stats reports the size of both memory layers.
func (s *System) Stats() Stats {
	return Stats{
		ShortTerm: len(s.entries),
		LongTerm:  s.vectors.Count(),
	}
}
