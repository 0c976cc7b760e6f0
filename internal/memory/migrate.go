package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avenlabs/aven/internal/store"
)

// chatLogLinePattern matches one transcript entry:
// **[<timestamp>] ROLE**: content
var chatLogLinePattern = regexp.MustCompile(`^\*\*\[(.+?)\]\s*(USER|ASSISTANT)\*\*:\s?(.*)$`)

// Batches are paced to stay friendly to provider rate limits.
const migrationBatchInterval = time.Second

// MigrateTranscript backfills the long-term store from an existing markdown
// chat log. It runs once: a non-empty store means backfill already happened
// (or real memories exist) and the transcript is left alone. Batches that
// fail to summarize are logged and skipped; the rest still land.
func (s *System) MigrateTranscript(ctx context.Context, transcriptPath string) error {
	if s.vectors.Count() > 0 {
		log.Printf("[memory] migration skipped: %d memories already stored", s.vectors.Count())
		return nil
	}
	if !store.PathExists(transcriptPath) {
		return nil
	}

	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	entries := parseTranscript(string(data))
	if len(entries) < s.summarizer.minBatch {
		log.Printf("[memory] migration skipped: transcript too short (%d messages)", len(entries))
		return nil
	}
	log.Printf("[memory] migrating %d transcript messages", len(entries))

	limiter := rate.NewLimiter(rate.Every(migrationBatchInterval), 1)
	migrated := 0
	for start := 0; start < len(entries); start += s.summarizeEvery {
		end := start + s.summarizeEvery
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		if len(batch) < s.summarizer.minBatch {
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("migration interrupted: %w", err)
		}

		summary, err := s.summarizer.Summarize(ctx, batch)
		if err != nil {
			log.Printf("[memory] migration batch %d-%d failed, skipping: %v", start, end, err)
			continue
		}
		s.vectors.Add(ctx, batchText(batch), summary, len(batch))
		migrated++
	}

	log.Printf("[memory] migration complete: %d memories created", migrated)
	return nil
}

// parseTranscript extracts role and content from transcript lines, ignoring
// anything that does not look like an entry.
func parseTranscript(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		m := chatLogLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		role := RoleUser
		if m[2] == "ASSISTANT" {
			role = RoleAssistant
		}
		content := strings.TrimSpace(m[3])
		if content == "" {
			continue
		}
		entry := Entry{Role: role, Content: content}
		if ts, err := time.Parse(chatLogTimeLayout, m[1]); err == nil {
			entry.Timestamp = ts
		}
		entries = append(entries, entry)
	}
	return entries
}
