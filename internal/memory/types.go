// Package memory implements the companion's layered recall: a bounded
// short-term window of raw conversational turns, periodic summarization of
// those turns into embedded long-term memories, and similarity-based
// retrieval of the memories relevant to the current message.
package memory

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Content prefixes that mark side-channel entries: tool output recorded for
// the model's benefit, and one-way voice-call text.
const (
	InternalCodePrefix = "[INTERNAL CODE]"
	CallPrefix         = "[CALL]"
)

// Entry is one conversational turn in the short-term window.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Vector is one compressed long-term memory: a batch of raw turns, its
// 1-2 sentence summary, and the summary's embedding. Immutable once created;
// it leaves the store only through capacity eviction.
type Vector struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Summary      string    `json:"summary"`
	Embedding    []float64 `json:"embedding"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	ShortTerm int
	LongTerm  int
}
