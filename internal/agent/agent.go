// Package agent runs the conversation pipeline: persona plus memory plus
// biometrics in, one completion out, side-channel markers handled on the
// way back to the partner.
package agent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/avenlabs/aven/internal/llm"
	"github.com/avenlabs/aven/internal/memory"
)

// ContextProvider supplies an optional prompt block, empty when there is
// nothing worth saying.
type ContextProvider interface {
	Context() string
}

var (
	callPattern       = regexp.MustCompile(`\[\s*CALL\s*:\s*(.+?)\s*\]`)
	callRequestHint   = regexp.MustCompile(`(?i)call|phone|speak|talk|voice`)
	excessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

type Agent struct {
	completer llm.Completer
	memory    *memory.System
	persona   *persona
	quota     *callQuota
	health    ContextProvider
	caller    func(text string)
	maxTokens int
	now       func() time.Time
}

type Config struct {
	Completer          llm.Completer
	Memory             *memory.System
	DataDir            string
	Health             ContextProvider
	MaxTokens          int
	MaxProactivePerDay int
}

func New(cfg Config) *Agent {
	return &Agent{
		completer: cfg.Completer,
		memory:    cfg.Memory,
		persona:   &persona{dataDir: cfg.DataDir},
		quota:     newCallQuota(cfg.DataDir, cfg.MaxProactivePerDay),
		health:    cfg.Health,
		maxTokens: cfg.MaxTokens,
		now:       time.Now,
	}
}

// SetCaller registers the voice-call sink. Without one, call markers are
// stripped silently.
func (a *Agent) SetCaller(fn func(text string)) {
	a.caller = fn
}

// ProcessMessage runs one conversational turn and returns the reply text.
// The user message is committed to memory before the completion, so even a
// failed turn is remembered.
func (a *Agent) ProcessMessage(ctx context.Context, senderID, message string) (string, error) {
	identity := a.persona.Load(senderID)

	a.memory.AddMessage(ctx, memory.RoleUser, message)

	systemPrompt := identity
	if a.health != nil {
		if block := a.health.Context(); block != "" {
			systemPrompt += "\n\n" + block
		}
	}

	response, err := a.completer.Complete(ctx, systemPrompt, a.buildPayload(ctx, message), llm.WithMaxTokens(a.maxTokens))
	if err != nil {
		return "", fmt.Errorf("complete turn: %w", err)
	}

	response = a.handleCallMarkers(ctx, message, response)
	response = excessiveNewlines.ReplaceAllString(strings.TrimSpace(response), "\n\n")

	if response != "" {
		a.memory.AddMessage(ctx, memory.RoleAssistant, response)
	}
	return response, nil
}

func (a *Agent) buildPayload(ctx context.Context, message string) string {
	var sb strings.Builder
	sb.WriteString("CONTEXT HISTORY:\n")
	sb.WriteString(a.memory.Context())
	sb.WriteString("\n\n")

	if memories := a.memory.RelevantMemories(ctx, message); memories != "" {
		sb.WriteString(memories)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "CURRENT SYSTEM TIME: %s\n", a.now().Format("2006-01-02 15:04:05 Mon"))
	fmt.Fprintf(&sb, "DAILY CALL STATS: %d/%d proactive calls used today.\n\n", a.quota.Used(), a.quota.maxPer)

	sb.WriteString("CURRENT USER MESSAGE:\n")
	sb.WriteString(message)
	return sb.String()
}

// handleCallMarkers extracts [CALL: ...] markers, places the call when the
// partner asked for it or the proactive budget allows, and strips the
// marker from the visible reply either way. Placed calls are remembered as
// [CALL]-prefixed assistant entries so the transcript shows them.
func (a *Agent) handleCallMarkers(ctx context.Context, userMessage, response string) string {
	matches := callPattern.FindAllStringSubmatch(response, -1)
	for _, m := range matches {
		text := strings.TrimSpace(m[1])
		if text == "" || a.caller == nil {
			continue
		}

		requested := callRequestHint.MatchString(userMessage)
		if requested {
			log.Printf("[agent] placing requested call")
			a.placeCall(ctx, text)
			continue
		}
		if a.quota.Allow() {
			log.Printf("[agent] placing proactive call (%d/%d today)", a.quota.Used()+1, a.quota.maxPer)
			a.placeCall(ctx, text)
			a.quota.Record()
		} else {
			log.Printf("[agent] proactive call blocked, quota exhausted (%d/%d)", a.quota.Used(), a.quota.maxPer)
		}
	}
	return callPattern.ReplaceAllString(response, "")
}

func (a *Agent) placeCall(ctx context.Context, text string) {
	a.caller(text)
	a.memory.AddMessage(ctx, memory.RoleAssistant, memory.CallPrefix+" "+text)
}

const proactivePrompt = `It has been a while since you and your partner last spoke. Based on the recent conversation context, decide whether a short, natural check-in message would be welcome right now. If yes, write that message. If there is nothing worth saying, reply with exactly PASS.`

// ProactiveCheckIn asks the model whether a spontaneous message is worth
// sending. It returns empty text when the model passes or the daily
// proactive budget is spent.
func (a *Agent) ProactiveCheckIn(ctx context.Context, senderID string) (string, error) {
	if !a.quota.Allow() {
		return "", nil
	}

	identity := a.persona.Load(senderID)
	payload := "CONTEXT HISTORY:\n" + a.memory.Context() + "\n\n" + proactivePrompt

	response, err := a.completer.Complete(ctx, identity, payload, llm.WithMaxTokens(a.maxTokens))
	if err != nil {
		return "", fmt.Errorf("proactive check-in: %w", err)
	}

	response = strings.TrimSpace(response)
	if response == "" || strings.EqualFold(response, "PASS") {
		return "", nil
	}

	a.quota.Record()
	a.memory.AddMessage(ctx, memory.RoleAssistant, response)
	return response, nil
}
