// Package gateway wires the companion together: config in, channels,
// memory, agent, health feed, and heartbeat out, with one sequential loop
// pumping messages between them.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/avenlabs/aven/internal/agent"
	"github.com/avenlabs/aven/internal/bus"
	"github.com/avenlabs/aven/internal/channel"
	"github.com/avenlabs/aven/internal/config"
	"github.com/avenlabs/aven/internal/health"
	"github.com/avenlabs/aven/internal/heartbeat"
	"github.com/avenlabs/aven/internal/llm"
	"github.com/avenlabs/aven/internal/memory"
	"github.com/avenlabs/aven/internal/store"
)

const vectorStoreFileName = "vector_store.json"

// Options for creating a Gateway.
type Options struct {
	Completer       llm.Completer  // overrides the default client (for testing)
	MemoryCompleter llm.Completer  // overrides the summarization client (for testing)
	SignalChan      chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	mem      *memory.System
	agent    *agent.Agent
	channels *channel.Manager
	health   *health.Service
	hb       *heartbeat.Scheduler

	signalChan chan os.Signal

	mu           sync.RWMutex
	lastTarget   heartbeat.Target
	hasTarget    bool
	lastActivity time.Time
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	dataDir := cfg.Agent.DataDir
	if err := store.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Memory stack: embedder, vector store, summarizer, orchestrator.
	embedder := memory.NewEmbeddingClient(memory.EmbeddingConfig{
		APIKey:    embeddingAPIKey(cfg),
		BaseURL:   embeddingBaseURL(cfg),
		Model:     cfg.Memory.Embedding.Model,
		Dimension: cfg.Memory.Embedding.Dimension,
		MaxChars:  config.DefaultEmbeddingMaxChars,
		Timeout:   time.Duration(cfg.Memory.Embedding.TimeoutMs) * time.Millisecond,
	})
	vectors := memory.NewVectorStore(memory.VectorStoreConfig{
		Path:      filepath.Join(dataDir, vectorStoreFileName),
		Embedder:  embedder,
		Capacity:  config.DefaultVectorStoreCap,
		Threshold: config.DefaultSimilarityThreshold,
	})

	memCompleter := opts.MemoryCompleter
	if memCompleter == nil {
		memCompleter = llm.NewClient(llm.ClientConfig{
			APIKey:    cfg.MemoryAPIKey(),
			BaseURL:   cfg.MemoryBaseURL(),
			Model:     cfg.MemoryModel(),
			MaxTokens: cfg.Memory.MaxTokens,
		})
	}
	summarizer := memory.NewSummarizer(memory.SummarizerConfig{
		Completer: memCompleter,
		MinBatch:  config.DefaultMinSummaryBatch,
		MaxTokens: config.DefaultSummaryMaxTokens,
	})

	g.mem = memory.NewSystem(memory.SystemConfig{
		DataDir:        dataDir,
		MaxShortTerm:   cfg.Memory.MaxShortTerm,
		SummarizeEvery: cfg.Memory.SummarizeEvery,
		TokenBudget:    cfg.Memory.TokenBudget,
		RetryFailed:    cfg.Memory.RetryFailedBatches,
		RetrieveTopK:   config.DefaultRetrieveTopK,
		Vectors:        vectors,
		Summarizer:     summarizer,
	})
	g.mem.Load()

	// Health feed (optional).
	if cfg.Health.Enabled {
		g.health = health.NewService(cfg.Health, dataDir)
	}

	// Agent.
	completer := opts.Completer
	if completer == nil {
		completer = llm.NewClient(llm.ClientConfig{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			Model:       cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: cfg.Agent.Temperature,
		})
	}
	agentCfg := agent.Config{
		Completer:          completer,
		Memory:             g.mem,
		DataDir:            dataDir,
		MaxTokens:          cfg.Agent.MaxTokens,
		MaxProactivePerDay: cfg.Heartbeat.MaxProactivePerDay,
	}
	if g.health != nil {
		agentCfg.Health = g.health
	}
	g.agent = agent.New(agentCfg)

	// Heartbeat (optional).
	if cfg.Heartbeat.Enabled {
		g.hb = heartbeat.NewScheduler(cfg.Heartbeat, g.target, g.lastActivityAt)
	}

	chMgr, err := channel.NewManager(cfg.Channels, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.signalChan = opts.SignalChan
	return g, nil
}

func embeddingAPIKey(cfg *config.Config) string {
	if cfg.Memory.Embedding.APIKey != "" {
		return cfg.Memory.Embedding.APIKey
	}
	return cfg.MemoryAPIKey()
}

func embeddingBaseURL(cfg *config.Config) string {
	if cfg.Memory.Embedding.BaseURL != "" {
		return cfg.Memory.Embedding.BaseURL
	}
	return cfg.MemoryBaseURL()
}

func (g *Gateway) target() (heartbeat.Target, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastTarget, g.hasTarget
}

func (g *Gateway) lastActivityAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastActivity
}

func (g *Gateway) noteInbound(msg bus.InboundMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTarget = heartbeat.Target{
		Channel:  msg.Channel,
		SenderID: msg.SenderID,
		ChatID:   msg.ChatID,
	}
	g.hasTarget = true
	g.lastActivity = time.Now()
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.health != nil {
		if err := g.health.Start(ctx, g.cfg.Health.Host, g.cfg.Health.Port); err != nil {
			log.Printf("[gateway] health start warning: %v", err)
		}
	}

	// Backfill long-term memory from an existing transcript before the
	// message loop starts: memory has exactly one writer at a time, and
	// early inbound messages just wait in the bus buffer.
	if err := g.mem.MigrateTranscript(ctx, g.mem.ChatLogPath()); err != nil {
		log.Printf("[gateway] transcript migration warning: %v", err)
	}

	if g.hb != nil {
		if err := g.hb.Start(ctx); err != nil {
			log.Printf("[gateway] heartbeat start warning: %v", err)
		}
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop handles inbound messages and heartbeat check-ins one at a
// time on a single goroutine. Memory writes are not concurrent-safe, and a
// single partner does not need parallelism.
func (g *Gateway) processLoop(ctx context.Context) {
	var ticks <-chan heartbeat.Target
	if g.hb != nil {
		ticks = g.hb.Ticks()
	}

	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.noteInbound(msg)

			reply, err := g.agent.ProcessMessage(ctx, msg.SenderID, msg.Content)
			if err != nil {
				log.Printf("[gateway] agent error: %v", err)
				reply = "Sorry, something went wrong on my end. Tell me that again?"
			}

			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case target := <-ticks:
			g.runCheckIn(ctx, target)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) runCheckIn(ctx context.Context, target heartbeat.Target) {
	msg, err := g.agent.ProactiveCheckIn(ctx, target.SenderID)
	if err != nil {
		log.Printf("[gateway] check-in failed: %v", err)
		return
	}
	if msg == "" {
		return
	}

	log.Printf("[gateway] sending proactive check-in to %s", target.Channel)
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: target.Channel,
		ChatID:  target.ChatID,
		Content: msg,
	}
}

func (g *Gateway) Shutdown() error {
	if g.hb != nil {
		g.hb.Stop()
	}
	_ = g.channels.StopAll()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
