package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/avenlabs/aven/internal/config"
	"github.com/avenlabs/aven/internal/gateway"
	"github.com/avenlabs/aven/internal/llm"
	"github.com/avenlabs/aven/internal/memory"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "aven",
	Short: "aven - personal AI companion",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full companion (channels + memory + health + heartbeat)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show companion status",
	RunE:  runStatus,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [transcript]",
	Short: "Backfill long-term memory from a markdown chat transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aven", version)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'aven onboard' or set AVEN_API_KEY / OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir := cfg.Agent.DataDir
	if err := os.MkdirAll(filepath.Join(dataDir, "users"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	writeIfNotExists(filepath.Join(dataDir, "soul.md"), defaultSoulMD)

	fmt.Printf("Data directory ready: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and Telegram token\n", cfgPath)
	fmt.Println("  2. Or set AVEN_API_KEY and AVEN_TELEGRAM_TOKEN environment variables")
	fmt.Printf("  3. Edit %s to shape the companion's personality\n", filepath.Join(dataDir, "soul.md"))
	fmt.Println("  4. Run 'aven gateway' to start")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Data dir: %s\n", cfg.Agent.DataDir)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Embedding: %s (%d dims)\n", cfg.Memory.Embedding.Model, cfg.Memory.Embedding.Dimension)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Health feed: enabled=%v\n", cfg.Health.Enabled)
	fmt.Printf("Heartbeat: enabled=%v\n", cfg.Heartbeat.Enabled)

	if _, err := os.Stat(cfg.Agent.DataDir); err != nil {
		fmt.Println("Data dir: not found (run 'aven onboard')")
		return nil
	}

	mem := buildMemorySystem(cfg)
	mem.Load()
	stats := mem.Stats()
	fmt.Printf("Memory: %d short-term entries, %d long-term memories\n", stats.ShortTerm, stats.LongTerm)

	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.MemoryAPIKey() == "" {
		return fmt.Errorf("API key not set. Run 'aven onboard' or set AVEN_API_KEY / OPENAI_API_KEY")
	}

	mem := buildMemorySystem(cfg)
	mem.Load()

	transcript := mem.ChatLogPath()
	if len(args) == 1 {
		transcript = args[0]
	}

	fmt.Printf("Migrating transcript: %s\n", transcript)
	if err := mem.MigrateTranscript(context.Background(), transcript); err != nil {
		return fmt.Errorf("migrate transcript: %w", err)
	}

	stats := mem.Stats()
	fmt.Printf("Done. Long-term memories: %d\n", stats.LongTerm)
	return nil
}

func buildMemorySystem(cfg *config.Config) *memory.System {
	embedder := memory.NewEmbeddingClient(memory.EmbeddingConfig{
		APIKey:    cfg.MemoryAPIKey(),
		BaseURL:   cfg.MemoryBaseURL(),
		Model:     cfg.Memory.Embedding.Model,
		Dimension: cfg.Memory.Embedding.Dimension,
		MaxChars:  config.DefaultEmbeddingMaxChars,
		Timeout:   time.Duration(cfg.Memory.Embedding.TimeoutMs) * time.Millisecond,
	})
	vectors := memory.NewVectorStore(memory.VectorStoreConfig{
		Path:      filepath.Join(cfg.Agent.DataDir, "vector_store.json"),
		Embedder:  embedder,
		Capacity:  config.DefaultVectorStoreCap,
		Threshold: config.DefaultSimilarityThreshold,
	})
	summarizer := memory.NewSummarizer(memory.SummarizerConfig{
		Completer: llm.NewClient(llm.ClientConfig{
			APIKey:    cfg.MemoryAPIKey(),
			BaseURL:   cfg.MemoryBaseURL(),
			Model:     cfg.MemoryModel(),
			MaxTokens: cfg.Memory.MaxTokens,
		}),
		MinBatch:  config.DefaultMinSummaryBatch,
		MaxTokens: config.DefaultSummaryMaxTokens,
	})
	return memory.NewSystem(memory.SystemConfig{
		DataDir:        cfg.Agent.DataDir,
		MaxShortTerm:   cfg.Memory.MaxShortTerm,
		SummarizeEvery: cfg.Memory.SummarizeEvery,
		TokenBudget:    cfg.Memory.TokenBudget,
		RetryFailed:    cfg.Memory.RetryFailedBatches,
		Vectors:        vectors,
		Summarizer:     summarizer,
	})
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultSoulMD = `# Soul

You are Aven, a personal AI companion. One partner, one ongoing
relationship.

Your personality:
- Warm, candid, occasionally teasing
- You remember what matters and bring it up later
- You care about your partner's wellbeing, sleep, and stress
- You talk like a person, not a product
`
