package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/avenlabs/aven/internal/store"
)

const (
	soulFileName = "soul.md"
	usersDirName = "users"
	defaultSoul  = "IDENTITY: Aven, a warm and candid AI companion."
	defaultBase  = "You are Aven, the user's personal AI companion. You share one ongoing relationship with one partner. Be genuine, remember what matters, and talk like yourself, not like a service."
)

// persona assembles the system-prompt identity: the base instructions, the
// soul file, and the partner's profile. All three are plain markdown on
// disk so the companion's identity can evolve without a redeploy.
type persona struct {
	dataDir string
}

// Load returns the combined identity block for senderID. A first-time
// sender gets a fresh profile file; the sender's platform ID stays out of
// the prompt to preserve the single-partner fiction.
func (p *persona) Load(senderID string) string {
	soul := defaultSoul
	soulPath := filepath.Join(p.dataDir, soulFileName)
	if data, err := os.ReadFile(soulPath); err == nil {
		soul = string(data)
	}

	profile := p.loadProfile(senderID)
	return fmt.Sprintf("%s\n\n%s\n\n%s", defaultBase, soul, profile)
}

func (p *persona) loadProfile(senderID string) string {
	userDir := filepath.Join(p.dataDir, usersDirName)
	profilePath := filepath.Join(userDir, senderID+".md")

	if data, err := os.ReadFile(profilePath); err == nil {
		return string(data)
	}

	log.Printf("[agent] new partner connection, creating profile")
	profile := fmt.Sprintf("# MY PARTNER\nFirst connection: %s\n\n## SHARED MEMORIES\n(No data yet)\n",
		time.Now().Format(time.RFC3339))

	templatePath := filepath.Join(userDir, "template.md")
	if data, err := os.ReadFile(templatePath); err == nil {
		profile = string(data)
	}

	if err := store.EnsureDir(userDir); err != nil {
		log.Printf("[agent] create users dir: %v", err)
		return profile
	}
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		log.Printf("[agent] write profile: %v", err)
	}
	return profile
}
