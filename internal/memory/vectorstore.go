package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avenlabs/aven/internal/store"
)

const vectorSchemaVersion = 1

// vectorDocument is the persisted shape of the long-term store. The version
// field lets future schema changes migrate old files in place.
type vectorDocument struct {
	Version int      `json:"version"`
	Vectors []Vector `json:"vectors"`
}

// VectorStore holds long-term memories in insertion order, persisted as a
// single JSON document rewritten on every mutation. Capacity is enforced
// FIFO: when full, the oldest memory is evicted.
type VectorStore struct {
	path      string
	embedder  Embedder
	capacity  int
	threshold float64
	vectors   []Vector
	loaded    bool
}

type VectorStoreConfig struct {
	Path      string
	Embedder  Embedder
	Capacity  int
	Threshold float64
}

func NewVectorStore(cfg VectorStoreConfig) *VectorStore {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	return &VectorStore{
		path:      cfg.Path,
		embedder:  cfg.Embedder,
		capacity:  capacity,
		threshold: threshold,
	}
}

// load reads the persisted document on first use. A missing or unreadable
// file starts an empty store rather than failing the conversation.
func (s *VectorStore) load() {
	if s.loaded {
		return
	}
	s.loaded = true

	if !store.PathExists(s.path) {
		return
	}
	var doc vectorDocument
	if err := store.ReadJSON(s.path, &doc); err != nil {
		log.Printf("[vectorstore] load failed, starting empty: %v", err)
		return
	}
	s.vectors = doc.Vectors
	log.Printf("[vectorstore] loaded %d memories", len(s.vectors))
}

func (s *VectorStore) save() {
	doc := vectorDocument{Version: vectorSchemaVersion, Vectors: s.vectors}
	if doc.Vectors == nil {
		doc.Vectors = []Vector{}
	}
	if err := store.WriteJSON(s.path, doc); err != nil {
		log.Printf("[vectorstore] save failed: %v", err)
	}
}

// Add stores a new memory. The summary, not the raw text, is embedded: it is
// what retrieval matches against.
func (s *VectorStore) Add(ctx context.Context, rawText, summary string, messageCount int) {
	s.load()

	vec := Vector{
		ID:           newMemoryID(),
		Text:         rawText,
		Summary:      summary,
		Embedding:    s.embedder.Embed(ctx, summary),
		Timestamp:    time.Now(),
		MessageCount: messageCount,
	}
	s.vectors = append(s.vectors, vec)
	if len(s.vectors) > s.capacity {
		s.vectors = s.vectors[len(s.vectors)-s.capacity:]
	}
	s.save()
}

// Search returns up to topK memories ranked by cosine similarity to query,
// excluding anything at or below the relevance threshold. An empty store
// short-circuits before spending an embedding call.
func (s *VectorStore) Search(ctx context.Context, query string, topK int) []Vector {
	s.load()
	if len(s.vectors) == 0 || topK <= 0 {
		return nil
	}

	queryVec := s.embedder.Embed(ctx, query)

	type scored struct {
		vec   Vector
		score float64
	}
	ranked := make([]scored, 0, len(s.vectors))
	for _, v := range s.vectors {
		ranked = append(ranked, scored{vec: v, score: CosineSimilarity(queryVec, v.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	results := make([]Vector, 0, topK)
	for _, r := range ranked {
		if len(results) >= topK {
			break
		}
		if r.score > s.threshold {
			results = append(results, r.vec)
		}
	}
	return results
}

// Count reports how many memories are stored.
func (s *VectorStore) Count() int {
	s.load()
	return len(s.vectors)
}

func newMemoryID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("mem_%d_%s", time.Now().UnixMilli(), suffix)
}
