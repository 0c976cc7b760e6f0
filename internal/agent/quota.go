package agent

import (
	"log"
	"path/filepath"
	"time"

	"github.com/avenlabs/aven/internal/store"
)

const quotaFileName = "daily_stats.json"

type quotaDocument struct {
	Date  string `json:"date"`
	Calls int    `json:"calls"`
}

// callQuota caps how many times per day the companion may reach out on its
// own. Calls the partner explicitly asked for never count against it.
type callQuota struct {
	path   string
	maxPer int
	now    func() time.Time
}

func newCallQuota(dataDir string, maxPerDay int) *callQuota {
	if maxPerDay <= 0 {
		maxPerDay = 2
	}
	return &callQuota{
		path:   filepath.Join(dataDir, quotaFileName),
		maxPer: maxPerDay,
		now:    time.Now,
	}
}

func (q *callQuota) today() string {
	return q.now().Format("2006-01-02")
}

func (q *callQuota) load() quotaDocument {
	doc := quotaDocument{Date: q.today()}
	if !store.PathExists(q.path) {
		return doc
	}
	var loaded quotaDocument
	if err := store.ReadJSON(q.path, &loaded); err != nil {
		log.Printf("[agent] read call quota: %v", err)
		return doc
	}
	if loaded.Date != doc.Date {
		return doc
	}
	return loaded
}

// Used reports how many proactive calls happened today.
func (q *callQuota) Used() int {
	return q.load().Calls
}

// Allow reports whether another proactive call fits today's budget.
func (q *callQuota) Allow() bool {
	return q.load().Calls < q.maxPer
}

// Record counts one proactive call against today.
func (q *callQuota) Record() {
	doc := q.load()
	doc.Calls++
	if err := store.WriteJSON(q.path, doc); err != nil {
		log.Printf("[agent] persist call quota: %v", err)
	}
}
