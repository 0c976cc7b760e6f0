// Package health ingests biometric snapshots pushed by the partner's phone
// and renders them as a prompt context block while the data is fresh.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/avenlabs/aven/internal/config"
	"github.com/avenlabs/aven/internal/store"
)

const snapshotFileName = "health_status.json"

// Snapshot is one biometric report from the companion phone app.
type Snapshot struct {
	Timestamp     string    `json:"timestamp"`
	HeartRate     int       `json:"heartRate"`
	HeartRateAvg  int       `json:"heartRateAvg"`
	HRV           int       `json:"hrv"`
	IsSleeping    bool      `json:"isSleeping"`
	SleepStart    string    `json:"sleepStart,omitempty"`
	ScreenTimeMin int       `json:"screenTimeToday"`
	LastActiveApp string    `json:"lastActiveApp,omitempty"`
	Steps         int       `json:"steps,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`

	LastNightSleepMin int    `json:"lastNightSleepMinutes,omitempty"`
	LastNightBedtime  string `json:"lastNightBedtime,omitempty"`
	LastNightWakeTime string `json:"lastNightWakeTime,omitempty"`
	WeeklyAvgSleepMin int    `json:"weeklyAvgSleepMinutes,omitempty"`
}

// Service persists the latest snapshot and serves the ingest API.
type Service struct {
	path   string
	apiKey string
	maxAge time.Duration
	server *http.Server
	now    func() time.Time
}

func NewService(cfg config.HealthConfig, dataDir string) *Service {
	return &Service{
		path:   filepath.Join(dataDir, snapshotFileName),
		apiKey: cfg.APIKey,
		maxAge: time.Duration(config.DefaultHealthMaxAgeMin) * time.Minute,
		now:    time.Now,
	}
}

// Start serves POST/GET /api/health on addr until ctx is canceled.
func (s *Service) Start(ctx context.Context, host string, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Printf("[health] listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[health] server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		log.Printf("[health] unauthorized request from %s", r.RemoteAddr)
		writeJSONStatus(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleQuery(w)
	default:
		writeJSONStatus(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Service) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return false
	}
	provided := r.Header.Get("X-API-Key")
	if provided == "" {
		provided = r.URL.Query().Get("key")
	}
	return provided == s.apiKey
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var snap Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if snap.HeartRate <= 0 {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "missing heartRate"})
		return
	}

	snap.ReceivedAt = s.now()
	if err := store.WriteJSON(s.path, snap); err != nil {
		log.Printf("[health] persist snapshot: %v", err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "persist failed"})
		return
	}

	log.Printf("[health] received: hr=%d sleeping=%v hrv=%d", snap.HeartRate, snap.IsSleeping, snap.HRV)
	writeJSONStatus(w, http.StatusOK, map[string]any{"ok": true, "received": snap.ReceivedAt})
}

func (s *Service) handleQuery(w http.ResponseWriter) {
	if !store.PathExists(s.path) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"message": "no health data yet"})
		return
	}
	var snap Snapshot
	if err := store.ReadJSON(s.path, &snap); err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "read failed"})
		return
	}
	writeJSONStatus(w, http.StatusOK, snap)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Context renders the latest snapshot as a prompt block. Stale or missing
// data yields an empty string so the agent simply goes without.
func (s *Service) Context() string {
	if !store.PathExists(s.path) {
		return ""
	}
	var snap Snapshot
	if err := store.ReadJSON(s.path, &snap); err != nil {
		log.Printf("[health] read snapshot: %v", err)
		return ""
	}
	if s.now().Sub(snap.ReceivedAt) > s.maxAge {
		return ""
	}
	return formatContext(snap)
}

func formatContext(snap Snapshot) string {
	hrvNote := "normal"
	if snap.HRV < 40 {
		hrvNote = "elevated stress"
	}
	sleepState := "awake"
	if snap.IsSleeping {
		sleepState = "sleeping"
	}

	block := "BIOMETRIC DATA (real-time from the partner's watch):\n"
	block += fmt.Sprintf("- Heart rate: %d BPM (1h avg: %d)\n", snap.HeartRate, snap.HeartRateAvg)
	block += fmt.Sprintf("- HRV: %dms (%s)\n", snap.HRV, hrvNote)
	block += fmt.Sprintf("- Sleep state: %s\n", sleepState)
	if snap.SleepStart != "" {
		block += fmt.Sprintf("- Fell asleep at: %s\n", snap.SleepStart)
	}
	block += fmt.Sprintf("- Screen time today: %dh%dm\n", snap.ScreenTimeMin/60, snap.ScreenTimeMin%60)
	if snap.LastActiveApp != "" {
		block += fmt.Sprintf("- Last active app: %s\n", snap.LastActiveApp)
	}
	if snap.Steps > 0 {
		block += fmt.Sprintf("- Steps today: %d\n", snap.Steps)
	}
	if snap.LastNightSleepMin > 0 {
		block += fmt.Sprintf("- Last night's sleep: %dh%dm\n", snap.LastNightSleepMin/60, snap.LastNightSleepMin%60)
	}
	if snap.LastNightBedtime != "" {
		block += fmt.Sprintf("- Went to bed at: %s\n", snap.LastNightBedtime)
	}
	if snap.LastNightWakeTime != "" {
		block += fmt.Sprintf("- Woke up at: %s\n", snap.LastNightWakeTime)
	}
	if snap.WeeklyAvgSleepMin > 0 {
		block += fmt.Sprintf("- 7-day sleep average: %dh%dm per night\n", snap.WeeklyAvgSleepMin/60, snap.WeeklyAvgSleepMin%60)
	}
	return block
}
