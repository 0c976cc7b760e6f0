// Package heartbeat drives the companion's spontaneous check-ins: a cron
// schedule wakes it up, and if the partner has been quiet long enough (and
// it is not the middle of the night) it notifies the gateway's message loop,
// which gives the agent a chance to reach out. The scheduler itself never
// touches memory; check-ins run on the same sequential loop as inbound
// messages.
package heartbeat

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/avenlabs/aven/internal/config"
)

// Idle gate: no check-in unless the conversation has been silent this long.
const idleThreshold = 3 * time.Hour

// Target identifies where a proactive message should go: the last place the
// partner spoke from. ok is false until the first inbound message.
type Target struct {
	Channel  string
	SenderID string
	ChatID   string
}

type Scheduler struct {
	cfg          config.HeartbeatConfig
	target       func() (Target, bool)
	lastActivity func() time.Time
	ticks        chan Target
	cron         *rcron.Cron
	now          func() time.Time
}

func NewScheduler(cfg config.HeartbeatConfig, target func() (Target, bool), lastActivity func() time.Time) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		target:       target,
		lastActivity: lastActivity,
		ticks:        make(chan Target, 1),
		now:          time.Now,
	}
}

// Ticks delivers the targets of check-ins whose gates all passed. The
// consumer is expected to run the actual check-in on its own loop.
func (s *Scheduler) Ticks() <-chan Target {
	return s.ticks
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())
	if _, err := s.cron.AddFunc(s.cfg.CheckExpr, s.tick); err != nil {
		return fmt.Errorf("register heartbeat schedule %q: %w", s.cfg.CheckExpr, err)
	}
	s.cron.Start()
	log.Printf("[heartbeat] started (schedule %q)", s.cfg.CheckExpr)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		log.Printf("[heartbeat] stopped")
	}
}

// tick runs one scheduled check. Every gate that declines is cheap and
// silent; a tick that passes them all is handed to the message loop. If a
// previous tick is still pending there, this one is dropped.
func (s *Scheduler) tick() {
	now := s.now()
	if s.inQuietHours(now.Hour()) {
		return
	}

	target, ok := s.target()
	if !ok {
		return
	}

	if last := s.lastActivity(); last.IsZero() || now.Sub(last) < idleThreshold {
		return
	}

	select {
	case s.ticks <- target:
	default:
		log.Printf("[heartbeat] tick dropped, previous check-in still pending")
	}
}

// inQuietHours reports whether hour falls inside the configured window.
// The window may wrap midnight (e.g. 23 to 8).
func (s *Scheduler) inQuietHours(hour int) bool {
	start, end := s.cfg.QuietStartHour, s.cfg.QuietEndHour
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
