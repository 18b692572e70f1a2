// Package notify delivers delayed "cooldown available" messages.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kir-bot/internal/model"
)

// Payload identifies who to remind about which action.
type Payload struct {
	UserID  int64
	GroupID int64
	ChatID  int64
	Name    string
	Action  model.Action
}

// Sender delivers a reminder.
type Sender interface {
	Notify(ctx context.Context, p Payload) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p Payload) error

// Notify calls f.
func (f SenderFunc) Notify(ctx context.Context, p Payload) error {
	return f(ctx, p)
}

// Scheduler fires one timer per scheduled payload.
// Delivery is best effort: failures are logged and never retried, and pending
// timers are lost on restart.
type Scheduler struct {
	sender  Sender
	timeout time.Duration

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*time.Timer
	stopped bool
}

// NewScheduler creates a Scheduler. timeout bounds each send; zero means no bound.
func NewScheduler(sender Sender, timeout time.Duration) *Scheduler {
	return &Scheduler{
		sender:  sender,
		timeout: timeout,
		pending: make(map[uint64]*time.Timer),
	}
}

// Schedule sends p after delay. It returns immediately.
func (s *Scheduler) Schedule(delay time.Duration, p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	id := s.nextID
	s.nextID++
	s.pending[id] = time.AfterFunc(delay, func() {
		s.fire(id, p)
	})
}

func (s *Scheduler) fire(id uint64, p Payload) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.sender.Notify(ctx, p); err != nil {
		log.Warn().Err(err).
			Int64("user_id", p.UserID).
			Int64("chat_id", p.ChatID).
			Str("action", string(p.Action)).
			Msg("Failed to send cooldown notification")
		return
	}

	log.Debug().
		Int64("user_id", p.UserID).
		Int64("chat_id", p.ChatID).
		Str("action", string(p.Action)).
		Msg("Cooldown notification sent")
}

// Pending returns the number of timers that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// Nop discards every payload. It is used when notifications are disabled.
type Nop struct{}

// Schedule does nothing.
func (Nop) Schedule(time.Duration, Payload) {}

// Stop does nothing.
func (Nop) Stop() {}
