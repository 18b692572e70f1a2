// Package cooldown gates repeated use of time-limited actions.
//
// Timestamps live on the player record. The clock is the host wall clock, so
// a clock change can stretch or shorten an effective cooldown.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kir-bot/internal/model"
	"kir-bot/internal/repository"
)

// Store persists the last use of each action.
type Store interface {
	LastUsed(ctx context.Context, id model.Identity, action model.Action) (*time.Time, error)
	MarkUsed(ctx context.Context, id model.Identity, action model.Action, at time.Time) error
}

// Tracker answers "may this identity use this action now".
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a Tracker using the wall clock.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// WithClock returns a copy of the tracker reading time from now.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	return &Tracker{store: t.store, now: now}
}

// Remaining returns how long until action is allowed again, 0 if it is
// allowed now. An identity with no record has never used anything.
func (t *Tracker) Remaining(ctx context.Context, id model.Identity, action model.Action, cooldown time.Duration) (time.Duration, error) {
	last, err := t.store.LastUsed(ctx, id, action)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cooldown: %w", err)
	}
	if last == nil {
		return 0, nil
	}

	elapsed := t.now().Sub(*last)
	if elapsed >= cooldown {
		return 0, nil
	}
	return cooldown - elapsed, nil
}

// IsAllowed reports whether action may be used now.
func (t *Tracker) IsAllowed(ctx context.Context, id model.Identity, action model.Action, cooldown time.Duration) (bool, error) {
	remaining, err := t.Remaining(ctx, id, action, cooldown)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// MarkUsed stamps the current time for action.
func (t *Tracker) MarkUsed(ctx context.Context, id model.Identity, action model.Action) error {
	if err := t.store.MarkUsed(ctx, id, action, t.now()); err != nil {
		return fmt.Errorf("failed to mark cooldown: %w", err)
	}
	return nil
}

// FormatRemaining renders a duration as "5h 3m 2s".
func FormatRemaining(d time.Duration) string {
	d = d.Truncate(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
