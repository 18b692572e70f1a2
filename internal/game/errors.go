package game

import (
	"errors"
	"fmt"
	"time"

	"kir-bot/internal/cooldown"
	"kir-bot/internal/model"
)

// Errors returned by the engine. No state has changed when any of them is returned.
var (
	ErrInvalidAmount   = errors.New("amount must be at least 1")
	ErrSelfTarget      = errors.New("cannot target yourself")
	ErrUnknownPlayer   = errors.New("player has not joined the game")
	ErrInsufficientKir = errors.New("both players need at least 1 kir")
	ErrNotBroke        = errors.New("emergency kir is only for balances of 0 or less")
	ErrNoPlayers       = errors.New("no players in this chat yet")
)

// CooldownError reports an action used before its cooldown elapsed.
type CooldownError struct {
	Action    model.Action
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s is on cooldown for %s", e.Action, cooldown.FormatRemaining(e.Remaining))
}
