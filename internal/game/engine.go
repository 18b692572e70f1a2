package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kir-bot/internal/cooldown"
	"kir-bot/internal/model"
	"kir-bot/internal/notify"
	"kir-bot/internal/pkg/lock"
	"kir-bot/internal/repository"
)

// Ledger is the store the engine works against.
type Ledger interface {
	cooldown.Store
	GetOrCreate(ctx context.Context, id model.Identity, username string) (*model.Player, bool, error)
	Get(ctx context.Context, id model.Identity) (*model.Player, error)
	AdjustBalance(ctx context.Context, id model.Identity, delta int64) (*model.Player, error)
	RecordExtremum(ctx context.Context, id model.Identity, value int64) (*model.Player, error)
	RandomPlayer(ctx context.Context, groupID int64) (*model.Player, error)
	Loan(ctx context.Context, lender, borrower model.Identity, amount int64) (*model.Player, *model.Player, *model.Loan, error)
	SettleFight(ctx context.Context, winner, loser model.Identity, margin int64) (*model.Player, *model.Player, error)
}

// Scheduler queues a reminder for later delivery.
type Scheduler interface {
	Schedule(delay time.Duration, p notify.Payload)
}

// Cooldowns holds the cooldown of each gated action.
type Cooldowns struct {
	Play      time.Duration
	Emergency time.Duration
	Random    time.Duration
}

// For returns the cooldown of action.
func (c Cooldowns) For(action model.Action) time.Duration {
	switch action {
	case model.ActionPlay:
		return c.Play
	case model.ActionEmergency:
		return c.Emergency
	case model.ActionRandom:
		return c.Random
	}
	return 0
}

// DefaultCooldowns are the production cooldowns.
var DefaultCooldowns = Cooldowns{
	Play:      12 * time.Hour,
	Emergency: 24 * time.Hour,
	Random:    24 * time.Hour,
}

// PlayResult is the outcome of Play.
type PlayResult struct {
	Player *model.Player
	Delta  int64
}

// BoostResult is the outcome of EmergencyBoost.
type BoostResult struct {
	Player *model.Player
	Amount int64
}

// RandomBoostResult is the outcome of RandomBoost.
type RandomBoostResult struct {
	Recipient *model.Player
	Amount    int64
	// SelfPick is true when the invoker drew themselves.
	SelfPick bool
}

// LoanResult is the outcome of Loan.
type LoanResult struct {
	Lender   *model.Player
	Borrower *model.Player
	Loan     *model.Loan
}

// FightResult is the outcome of Fight.
type FightResult struct {
	Winner        *model.Player
	Loser         *model.Player
	Margin        int64
	ChallengerWon bool
	// Chance is the challenger's win probability going in.
	Chance float64
}

// Engine runs the game rules. Every read-check-write sequence runs under the
// identity lock of the players involved.
type Engine struct {
	ledger    Ledger
	locks     *lock.IdentityLock
	cooldowns *cooldown.Tracker
	durations Cooldowns
	rng       Rand
	scheduler Scheduler
}

// NewEngine creates an Engine using the global random source and no notifications.
func NewEngine(ledger Ledger, locks *lock.IdentityLock, durations Cooldowns) *Engine {
	return &Engine{
		ledger:    ledger,
		locks:     locks,
		cooldowns: cooldown.NewTracker(ledger),
		durations: durations,
		rng:       globalRand{},
		scheduler: notify.Nop{},
	}
}

// SetScheduler sets where cooldown reminders are queued.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// SetRand replaces the random source. The source must be safe for concurrent
// use if the engine is.
func (e *Engine) SetRand(r Rand) {
	e.rng = r
}

// SetClock replaces the clock used for cooldowns.
func (e *Engine) SetClock(now func() time.Time) {
	e.cooldowns = e.cooldowns.WithClock(now)
}

// ensure returns the actor's player, creating it if needed. A new player's
// zero balance is recorded as its first extremum.
func (e *Engine) ensure(ctx context.Context, actor model.Actor) (*model.Player, error) {
	p, created, err := e.ledger.GetOrCreate(ctx, actor.Identity, actor.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	if created {
		if p, err = e.ledger.RecordExtremum(ctx, actor.Identity, p.Kir); err != nil {
			return nil, fmt.Errorf("failed to record extremum: %w", err)
		}
	}
	return p, nil
}

func (e *Engine) checkCooldown(ctx context.Context, id model.Identity, action model.Action) error {
	remaining, err := e.cooldowns.Remaining(ctx, id, action, e.durations.For(action))
	if err != nil {
		return err
	}
	if remaining > 0 {
		return &CooldownError{Action: action, Remaining: remaining}
	}
	return nil
}

// credit applies delta, stamps action for the acting identity and records the
// recipient's new balance as an extremum.
func (e *Engine) credit(ctx context.Context, actor, recipient model.Identity, action model.Action, delta int64) (*model.Player, error) {
	p, err := e.ledger.AdjustBalance(ctx, recipient, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}
	if err := e.cooldowns.MarkUsed(ctx, actor, action); err != nil {
		return nil, err
	}
	if p, err = e.ledger.RecordExtremum(ctx, recipient, p.Kir); err != nil {
		return nil, fmt.Errorf("failed to record extremum: %w", err)
	}
	return p, nil
}

func (e *Engine) remind(actor model.Actor, action model.Action) {
	e.scheduler.Schedule(e.durations.For(action), notify.Payload{
		UserID:  actor.UserID,
		GroupID: actor.GroupID,
		ChatID:  actor.ChatID,
		Name:    actor.Name,
		Action:  action,
	})
}

// Enroll makes sure the actor has a player record, creating one with a zero
// balance on first sight.
func (e *Engine) Enroll(ctx context.Context, actor model.Actor) (*model.Player, error) {
	if err := e.locks.Acquire(ctx, actor.Identity); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(actor.Identity)
	return e.ensure(ctx, actor)
}

// Play changes the actor's kir by a uniform draw from [PlayMin, PlayMax].
func (e *Engine) Play(ctx context.Context, actor model.Actor) (*PlayResult, error) {
	if err := e.locks.Acquire(ctx, actor.Identity); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(actor.Identity)

	if _, err := e.ensure(ctx, actor); err != nil {
		return nil, err
	}
	if err := e.checkCooldown(ctx, actor.Identity, model.ActionPlay); err != nil {
		return nil, err
	}

	delta := RollRange(e.rng, PlayMin, PlayMax)
	p, err := e.credit(ctx, actor.Identity, actor.Identity, model.ActionPlay, delta)
	if err != nil {
		return nil, err
	}
	e.remind(actor, model.ActionPlay)

	log.Info().
		Int64("user_id", actor.UserID).
		Int64("group_id", actor.GroupID).
		Int64("delta", delta).
		Int64("kir", p.Kir).
		Msg("Play")

	return &PlayResult{Player: p, Delta: delta}, nil
}

// EmergencyBoost gives a player at or below zero a draw from
// [EmergencyMin, EmergencyMax].
func (e *Engine) EmergencyBoost(ctx context.Context, actor model.Actor) (*BoostResult, error) {
	if err := e.locks.Acquire(ctx, actor.Identity); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(actor.Identity)

	p, err := e.ensure(ctx, actor)
	if err != nil {
		return nil, err
	}
	if p.Kir > 0 {
		return nil, ErrNotBroke
	}
	if err := e.checkCooldown(ctx, actor.Identity, model.ActionEmergency); err != nil {
		return nil, err
	}

	amount := RollRange(e.rng, EmergencyMin, EmergencyMax)
	if p, err = e.credit(ctx, actor.Identity, actor.Identity, model.ActionEmergency, amount); err != nil {
		return nil, err
	}
	e.remind(actor, model.ActionEmergency)

	log.Info().
		Int64("user_id", actor.UserID).
		Int64("group_id", actor.GroupID).
		Int64("amount", amount).
		Msg("Emergency boost")

	return &BoostResult{Player: p, Amount: amount}, nil
}

// RandomBoost gives a uniformly chosen player in the invoker's scope a draw
// from [RandomBoostMin, RandomBoostMax]. The cooldown belongs to the invoker.
// Only the invoker is locked; the recipient changes through one atomic update.
func (e *Engine) RandomBoost(ctx context.Context, invoker model.Actor) (*RandomBoostResult, error) {
	if err := e.locks.Acquire(ctx, invoker.Identity); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(invoker.Identity)

	if _, err := e.ensure(ctx, invoker); err != nil {
		return nil, err
	}
	if err := e.checkCooldown(ctx, invoker.Identity, model.ActionRandom); err != nil {
		return nil, err
	}

	chosen, err := e.ledger.RandomPlayer(ctx, invoker.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNoPlayers) {
			return nil, ErrNoPlayers
		}
		return nil, fmt.Errorf("failed to pick player: %w", err)
	}

	amount := RollRange(e.rng, RandomBoostMin, RandomBoostMax)
	recipient, err := e.credit(ctx, invoker.Identity, chosen.Identity(), model.ActionRandom, amount)
	if err != nil {
		return nil, err
	}
	e.remind(invoker, model.ActionRandom)

	log.Info().
		Int64("user_id", invoker.UserID).
		Int64("group_id", invoker.GroupID).
		Int64("recipient_id", recipient.UserID).
		Int64("amount", amount).
		Msg("Random boost")

	return &RandomBoostResult{
		Recipient: recipient,
		Amount:    amount,
		SelfPick:  recipient.UserID == invoker.UserID,
	}, nil
}

// Loan moves amount from lender to borrower unconditionally; the lender may go
// negative. amount must be within [1, MaxLoanAmount].
func (e *Engine) Loan(ctx context.Context, lender, borrower model.Actor, amount int64) (*LoanResult, error) {
	if amount < 1 || amount > MaxLoanAmount {
		return nil, ErrInvalidAmount
	}
	if lender.Identity == borrower.Identity {
		return nil, ErrSelfTarget
	}

	unlock, err := e.locks.LockPair(ctx, lender.Identity, borrower.Identity)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.ensure(ctx, lender); err != nil {
		return nil, err
	}
	if _, err := e.ensure(ctx, borrower); err != nil {
		return nil, err
	}

	l, b, loan, err := e.ledger.Loan(ctx, lender.Identity, borrower.Identity, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to apply loan: %w", err)
	}

	log.Info().
		Int64("lender_id", lender.UserID).
		Int64("borrower_id", borrower.UserID).
		Int64("group_id", lender.GroupID).
		Int64("amount", amount).
		Msg("Loan")

	return &LoanResult{Lender: l, Borrower: b, Loan: loan}, nil
}

// fighter loads an existing player. Fights never create records.
func (e *Engine) fighter(ctx context.Context, id model.Identity) (*model.Player, error) {
	p, err := e.ledger.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, ErrUnknownPlayer
		}
		return nil, fmt.Errorf("failed to load fighter: %w", err)
	}
	return p, nil
}

// Fight resolves a contested transfer. The challenger wins with probability
// c/(c+d) and the margin is uniform in [1, min(c, d, MaxFightMargin)].
func (e *Engine) Fight(ctx context.Context, challenger, defender model.Actor) (*FightResult, error) {
	if challenger.Identity == defender.Identity {
		return nil, ErrSelfTarget
	}

	unlock, err := e.locks.LockPair(ctx, challenger.Identity, defender.Identity)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.fighter(ctx, challenger.Identity)
	if err != nil {
		return nil, err
	}
	d, err := e.fighter(ctx, defender.Identity)
	if err != nil {
		return nil, err
	}
	if c.Kir < 1 || d.Kir < 1 {
		return nil, ErrInsufficientKir
	}

	chance := ChallengerWinChance(c.Kir, d.Kir)
	won := e.rng.Float64() < chance
	margin := RollFightMargin(e.rng, c.Kir, d.Kir)

	winner, loser := challenger.Identity, defender.Identity
	if !won {
		winner, loser = loser, winner
	}

	w, l, err := e.ledger.SettleFight(ctx, winner, loser, margin)
	if err != nil {
		return nil, fmt.Errorf("failed to settle fight: %w", err)
	}

	log.Info().
		Int64("challenger_id", challenger.UserID).
		Int64("defender_id", defender.UserID).
		Int64("group_id", challenger.GroupID).
		Bool("challenger_won", won).
		Int64("margin", margin).
		Msg("Fight")

	return &FightResult{
		Winner:        w,
		Loser:         l,
		Margin:        margin,
		ChallengerWon: won,
		Chance:        chance,
	}, nil
}
