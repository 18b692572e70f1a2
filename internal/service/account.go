// Package service provides the account and leaderboard operations that sit
// beside the game engine.
package service

import (
	"context"
	"fmt"

	"kir-bot/internal/model"
	"kir-bot/internal/pkg/lock"
)

// PlayerStore is the subset of the ledger used for accounts.
type PlayerStore interface {
	GetOrCreate(ctx context.Context, id model.Identity, username string) (*model.Player, bool, error)
	RecordExtremum(ctx context.Context, id model.Identity, value int64) (*model.Player, error)
	RankOf(ctx context.Context, id model.Identity) (int, error)
	Top(ctx context.Context, groupID int64, limit int) ([]*model.Player, error)
}

// State is a player's report card.
type State struct {
	Player *model.Player
	Rank   int
}

// AccountService handles registration and state reports.
type AccountService struct {
	store PlayerStore
	locks *lock.IdentityLock
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store PlayerStore, locks *lock.IdentityLock) *AccountService {
	return &AccountService{store: store, locks: locks}
}

// Register ensures the actor has a player record.
// Returns the player and whether it was newly created.
func (s *AccountService) Register(ctx context.Context, actor model.Actor) (p *model.Player, created bool, err error) {
	err = s.locks.WithLock(ctx, actor.Identity, func() error {
		p, created, err = s.store.GetOrCreate(ctx, actor.Identity, actor.Name)
		if err != nil {
			return fmt.Errorf("failed to ensure player: %w", err)
		}
		if created {
			if p, err = s.store.RecordExtremum(ctx, actor.Identity, p.Kir); err != nil {
				return fmt.Errorf("failed to record extremum: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// State returns the actor's player and leaderboard position. The current
// balance is folded into the extrema so they are never unset for a player
// who has looked at their state.
func (s *AccountService) State(ctx context.Context, actor model.Actor) (*State, error) {
	p, _, err := s.Register(ctx, actor)
	if err != nil {
		return nil, err
	}

	if p, err = s.store.RecordExtremum(ctx, actor.Identity, p.Kir); err != nil {
		return nil, fmt.Errorf("failed to record extremum: %w", err)
	}

	rank, err := s.store.RankOf(ctx, actor.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get rank: %w", err)
	}

	return &State{Player: p, Rank: rank}, nil
}
