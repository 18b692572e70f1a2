package service

import (
	"context"
	"fmt"
)

// DefaultTopLimit is the leaderboard size.
const DefaultTopLimit = 10

// Entry is one leaderboard line.
type Entry struct {
	Position int
	UserID   int64
	Name     string
	Kir      int64
}

// RankingService builds leaderboards.
type RankingService struct {
	store PlayerStore
	limit int
}

// NewRankingService creates a RankingService returning at most limit entries.
func NewRankingService(store PlayerStore, limit int) *RankingService {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return &RankingService{store: store, limit: limit}
}

// Top returns the leaderboard of a scope, highest kir first, ties broken by
// user id.
func (s *RankingService) Top(ctx context.Context, groupID int64) ([]Entry, error) {
	players, err := s.store.Top(ctx, groupID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	entries := make([]Entry, len(players))
	for i, p := range players {
		entries[i] = Entry{
			Position: i + 1,
			UserID:   p.UserID,
			Name:     p.DisplayName(),
			Kir:      p.Kir,
		}
	}
	return entries, nil
}
