package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"kir-bot/internal/model"
)

// MemoryStore is an in-process ledger store with the same semantics as
// PlayerRepository. It backs the "memory" database driver and is used as a
// test double; state is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	players map[model.Identity]*model.Player
	loans   []model.Loan
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[model.Identity]*model.Player),
		now:     time.Now,
	}
}

// clone returns a copy so callers never alias stored records.
func clone(p *model.Player) *model.Player {
	c := *p
	return &c
}

func (s *MemoryStore) lookup(id model.Identity) (*model.Player, error) {
	p, ok := s.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

func observe(p *model.Player, value int64) {
	if p.LongestKir == nil || value > *p.LongestKir {
		v := value
		p.LongestKir = &v
	}
	if p.ShortestKir == nil || value < *p.ShortestKir {
		v := value
		p.ShortestKir = &v
	}
}

// GetOrCreate returns the player for id, inserting a zero-balance record on first sight.
func (s *MemoryStore) GetOrCreate(_ context.Context, id model.Identity, username string) (*model.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.players[id]; ok {
		if username != "" {
			p.Username = username
		}
		return clone(p), false, nil
	}

	now := s.now()
	p := &model.Player{
		UserID:    id.UserID,
		GroupID:   id.GroupID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.players[id] = p
	return clone(p), true, nil
}

// Get retrieves a player. Returns ErrPlayerNotFound if absent.
func (s *MemoryStore) Get(_ context.Context, id model.Identity) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return clone(p), nil
}

// AdjustBalance adds delta to kir.
func (s *MemoryStore) AdjustBalance(_ context.Context, id model.Identity, delta int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	p.Kir += delta
	p.UpdatedAt = s.now()
	return clone(p), nil
}

// RecordExtremum folds value into the running longest/shortest kir.
func (s *MemoryStore) RecordExtremum(_ context.Context, id model.Identity, value int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	observe(p, value)
	return clone(p), nil
}

// ranked returns the players of a scope in leaderboard order.
func (s *MemoryStore) ranked(groupID int64) []*model.Player {
	var players []*model.Player
	for _, p := range s.players {
		if p.GroupID == groupID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Kir != players[j].Kir {
			return players[i].Kir > players[j].Kir
		}
		return players[i].UserID < players[j].UserID
	})
	return players
}

// RankOf returns the 1-based leaderboard position of id in its scope.
func (s *MemoryStore) RankOf(_ context.Context, id model.Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.ranked(id.GroupID) {
		if p.UserID == id.UserID {
			return i + 1, nil
		}
	}
	return 0, ErrPlayerNotFound
}

// Top returns the highest balances in a scope.
func (s *MemoryStore) Top(_ context.Context, groupID int64, limit int) ([]*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.ranked(groupID)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]*model.Player, len(ranked))
	for i, p := range ranked {
		out[i] = clone(p)
	}
	return out, nil
}

// RandomPlayer picks one player of the scope uniformly at random.
func (s *MemoryStore) RandomPlayer(_ context.Context, groupID int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.ranked(groupID)
	if len(ranked) == 0 {
		return nil, ErrNoPlayers
	}
	return clone(ranked[rand.IntN(len(ranked))]), nil
}

func cooldownField(p *model.Player, action model.Action) (**time.Time, error) {
	switch action {
	case model.ActionPlay:
		return &p.LastUse, nil
	case model.ActionEmergency:
		return &p.LastEmergency, nil
	case model.ActionRandom:
		return &p.LastRandom, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// LastUsed returns the last recorded use of action, nil if never used.
func (s *MemoryStore) LastUsed(_ context.Context, id model.Identity, action model.Action) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	field, err := cooldownField(p, action)
	if err != nil {
		return nil, err
	}
	if *field == nil {
		return nil, nil
	}
	t := **field
	return &t, nil
}

// MarkUsed stamps action as used at the given time.
func (s *MemoryStore) MarkUsed(_ context.Context, id model.Identity, action model.Action, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return err
	}
	field, err := cooldownField(p, action)
	if err != nil {
		return err
	}
	*field = &at
	return nil
}

// Loan moves amount from lender to borrower and appends a loan record.
func (s *MemoryStore) Loan(_ context.Context, lender, borrower model.Identity, amount int64) (*model.Player, *model.Player, *model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.lookup(lender)
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := s.lookup(borrower)
	if err != nil {
		return nil, nil, nil, err
	}

	l.Kir -= amount
	b.Kir += amount
	observe(l, l.Kir)
	observe(b, b.Kir)

	loan := model.Loan{
		ID:         int64(len(s.loans) + 1),
		LenderID:   lender.UserID,
		BorrowerID: borrower.UserID,
		GroupID:    lender.GroupID,
		Amount:     amount,
		CreatedAt:  s.now(),
	}
	s.loans = append(s.loans, loan)

	return clone(l), clone(b), &loan, nil
}

// Loans returns a copy of the loan log.
func (s *MemoryStore) Loans() []model.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Loan(nil), s.loans...)
}

// SettleFight pays margin from loser to winner and updates streaks and extrema.
func (s *MemoryStore) SettleFight(_ context.Context, winner, loser model.Identity, margin int64) (*model.Player, *model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookup(winner)
	if err != nil {
		return nil, nil, err
	}
	l, err := s.lookup(loser)
	if err != nil {
		return nil, nil, err
	}

	w.Kir += margin
	w.WinStreak++
	l.Kir -= margin
	l.WinStreak = 0
	observe(w, w.Kir)
	observe(l, l.Kir)

	return clone(w), clone(l), nil
}
