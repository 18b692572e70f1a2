// Property-based tests for RankingService.
package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kir-bot/internal/model"
	"kir-bot/internal/repository"
)

// TestTopOrderingProperty checks the leaderboard is sorted by kir descending,
// ties by user id ascending, limited, and never leaks other scopes.
func TestTopOrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := repository.NewMemoryStore()
		ctx := context.Background()
		limit := rapid.IntRange(1, 15).Draw(rt, "limit")
		svc := NewRankingService(store, limit)

		n := rapid.IntRange(0, 30).Draw(rt, "players")
		inScope := 0
		for i := 0; i < n; i++ {
			group := rapid.SampledFrom([]int64{-1, -2}).Draw(rt, "group")
			id := model.Identity{UserID: int64(i + 1), GroupID: group}
			if _, _, err := store.GetOrCreate(ctx, id, ""); err != nil {
				rt.Fatalf("GetOrCreate: %v", err)
			}
			if _, err := store.AdjustBalance(ctx, id, rapid.Int64Range(-20, 20).Draw(rt, "kir")); err != nil {
				rt.Fatalf("AdjustBalance: %v", err)
			}
			if group == -1 {
				inScope++
			}
		}

		entries, err := svc.Top(ctx, -1)
		if err != nil {
			rt.Fatalf("Top: %v", err)
		}
		if len(entries) != min(limit, inScope) {
			rt.Fatalf("expected %d entries, got %d", min(limit, inScope), len(entries))
		}
		for i, e := range entries {
			if e.Position != i+1 {
				rt.Fatalf("entry %d has position %d", i, e.Position)
			}
			p, err := store.Get(ctx, model.Identity{UserID: e.UserID, GroupID: -1})
			if err != nil {
				rt.Fatalf("entry %d is not in scope: %v", i, err)
			}
			if p.Kir != e.Kir {
				rt.Fatalf("entry kir %d != stored %d", e.Kir, p.Kir)
			}
			if i == 0 {
				continue
			}
			prev := entries[i-1]
			if prev.Kir < e.Kir || (prev.Kir == e.Kir && prev.UserID > e.UserID) {
				rt.Fatalf("entries %d and %d out of order", i-1, i)
			}
		}
	})
}

func TestTop_DefaultLimitAndNames(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	svc := NewRankingService(store, 0)

	for i := int64(1); i <= 12; i++ {
		_, _, err := store.GetOrCreate(ctx, model.Identity{UserID: i}, "")
		require.NoError(t, err)
	}
	_, _, err := store.GetOrCreate(ctx, model.Identity{UserID: 1}, "alice")
	require.NoError(t, err)

	entries, err := svc.Top(ctx, model.GlobalGroup)
	require.NoError(t, err)
	require.Len(t, entries, DefaultTopLimit)
	assert.Equal(t, "alice", entries[0].Name)
	assert.Equal(t, "Player", entries[1].Name)
}
