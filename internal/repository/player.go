// Package repository provides the ledger store implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kir-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrNoPlayers      = errors.New("no players in scope")
	ErrUnknownAction  = errors.New("unknown cooldown action")
)

const playerColumns = `user_id, group_id, username, kir, last_use, last_random, last_emergency,
	win_streak, longest_kir, shortest_kir, created_at, updated_at`

// Running extrema, NULL meaning "not observed yet". $3 is the observed value.
const extremumAssignments = `
	longest_kir = CASE WHEN longest_kir IS NULL OR $3 > longest_kir THEN $3 ELSE longest_kir END,
	shortest_kir = CASE WHEN shortest_kir IS NULL OR $3 < shortest_kir THEN $3 ELSE shortest_kir END`

// cooldownColumn maps an action to its timestamp column.
// Only values from this map are ever interpolated into SQL.
var cooldownColumn = map[model.Action]string{
	model.ActionPlay:      "last_use",
	model.ActionEmergency: "last_emergency",
	model.ActionRandom:    "last_random",
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PlayerRepository is the PostgreSQL ledger store.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.UserID,
		&p.GroupID,
		&p.Username,
		&p.Kir,
		&p.LastUse,
		&p.LastRandom,
		&p.LastEmergency,
		&p.WinStreak,
		&p.LongestKir,
		&p.ShortestKir,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPlayerNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// GetOrCreate returns the player for id, inserting a zero-balance record on
// first sight. The upsert makes concurrent first interactions safe; the
// display name is refreshed to the latest value.
func (r *PlayerRepository) GetOrCreate(ctx context.Context, id model.Identity, username string) (*model.Player, bool, error) {
	const query = `
		INSERT INTO players (user_id, group_id, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, group_id) DO UPDATE
		SET username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE players.username END
		RETURNING ` + playerColumns + `, (xmax = 0) AS inserted
	`

	var p model.Player
	var inserted bool
	err := r.pool.QueryRow(ctx, query, id.UserID, id.GroupID, username).Scan(
		&p.UserID,
		&p.GroupID,
		&p.Username,
		&p.Kir,
		&p.LastUse,
		&p.LastRandom,
		&p.LastEmergency,
		&p.WinStreak,
		&p.LongestKir,
		&p.ShortestKir,
		&p.CreatedAt,
		&p.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create player: %w", err)
	}

	return &p, inserted, nil
}

// Get retrieves a player. Returns ErrPlayerNotFound if absent.
func (r *PlayerRepository) Get(ctx context.Context, id model.Identity) (*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE user_id = $1 AND group_id = $2`

	p, err := scanPlayer(r.pool.QueryRow(ctx, query, id.UserID, id.GroupID))
	if err != nil {
		return nil, notFound(err, "get player")
	}
	return p, nil
}

// AdjustBalance atomically adds delta to kir. No floor is applied.
func (r *PlayerRepository) AdjustBalance(ctx context.Context, id model.Identity, delta int64) (*model.Player, error) {
	return adjustBalance(ctx, r.pool, id, delta)
}

func adjustBalance(ctx context.Context, q querier, id model.Identity, delta int64) (*model.Player, error) {
	const query = `
		UPDATE players
		SET kir = kir + $3, updated_at = NOW()
		WHERE user_id = $1 AND group_id = $2
		RETURNING ` + playerColumns

	p, err := scanPlayer(q.QueryRow(ctx, query, id.UserID, id.GroupID, delta))
	if err != nil {
		return nil, notFound(err, "adjust balance")
	}
	return p, nil
}

// RecordExtremum folds value into the running longest/shortest kir.
func (r *PlayerRepository) RecordExtremum(ctx context.Context, id model.Identity, value int64) (*model.Player, error) {
	return recordExtremum(ctx, r.pool, id, value)
}

func recordExtremum(ctx context.Context, q querier, id model.Identity, value int64) (*model.Player, error) {
	const query = `
		UPDATE players
		SET ` + extremumAssignments + `
		WHERE user_id = $1 AND group_id = $2
		RETURNING ` + playerColumns

	p, err := scanPlayer(q.QueryRow(ctx, query, id.UserID, id.GroupID, value))
	if err != nil {
		return nil, notFound(err, "record extremum")
	}
	return p, nil
}

// RankOf returns the 1-based position of id in its scope, ordering by kir
// descending and user id ascending.
func (r *PlayerRepository) RankOf(ctx context.Context, id model.Identity) (int, error) {
	const query = `
		SELECT pos FROM (
			SELECT user_id, ROW_NUMBER() OVER (ORDER BY kir DESC, user_id ASC) AS pos
			FROM players
			WHERE group_id = $2
		) ranked
		WHERE user_id = $1
	`

	var rank int64
	if err := r.pool.QueryRow(ctx, query, id.UserID, id.GroupID).Scan(&rank); err != nil {
		return 0, notFound(err, "get rank")
	}
	return int(rank), nil
}

// Top returns the highest balances in a scope.
func (r *PlayerRepository) Top(ctx context.Context, groupID int64, limit int) ([]*model.Player, error) {
	const query = `
		SELECT ` + playerColumns + `
		FROM players
		WHERE group_id = $1
		ORDER BY kir DESC, user_id ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top players: %w", err)
	}
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}

	return players, nil
}

// RandomPlayer picks one player of the scope uniformly at random.
func (r *PlayerRepository) RandomPlayer(ctx context.Context, groupID int64) (*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE group_id = $1 ORDER BY random() LIMIT 1`

	p, err := scanPlayer(r.pool.QueryRow(ctx, query, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPlayers
		}
		return nil, fmt.Errorf("failed to pick random player: %w", err)
	}
	return p, nil
}

// LastUsed returns the last recorded use of action, nil if never used.
func (r *PlayerRepository) LastUsed(ctx context.Context, id model.Identity, action model.Action) (*time.Time, error) {
	column, ok := cooldownColumn[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	query := `SELECT ` + column + ` FROM players WHERE user_id = $1 AND group_id = $2`

	var last *time.Time
	if err := r.pool.QueryRow(ctx, query, id.UserID, id.GroupID).Scan(&last); err != nil {
		return nil, notFound(err, "get cooldown")
	}
	return last, nil
}

// MarkUsed stamps action as used at the given time.
func (r *PlayerRepository) MarkUsed(ctx context.Context, id model.Identity, action model.Action, at time.Time) error {
	column, ok := cooldownColumn[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	query := `UPDATE players SET ` + column + ` = $3, updated_at = NOW() WHERE user_id = $1 AND group_id = $2`

	result, err := r.pool.Exec(ctx, query, id.UserID, id.GroupID, at)
	if err != nil {
		return fmt.Errorf("failed to mark cooldown: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// SettleFight pays margin from loser to winner, bumps the winner's streak,
// resets the loser's and folds both new balances into their extrema, all in
// one transaction.
func (r *PlayerRepository) SettleFight(ctx context.Context, winner, loser model.Identity, margin int64) (*model.Player, *model.Player, error) {
	const streakQuery = `
		UPDATE players
		SET kir = kir + $3,
			win_streak = CASE WHEN $4 THEN win_streak + 1 ELSE 0 END,
			updated_at = NOW()
		WHERE user_id = $1 AND group_id = $2
		RETURNING kir
	`

	var w, l *model.Player
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var winnerKir, loserKir int64
		if err := tx.QueryRow(ctx, streakQuery, winner.UserID, winner.GroupID, margin, true).Scan(&winnerKir); err != nil {
			return notFound(err, "pay fight winner")
		}
		if err := tx.QueryRow(ctx, streakQuery, loser.UserID, loser.GroupID, -margin, false).Scan(&loserKir); err != nil {
			return notFound(err, "charge fight loser")
		}

		var err error
		if w, err = recordExtremum(ctx, tx, winner, winnerKir); err != nil {
			return err
		}
		if l, err = recordExtremum(ctx, tx, loser, loserKir); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return w, l, nil
}
