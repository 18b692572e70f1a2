package game

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kir-bot/internal/model"
	"kir-bot/internal/notify"
	"kir-bot/internal/pkg/lock"
	"kir-bot/internal/repository"
)

// scriptedRand returns queued values, then the zero value.
type scriptedRand struct {
	mu     sync.Mutex
	ints   []int
	floats []float64
}

func (r *scriptedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v >= n {
		v = n - 1
	}
	return v
}

func (r *scriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

type scheduled struct {
	delay   time.Duration
	payload notify.Payload
}

type recordingScheduler struct {
	mu  sync.Mutex
	got []scheduled
}

func (s *recordingScheduler) Schedule(delay time.Duration, p notify.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, scheduled{delay: delay, payload: p})
}

type fixture struct {
	engine *Engine
	store  *repository.MemoryStore
	sched  *recordingScheduler
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(),
		sched: &recordingScheduler{},
		now:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.store, lock.New(), DefaultCooldowns)
	f.engine.SetScheduler(f.sched)
	f.engine.SetClock(func() time.Time { return f.now })
	return f
}

func actor(userID int64, name string) model.Actor {
	return model.Actor{
		Identity: model.Identity{UserID: userID, GroupID: -100},
		Name:     name,
		ChatID:   -100,
	}
}

// setKir creates the player if needed and sets its balance exactly.
func (f *fixture) setKir(t *testing.T, a model.Actor, kir int64) {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.store.GetOrCreate(ctx, a.Identity, a.Name)
	require.NoError(t, err)
	_, err = f.store.AdjustBalance(ctx, a.Identity, kir-p.Kir)
	require.NoError(t, err)
}

func (f *fixture) kir(t *testing.T, a model.Actor) int64 {
	t.Helper()
	p, err := f.store.Get(context.Background(), a.Identity)
	require.NoError(t, err)
	return p.Kir
}

func TestPlay_CreatesPlayerAndAppliesDelta(t *testing.T) {
	f := newFixture(t)
	f.engine.SetRand(&scriptedRand{ints: []int{20}}) // IntN(21) = 20, so +15

	res, err := f.engine.Play(context.Background(), actor(1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Delta)
	assert.Equal(t, int64(15), res.Player.Kir)
	require.NotNil(t, res.Player.LongestKir)
	require.NotNil(t, res.Player.ShortestKir)
	assert.Equal(t, int64(15), *res.Player.LongestKir)
	assert.Equal(t, int64(0), *res.Player.ShortestKir)
}

func TestPlay_CooldownBlocksSecondPlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := actor(1, "alice")

	_, err := f.engine.Play(ctx, a)
	require.NoError(t, err)
	before := f.kir(t, a)

	f.now = f.now.Add(time.Hour)
	_, err = f.engine.Play(ctx, a)
	var cdErr *CooldownError
	require.ErrorAs(t, err, &cdErr)
	assert.Equal(t, model.ActionPlay, cdErr.Action)
	assert.Equal(t, 11*time.Hour, cdErr.Remaining)
	assert.Equal(t, before, f.kir(t, a))

	f.now = f.now.Add(11 * time.Hour)
	_, err = f.engine.Play(ctx, a)
	assert.NoError(t, err)
}

func TestPlay_SchedulesReminder(t *testing.T) {
	f := newFixture(t)
	a := actor(1, "alice")

	_, err := f.engine.Play(context.Background(), a)
	require.NoError(t, err)

	require.Len(t, f.sched.got, 1)
	assert.Equal(t, 12*time.Hour, f.sched.got[0].delay)
	assert.Equal(t, notify.Payload{
		UserID:  1,
		GroupID: -100,
		ChatID:  -100,
		Name:    "alice",
		Action:  model.ActionPlay,
	}, f.sched.got[0].payload)
}

// TestPlayRangeProperty checks the balance moves by a value in [-5, 15].
func TestPlayRangeProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		start := rapid.Int64Range(-100, 100).Draw(rt, "start")
		a := actor(rapid.Int64Range(1, 1000).Draw(rt, "user"), "p")
		f.setKir(t, a, start)

		res, err := f.engine.Play(context.Background(), a)
		if err != nil {
			rt.Fatalf("Play: %v", err)
		}
		if res.Delta < PlayMin || res.Delta > PlayMax {
			rt.Fatalf("delta %d out of range", res.Delta)
		}
		if res.Player.Kir != start+res.Delta {
			rt.Fatalf("kir %d != %d + %d", res.Player.Kir, start, res.Delta)
		}
	})
}

func TestEmergencyBoost(t *testing.T) {
	ctx := context.Background()

	t.Run("RefusedWhenPositive", func(t *testing.T) {
		f := newFixture(t)
		a := actor(1, "alice")
		f.setKir(t, a, 1)

		_, err := f.engine.EmergencyBoost(ctx, a)
		assert.ErrorIs(t, err, ErrNotBroke)
		assert.Equal(t, int64(1), f.kir(t, a))
		assert.Empty(t, f.sched.got)
	})

	t.Run("GrantedAtZeroThenCooldown", func(t *testing.T) {
		f := newFixture(t)
		a := actor(1, "alice")
		f.setKir(t, a, -20)

		res, err := f.engine.EmergencyBoost(ctx, a)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Amount, int64(EmergencyMin))
		assert.LessOrEqual(t, res.Amount, int64(EmergencyMax))
		assert.Equal(t, -20+res.Amount, res.Player.Kir)

		_, err = f.engine.EmergencyBoost(ctx, a)
		var cdErr *CooldownError
		require.ErrorAs(t, err, &cdErr)
		assert.Equal(t, model.ActionEmergency, cdErr.Action)
	})

	t.Run("NewPlayerQualifies", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.engine.EmergencyBoost(ctx, actor(9, "new"))
		require.NoError(t, err)
		assert.Equal(t, res.Amount, res.Player.Kir)
	})
}

func TestRandomBoost(t *testing.T) {
	ctx := context.Background()

	t.Run("ChoosesWithinScope", func(t *testing.T) {
		f := newFixture(t)
		a := actor(1, "alice")
		b := actor(2, "bob")
		outsider := model.Actor{Identity: model.Identity{UserID: 3, GroupID: -999}, Name: "carol"}
		f.setKir(t, a, 0)
		f.setKir(t, b, 0)
		f.setKir(t, outsider, 0)

		res, err := f.engine.RandomBoost(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(-100), res.Recipient.GroupID)
		assert.GreaterOrEqual(t, res.Amount, int64(RandomBoostMin))
		assert.LessOrEqual(t, res.Amount, int64(RandomBoostMax))
		assert.Equal(t, res.Amount, res.Recipient.Kir)
		assert.Equal(t, res.Recipient.UserID == 1, res.SelfPick)
		assert.Equal(t, int64(0), f.kir(t, outsider))
	})

	t.Run("CooldownIsKeyedToInvoker", func(t *testing.T) {
		f := newFixture(t)
		a := actor(1, "alice")
		b := actor(2, "bob")

		_, err := f.engine.RandomBoost(ctx, a)
		require.NoError(t, err)

		_, err = f.engine.RandomBoost(ctx, a)
		var cdErr *CooldownError
		require.ErrorAs(t, err, &cdErr)
		assert.Equal(t, model.ActionRandom, cdErr.Action)

		_, err = f.engine.RandomBoost(ctx, b)
		assert.NoError(t, err)
	})
}

func TestLoan(t *testing.T) {
	ctx := context.Background()
	lender := actor(1, "alice")
	borrower := actor(2, "bob")

	t.Run("InvalidAmount", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []int64{0, -3, MaxLoanAmount + 1, math.MaxInt64} {
			_, err := f.engine.Loan(ctx, lender, borrower, amount)
			assert.ErrorIs(t, err, ErrInvalidAmount, "amount %d", amount)
		}
		assert.Empty(t, f.store.Loans())
		_, err := f.store.Get(ctx, lender.Identity)
		assert.ErrorIs(t, err, repository.ErrPlayerNotFound)
	})

	t.Run("RepeatedMaxLoansDebitExactly", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 2; i++ {
			_, err := f.engine.Loan(ctx, lender, borrower, MaxLoanAmount)
			require.NoError(t, err)
		}
		assert.Equal(t, -2*MaxLoanAmount, f.kir(t, lender))
		assert.Equal(t, 2*MaxLoanAmount, f.kir(t, borrower))
	})

	t.Run("SelfLoan", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Loan(ctx, lender, lender, 5)
		assert.ErrorIs(t, err, ErrSelfTarget)
	})

	t.Run("LenderMayGoNegative", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, lender, 3)
		f.setKir(t, borrower, 4)

		res, err := f.engine.Loan(ctx, lender, borrower, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(-7), res.Lender.Kir)
		assert.Equal(t, int64(14), res.Borrower.Kir)
		assert.Equal(t, int64(10), res.Loan.Amount)
		assert.Len(t, f.store.Loans(), 1)
		assert.Equal(t, int64(-7), *res.Lender.ShortestKir)
	})

	t.Run("ConcurrentLoansConserveTotal", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, lender, 100)
		f.setKir(t, borrower, 100)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			from, to := lender, borrower
			if i%2 == 1 {
				from, to = borrower, lender
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.Loan(ctx, from, to, 3)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(200), f.kir(t, lender)+f.kir(t, borrower))
		assert.Len(t, f.store.Loans(), 50)
	})
}

func TestFight(t *testing.T) {
	ctx := context.Background()
	challenger := actor(1, "alice")
	defender := actor(2, "bob")

	t.Run("UnknownDefender", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, challenger, 10)
		_, err := f.engine.Fight(ctx, challenger, defender)
		assert.ErrorIs(t, err, ErrUnknownPlayer)
	})

	t.Run("UnknownChallengerIsNotCreated", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, defender, 10)
		_, err := f.engine.Fight(ctx, challenger, defender)
		assert.ErrorIs(t, err, ErrUnknownPlayer)

		_, err = f.store.Get(ctx, challenger.Identity)
		assert.ErrorIs(t, err, repository.ErrPlayerNotFound)
	})

	t.Run("SelfFight", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Fight(ctx, challenger, challenger)
		assert.ErrorIs(t, err, ErrSelfTarget)
	})

	t.Run("InsufficientKir", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, challenger, 10)
		f.setKir(t, defender, 0)

		_, err := f.engine.Fight(ctx, challenger, defender)
		assert.ErrorIs(t, err, ErrInsufficientKir)
		assert.Equal(t, int64(10), f.kir(t, challenger))
		assert.Equal(t, int64(0), f.kir(t, defender))
	})

	t.Run("ChallengerWins", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, challenger, 10)
		f.setKir(t, defender, 30)
		// 0.1 < 0.25 wins; IntN(10)=4 gives margin 5.
		f.engine.SetRand(&scriptedRand{floats: []float64{0.1}, ints: []int{4}})

		res, err := f.engine.Fight(ctx, challenger, defender)
		require.NoError(t, err)
		assert.True(t, res.ChallengerWon)
		assert.InDelta(t, 0.25, res.Chance, 1e-9)
		assert.Equal(t, int64(5), res.Margin)
		assert.Equal(t, int64(15), res.Winner.Kir)
		assert.Equal(t, int64(25), res.Loser.Kir)
		assert.Equal(t, int64(1), res.Winner.WinStreak)
		assert.Equal(t, int64(0), res.Loser.WinStreak)
	})

	t.Run("DefenderWinsAndResetsStreak", func(t *testing.T) {
		f := newFixture(t)
		f.setKir(t, challenger, 10)
		f.setKir(t, defender, 30)
		f.engine.SetRand(&scriptedRand{floats: []float64{0.1}, ints: []int{0}})
		_, err := f.engine.Fight(ctx, challenger, defender)
		require.NoError(t, err)

		f.engine.SetRand(&scriptedRand{floats: []float64{0.9}, ints: []int{2}})
		res, err := f.engine.Fight(ctx, challenger, defender)
		require.NoError(t, err)
		assert.False(t, res.ChallengerWon)
		assert.Equal(t, int64(2), res.Winner.UserID)
		assert.Equal(t, int64(3), res.Margin)
		assert.Equal(t, int64(0), res.Loser.WinStreak)
		assert.Equal(t, int64(1), res.Winner.WinStreak)
		assert.Equal(t, int64(40), f.kir(t, challenger)+f.kir(t, defender))
	})

	t.Run("WinRateConverges", func(t *testing.T) {
		f := newFixture(t)
		const n = 4000
		wins := 0
		for i := 0; i < n; i++ {
			f.setKir(t, challenger, 10)
			f.setKir(t, defender, 30)
			res, err := f.engine.Fight(ctx, challenger, defender)
			require.NoError(t, err)
			if res.ChallengerWon {
				wins++
			}
		}
		assert.InDelta(t, 0.25, float64(wins)/n, 0.03)
	})
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := actor(9, "ivy")

	p, err := f.engine.Enroll(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Kir)
	require.NotNil(t, p.LongestKir)
	assert.Equal(t, int64(0), *p.LongestKir)

	f.setKir(t, a, 12)
	p, err = f.engine.Enroll(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.Kir)
}

// TestBusyIdentityTimesOut checks a held identity lock turns into
// ErrLockTimeout without touching the ledger.
func TestBusyIdentityTimesOut(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	locks := lock.NewWithTimeout(10 * time.Millisecond)
	engine := NewEngine(store, locks, DefaultCooldowns)
	alice, bob := actor(1, "alice"), actor(2, "bob")

	locks.Lock(alice.Identity)
	defer locks.Unlock(alice.Identity)

	_, err := engine.Play(ctx, alice)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	_, err = engine.Loan(ctx, bob, alice, 5)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)

	_, err = store.Get(ctx, alice.Identity)
	assert.ErrorIs(t, err, repository.ErrPlayerNotFound)
	_, err = store.Get(ctx, bob.Identity)
	assert.ErrorIs(t, err, repository.ErrPlayerNotFound)

	// A failed pair leaves the other identity free.
	_, err = engine.Play(ctx, bob)
	assert.NoError(t, err)
}

// TestFightConservationProperty checks a fight never creates or destroys kir.
func TestFightConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		c := rapid.Int64Range(1, 500).Draw(rt, "c")
		d := rapid.Int64Range(1, 500).Draw(rt, "d")
		challenger := actor(1, "alice")
		defender := actor(2, "bob")
		f.setKir(t, challenger, c)
		f.setKir(t, defender, d)

		res, err := f.engine.Fight(context.Background(), challenger, defender)
		if err != nil {
			rt.Fatalf("Fight: %v", err)
		}
		if res.Winner.Kir+res.Loser.Kir != c+d {
			rt.Fatalf("total changed: %d+%d != %d", res.Winner.Kir, res.Loser.Kir, c+d)
		}
		if res.Margin < 1 || res.Margin > min(c, d, MaxFightMargin) {
			rt.Fatalf("margin %d out of range", res.Margin)
		}
	})
}

func TestCooldownErrorMessage(t *testing.T) {
	err := error(&CooldownError{Action: model.ActionPlay, Remaining: 90 * time.Minute})
	assert.Equal(t, "play is on cooldown for 1h 30m 0s", err.Error())

	var cdErr *CooldownError
	assert.True(t, errors.As(err, &cdErr))
}
