package offer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kir-bot/internal/model"
)

func newBook(t *testing.T, capacity int) (*Book, *time.Time) {
	t.Helper()
	b, err := NewBook(time.Minute, capacity)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func loanOffer(initiator, addressee int64) model.Offer {
	return model.Offer{
		Kind:          model.OfferLoan,
		Initiator:     model.Identity{UserID: initiator, GroupID: -1},
		InitiatorName: "alice",
		AddresseeID:   addressee,
		Amount:        5,
		ChatID:        -1,
	}
}

func TestIssue_AssignsTokenAndExpiry(t *testing.T) {
	b, now := newBook(t, 8)

	o := b.Issue(loanOffer(1, 2))
	assert.NotEmpty(t, o.Token)
	assert.Equal(t, *now, o.CreatedAt)
	assert.Equal(t, now.Add(time.Minute), o.ExpiresAt)

	other := b.Issue(loanOffer(1, 2))
	assert.NotEqual(t, o.Token, other.Token)

	got, err := b.Peek(o.Token)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestRedeem(t *testing.T) {
	t.Run("Once", func(t *testing.T) {
		b, _ := newBook(t, 8)
		o := b.Issue(loanOffer(1, 2))

		got, err := b.Redeem(o.Token, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Amount)

		_, err = b.Redeem(o.Token, 2, nil)
		assert.ErrorIs(t, err, ErrOfferNotFound)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		b, _ := newBook(t, 8)
		_, err := b.Redeem("not-a-token", 2, nil)
		assert.ErrorIs(t, err, ErrOfferNotFound)
	})

	t.Run("Expired", func(t *testing.T) {
		b, now := newBook(t, 8)
		o := b.Issue(loanOffer(1, 2))

		*now = now.Add(time.Minute)
		_, err := b.Redeem(o.Token, 2, nil)
		assert.ErrorIs(t, err, ErrOfferExpired)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("SelfAccept", func(t *testing.T) {
		b, _ := newBook(t, 8)
		o := b.Issue(loanOffer(1, 0))

		_, err := b.Redeem(o.Token, 1, nil)
		assert.ErrorIs(t, err, ErrSelfAccept)

		_, err = b.Peek(o.Token)
		assert.NoError(t, err)
	})

	t.Run("WrongAddressee", func(t *testing.T) {
		b, _ := newBook(t, 8)
		o := b.Issue(loanOffer(1, 2))

		_, err := b.Redeem(o.Token, 3, nil)
		assert.ErrorIs(t, err, ErrNotAddressee)
	})

	t.Run("OpenOfferAcceptsAnyone", func(t *testing.T) {
		b, _ := newBook(t, 8)
		o := b.Issue(loanOffer(1, 0))

		_, err := b.Redeem(o.Token, 77, nil)
		assert.NoError(t, err)
	})

	t.Run("FailedCheckKeepsOffer", func(t *testing.T) {
		b, _ := newBook(t, 8)
		o := b.Issue(loanOffer(1, 2))
		checkErr := errors.New("not enough kir")

		_, err := b.Redeem(o.Token, 2, func(model.Offer) error { return checkErr })
		assert.ErrorIs(t, err, checkErr)

		_, err = b.Redeem(o.Token, 2, nil)
		assert.NoError(t, err)
	})
}

func TestCancel(t *testing.T) {
	b, _ := newBook(t, 8)

	o := b.Issue(loanOffer(1, 2))
	_, err := b.Cancel(o.Token, 3)
	assert.ErrorIs(t, err, ErrNotParty)

	_, err = b.Cancel(o.Token, 2)
	require.NoError(t, err)
	_, err = b.Redeem(o.Token, 2, nil)
	assert.ErrorIs(t, err, ErrOfferNotFound)

	o = b.Issue(loanOffer(1, 2))
	_, err = b.Cancel(o.Token, 1)
	assert.NoError(t, err)
}

func TestCapacityEvictsOldest(t *testing.T) {
	b, _ := newBook(t, 2)

	first := b.Issue(loanOffer(1, 2))
	b.Issue(loanOffer(1, 2))
	b.Issue(loanOffer(1, 2))

	assert.Equal(t, 2, b.Len())
	_, err := b.Peek(first.Token)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

// TestSingleRedemptionProperty races many clickers on one token; exactly one wins.
func TestSingleRedemptionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b, _ := newBook(t, 16)
		clickers := rapid.IntRange(2, 32).Draw(rt, "clickers")
		o := b.Issue(loanOffer(1, 0))

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < clickers; i++ {
			wg.Add(1)
			go func(user int64) {
				defer wg.Done()
				<-start
				if _, err := b.Redeem(o.Token, user, nil); err == nil {
					wins.Add(1)
				}
			}(int64(100 + i))
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			rt.Fatalf("expected exactly one redemption, got %d", wins.Load())
		}
	})
}

// TestRedeemCheckDoesNotBlockBook runs a slow acceptance and uses the book
// from another goroutine meanwhile.
func TestRedeemCheckDoesNotBlockBook(t *testing.T) {
	b, _ := newBook(t, 8)
	o := b.Issue(loanOffer(1, 0))
	other := b.Issue(loanOffer(5, 0))

	entered := make(chan struct{})
	release := make(chan struct{})
	checkErr := errors.New("ledger down")
	done := make(chan error, 1)
	go func() {
		_, err := b.Redeem(o.Token, 2, func(model.Offer) error {
			close(entered)
			<-release
			return checkErr
		})
		done <- err
	}()

	<-entered
	_, err := b.Peek(other.Token)
	assert.NoError(t, err)
	b.Issue(loanOffer(6, 0))

	// The in-flight offer cannot be taken twice.
	_, err = b.Redeem(o.Token, 3, nil)
	assert.ErrorIs(t, err, ErrOfferNotFound)

	close(release)
	assert.ErrorIs(t, <-done, checkErr)

	// A failed acceptance puts the offer back.
	got, err := b.Redeem(o.Token, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, o.Token, got.Token)
}
