// Package offer keeps pending loan and fight offers between the command that
// creates them and the button click that accepts them.
//
// Callback buttons carry only the token. Amount, parties and expiry stay in
// the Book.
package offer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"kir-bot/internal/model"
)

// Errors returned by Book.
var (
	ErrOfferNotFound = errors.New("offer not found or already used")
	ErrOfferExpired  = errors.New("offer expired")
	ErrSelfAccept    = errors.New("cannot accept your own offer")
	ErrNotAddressee  = errors.New("offer is addressed to someone else")
	ErrNotParty      = errors.New("only the parties can cancel an offer")
)

// Default limits.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 1024
)

// Book stores offers by token. When full, the least recently issued or
// inspected offer is evicted.
type Book struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewBook creates a Book holding at most capacity offers, each valid for ttl.
func NewBook(ttl time.Duration, capacity int) (*Book, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer cache: %w", err)
	}

	return &Book{cache: cache, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the clock used for expiry.
func (b *Book) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Issue stores o under a fresh token and returns the stored copy.
func (b *Book) Issue(o model.Offer) model.Offer {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	o.Token = uuid.NewString()
	o.CreatedAt = now
	o.ExpiresAt = now.Add(b.ttl)
	b.cache.Add(o.Token, o)
	return o
}

// lookup returns the live offer for token, dropping it if expired.
// Callers hold b.mu.
func (b *Book) lookup(token string) (model.Offer, error) {
	v, ok := b.cache.Get(token)
	if !ok {
		return model.Offer{}, ErrOfferNotFound
	}
	o := v.(model.Offer)
	if !b.now().Before(o.ExpiresAt) {
		b.cache.Remove(token)
		return model.Offer{}, ErrOfferExpired
	}
	return o, nil
}

// Peek returns the offer without consuming it.
func (b *Book) Peek(token string) (model.Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookup(token)
}

// Redeem consumes the offer on behalf of userID. The offer is claimed
// before check runs, so check runs without holding the book and a concurrent
// Redeem of the same token sees ErrOfferNotFound. If check fails the offer is
// put back and its error returned. A token is redeemed at most once.
func (b *Book) Redeem(token string, userID int64, check func(model.Offer) error) (model.Offer, error) {
	o, err := b.claim(token, userID)
	if err != nil {
		return model.Offer{}, err
	}

	if check != nil {
		if err := check(o); err != nil {
			b.restore(o)
			return model.Offer{}, err
		}
	}
	return o, nil
}

// claim removes a redeemable offer from the book.
func (b *Book) claim(token string, userID int64) (model.Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.lookup(token)
	if err != nil {
		return model.Offer{}, err
	}
	if o.Initiator.UserID == userID {
		return model.Offer{}, ErrSelfAccept
	}
	if o.AddresseeID != 0 && o.AddresseeID != userID {
		return model.Offer{}, ErrNotAddressee
	}

	b.cache.Remove(token)
	return o, nil
}

// restore returns a claimed offer whose acceptance failed.
func (b *Book) restore(o model.Offer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Add(o.Token, o)
}

// Cancel withdraws the offer. The initiator may always cancel; the addressee
// may decline an offer made to them, and anyone may decline an open offer.
func (b *Book) Cancel(token string, userID int64) (model.Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.lookup(token)
	if err != nil {
		return model.Offer{}, err
	}
	if o.Initiator.UserID != userID && o.AddresseeID != 0 && o.AddresseeID != userID {
		return model.Offer{}, ErrNotParty
	}

	b.cache.Remove(token)
	return o, nil
}

// Len returns the number of stored offers, including expired ones not yet dropped.
func (b *Book) Len() int {
	return b.cache.Len()
}
