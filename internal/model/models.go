// Package model defines the data models for the Kir game bot.
package model

import "time"

// ScopeMode selects how player identities are partitioned.
type ScopeMode string

const (
	// ScopeGroup keeps one balance per user per chat.
	ScopeGroup ScopeMode = "group"
	// ScopeGlobal keeps one balance per user across all chats.
	ScopeGlobal ScopeMode = "global"
)

// GlobalGroup is the group key used for every identity in global mode.
const GlobalGroup int64 = 0

// Identity is the key of a player record.
// GroupID is GlobalGroup when the deployment is not group scoped.
type Identity struct {
	UserID  int64
	GroupID int64
}

// Identity builds the identity of a user acting in the given chat.
func (m ScopeMode) Identity(userID, chatID int64) Identity {
	if m == ScopeGroup {
		return Identity{UserID: userID, GroupID: chatID}
	}
	return Identity{UserID: userID, GroupID: GlobalGroup}
}

// Actor is an identity together with what the bot knows about the current request.
type Actor struct {
	Identity
	Name   string
	ChatID int64
}

// Player is a ledger record.
// LongestKir and ShortestKir are nil until a balance has been observed.
type Player struct {
	UserID        int64      `db:"user_id"`
	GroupID       int64      `db:"group_id"`
	Username      string     `db:"username"`
	Kir           int64      `db:"kir"`
	LastUse       *time.Time `db:"last_use"`
	LastRandom    *time.Time `db:"last_random"`
	LastEmergency *time.Time `db:"last_emergency"`
	WinStreak     int64      `db:"win_streak"`
	LongestKir    *int64     `db:"longest_kir"`
	ShortestKir   *int64     `db:"shortest_kir"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Identity returns the record key.
func (p *Player) Identity() Identity {
	return Identity{UserID: p.UserID, GroupID: p.GroupID}
}

// DisplayName returns the username or a placeholder when it is empty.
func (p *Player) DisplayName() string {
	if p.Username == "" {
		return "Player"
	}
	return p.Username
}

// Loan is an append-only transfer log entry.
type Loan struct {
	ID         int64     `db:"id"`
	LenderID   int64     `db:"lender_id"`
	BorrowerID int64     `db:"borrower_id"`
	GroupID    int64     `db:"group_id"`
	Amount     int64     `db:"amount"`
	CreatedAt  time.Time `db:"created_at"`
}

// Action names a cooldown-gated action.
type Action string

// Cooldown-gated actions.
const (
	ActionPlay      Action = "play"
	ActionEmergency Action = "emergency"
	ActionRandom    Action = "random"
)

// Actions returns every cooldown-gated action.
func Actions() []Action {
	return []Action{ActionPlay, ActionEmergency, ActionRandom}
}

// Command returns the chat command that triggers the action.
func (a Action) Command() string {
	switch a {
	case ActionPlay:
		return "/play"
	case ActionEmergency:
		return "/emergencykir"
	case ActionRandom:
		return "/randomboost"
	}
	return ""
}

// OfferKind distinguishes two-phase button offers.
type OfferKind string

// Offer kinds.
const (
	OfferLoan  OfferKind = "loan"
	OfferFight OfferKind = "fight"
)

// Offer is a pending loan or fight waiting for a second user to click.
// AddresseeID is zero when anyone in the chat may accept.
type Offer struct {
	Token         string
	Kind          OfferKind
	Initiator     Identity
	InitiatorName string
	AddresseeID   int64
	AddresseeName string
	Amount        int64
	ChatID        int64
	CreatedAt     time.Time
	ExpiresAt     time.Time
}
