package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/cooldown"
	"kir-bot/internal/game"
	"kir-bot/internal/model"
	"kir-bot/internal/offer"
	"kir-bot/internal/pkg/lock"
	"kir-bot/internal/service"
)

const genericError = "❌ Something went wrong, please try again later."

// userName returns the name shown for a Telegram user.
func userName(u *tele.User) string {
	switch {
	case u == nil:
		return "Player"
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return "Player"
}

// actorOf resolves the sender of c into a ledger actor.
func actorOf(c tele.Context, scope model.ScopeMode) (model.Actor, bool) {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return model.Actor{}, false
	}
	return model.Actor{
		Identity: scope.Identity(sender.ID, chat.ID),
		Name:     userName(sender),
		ChatID:   chat.ID,
	}, true
}

// errorText turns a domain error into a reply. known is false for errors
// that are not the user's fault.
func errorText(err error) (text string, known bool) {
	var cdErr *game.CooldownError
	if errors.As(err, &cdErr) {
		return fmt.Sprintf("⏳ Wait %s before using %s again.",
			cooldown.FormatRemaining(cdErr.Remaining), cdErr.Action.Command()), true
	}

	switch {
	case errors.Is(err, game.ErrNotBroke):
		return "🙅 Emergency kir is only for players at 0 kir or below.", true
	case errors.Is(err, game.ErrInvalidAmount):
		return fmt.Sprintf("❌ Amount must be between 1 and %d.", game.MaxLoanAmount), true
	case errors.Is(err, game.ErrSelfTarget):
		return "❌ You can't target yourself.", true
	case errors.Is(err, game.ErrUnknownPlayer):
		return "❌ Both players must be registered here. Send /start first.", true
	case errors.Is(err, game.ErrInsufficientKir):
		return "❌ Both fighters need at least 1 kir.", true
	case errors.Is(err, game.ErrNoPlayers):
		return "🤷 Nobody here to boost yet.", true
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ Busy with another action, try again in a moment.", true
	case errors.Is(err, offer.ErrOfferNotFound):
		return "⌛ This offer is no longer available.", true
	case errors.Is(err, offer.ErrOfferExpired):
		return "⌛ This offer has expired.", true
	case errors.Is(err, offer.ErrSelfAccept):
		return "🙅 You can't accept your own offer.", true
	case errors.Is(err, offer.ErrNotAddressee):
		return "🙅 This offer isn't for you.", true
	case errors.Is(err, offer.ErrNotParty):
		return "🙅 Only the people involved can decline this offer.", true
	}
	return genericError, false
}

// replyError answers c with the text for err, logging unexpected errors.
func replyError(c tele.Context, op string, err error) error {
	text, known := errorText(err)
	if !known {
		logFailure(c, op, err)
	}
	return c.Reply(text)
}

func logFailure(c tele.Context, op string, err error) {
	event := log.Error().Err(err).Str("op", op)
	if sender := c.Sender(); sender != nil {
		event = event.Int64("user_id", sender.ID)
	}
	if chat := c.Chat(); chat != nil {
		event = event.Int64("chat_id", chat.ID)
	}
	event.Msg("Command failed")
}

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func welcomeText(name string, p *model.Player, created bool) string {
	if !created {
		return fmt.Sprintf("👋 Welcome back %s! You have %d Kir.", name, p.Kir)
	}
	return fmt.Sprintf("🎉 Welcome %s to Big Bigger!\n\n"+
		"/play - grow or shrink your Kir (every 12h)\n"+
		"/emergencykir - a boost when you're at 0 or below\n"+
		"/randomboost - give random Kir to someone\n"+
		"/loan <amount> - lend Kir (reply to someone)\n"+
		"/fight - challenge someone (reply to them)\n"+
		"/top - show top players\n"+
		"/state - your Kir, rank and records", name)
}

func playText(name string, res *game.PlayResult) string {
	return fmt.Sprintf("🎲 %s, your Kir changed by %s. Now: %d", name, signed(res.Delta), res.Player.Kir)
}

func emergencyText(name string, res *game.BoostResult) string {
	return fmt.Sprintf("🚑 %s got %d emergency Kir. Now: %d", name, res.Amount, res.Player.Kir)
}

func randomBoostText(name string, res *game.RandomBoostResult) string {
	if res.SelfPick {
		return fmt.Sprintf("🎁 Lucky! %s's random boost landed on themselves: +%d Kir. Now: %d",
			name, res.Amount, res.Recipient.Kir)
	}
	return fmt.Sprintf("🎁 %s's random boost landed on %s: +%d Kir. Now: %d",
		name, res.Recipient.DisplayName(), res.Amount, res.Recipient.Kir)
}

func stateText(name string, st *service.State) string {
	p := st.Player
	return fmt.Sprintf("📊 %s's State:\n"+
		"Kir: %d\n"+
		"Rank: #%d\n"+
		"Win Streak: %d\n"+
		"Longest Kir: %s\n"+
		"Shortest Kir: %s",
		name, p.Kir, st.Rank, p.WinStreak, optional(p.LongestKir), optional(p.ShortestKir))
}

func topText(entries []service.Entry) string {
	if len(entries) == 0 {
		return "🏆 No players yet. Send /play to join!"
	}

	var sb strings.Builder
	sb.WriteString("🏆 Top Players:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%d. %s - %d Kir\n", e.Position, e.Name, e.Kir)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func offerText(o model.Offer) string {
	target := "anyone"
	if o.AddresseeID != 0 {
		target = o.AddresseeName
	}
	if o.Kind == model.OfferFight {
		return fmt.Sprintf("⚔️ %s challenges %s to a fight! Winning odds follow the Kir at stake.",
			o.InitiatorName, target)
	}
	return fmt.Sprintf("💸 %s wants to loan %d Kir to %s.", o.InitiatorName, o.Amount, target)
}

func loanDoneText(res *game.LoanResult) string {
	return fmt.Sprintf("🤝 %s accepted a loan of %d Kir from %s.\n%s: %d Kir | %s: %d Kir",
		res.Borrower.DisplayName(), res.Loan.Amount, res.Lender.DisplayName(),
		res.Lender.DisplayName(), res.Lender.Kir,
		res.Borrower.DisplayName(), res.Borrower.Kir)
}

func fightDoneText(res *game.FightResult) string {
	return fmt.Sprintf("⚔️ Fight result: %s won and gained %d Kir! (challenger odds %.0f%%)\n"+
		"%s: %d Kir, streak %d | %s: %d Kir",
		res.Winner.DisplayName(), res.Margin, res.Chance*100,
		res.Winner.DisplayName(), res.Winner.Kir, res.Winner.WinStreak,
		res.Loser.DisplayName(), res.Loser.Kir)
}

func declinedText(o model.Offer, by string) string {
	if o.Kind == model.OfferFight {
		return fmt.Sprintf("🏳️ %s called off the fight with %s.", by, o.InitiatorName)
	}
	return fmt.Sprintf("🚫 %s called off %s's loan of %d Kir.", by, o.InitiatorName, o.Amount)
}
