package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/game"
	"kir-bot/internal/model"
	"kir-bot/internal/offer"
)

// Callback uniques of the offer buttons. The button data is the offer token.
const (
	UniqueAccept  = "offer_accept"
	UniqueDecline = "offer_decline"
)

// OfferHandler runs the two-phase /loan and /fight flow: the command issues
// an offer with buttons, and a click by the other party resolves it.
type OfferHandler struct {
	engine *game.Engine
	book   *offer.Book
	scope  model.ScopeMode
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(engine *game.Engine, book *offer.Book, scope model.ScopeMode) *OfferHandler {
	return &OfferHandler{engine: engine, book: book, scope: scope}
}

// HandleLoan handles /loan <amount>. Sent as a reply, only the replied-to
// user may accept; otherwise the offer is open to anyone in the chat.
func (h *OfferHandler) HandleLoan(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /loan <amount> (reply to someone to choose the borrower)")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Invalid amount.")
	}
	if amount < 1 || amount > game.MaxLoanAmount {
		return replyError(c, "loan", game.ErrInvalidAmount)
	}

	return h.issue(c, actor, model.OfferLoan, amount)
}

// HandleFight handles /fight. Any amount argument is ignored; the stake is
// decided by the fight rules.
func (h *OfferHandler) HandleFight(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}
	return h.issue(c, actor, model.OfferFight, 0)
}

func (h *OfferHandler) issue(c tele.Context, actor model.Actor, kind model.OfferKind, amount int64) error {
	o := model.Offer{
		Kind:          kind,
		Initiator:     actor.Identity,
		InitiatorName: actor.Name,
		Amount:        amount,
		ChatID:        actor.ChatID,
	}

	if target := replyTarget(c); target != nil {
		if target.ID == actor.UserID {
			return replyError(c, string(kind), game.ErrSelfTarget)
		}
		o.AddresseeID = target.ID
		o.AddresseeName = userName(target)
	}

	if _, err := h.engine.Enroll(context.Background(), actor); err != nil {
		return replyError(c, string(kind), err)
	}
	o = h.book.Issue(o)

	log.Debug().
		Str("token", o.Token).
		Str("kind", string(o.Kind)).
		Int64("user_id", actor.UserID).
		Int64("addressee_id", o.AddresseeID).
		Msg("Offer issued")

	return c.Reply(offerText(o), offerMarkup(o.Token))
}

// replyTarget returns the human the command replies to, if any.
func replyTarget(c tele.Context) *tele.User {
	msg := c.Message()
	if msg == nil || msg.ReplyTo == nil || msg.ReplyTo.Sender == nil || msg.ReplyTo.Sender.IsBot {
		return nil
	}
	return msg.ReplyTo.Sender
}

func offerMarkup(token string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("✅ Accept", UniqueAccept, token),
		markup.Data("✖️ Decline", UniqueDecline, token),
	))
	return markup
}

// parseCallback splits "\f<unique>|<token>".
func parseCallback(data string) (unique, token string, ok bool) {
	data = strings.TrimPrefix(data, "\f")
	unique, token, ok = strings.Cut(data, "|")
	if !ok || token == "" {
		return "", "", false
	}
	return unique, token, true
}

// HandleCallback resolves offer button clicks.
func (h *OfferHandler) HandleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || c.Sender() == nil {
		return nil
	}

	unique, token, ok := parseCallback(cb.Data)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Unknown button."})
	}

	switch unique {
	case UniqueAccept:
		return h.accept(c, token)
	case UniqueDecline:
		return h.decline(c, token)
	}
	return c.Respond(&tele.CallbackResponse{Text: "Unknown button."})
}

func (h *OfferHandler) accept(c tele.Context, token string) error {
	ctx := context.Background()
	sender := c.Sender()

	// The engine call runs inside Redeem so a failed check keeps the offer
	// and a successful one consumes it exactly once.
	var text string
	_, err := h.book.Redeem(token, sender.ID, func(o model.Offer) error {
		initiator := model.Actor{Identity: o.Initiator, Name: o.InitiatorName, ChatID: o.ChatID}
		acceptor := model.Actor{
			Identity: model.Identity{UserID: sender.ID, GroupID: o.Initiator.GroupID},
			Name:     userName(sender),
			ChatID:   o.ChatID,
		}

		switch o.Kind {
		case model.OfferLoan:
			res, err := h.engine.Loan(ctx, initiator, acceptor, o.Amount)
			if err != nil {
				return err
			}
			text = loanDoneText(res)
		case model.OfferFight:
			res, err := h.engine.Fight(ctx, initiator, acceptor)
			if err != nil {
				return err
			}
			text = fightDoneText(res)
		default:
			return fmt.Errorf("unknown offer kind %q", o.Kind)
		}
		return nil
	})
	if err != nil {
		return h.refuse(c, "accept", err)
	}

	if err := c.Respond(); err != nil {
		log.Warn().Err(err).Msg("Failed to answer callback")
	}
	return c.Edit(text)
}

func (h *OfferHandler) decline(c tele.Context, token string) error {
	sender := c.Sender()

	o, err := h.book.Cancel(token, sender.ID)
	if err != nil {
		return h.refuse(c, "decline", err)
	}

	if err := c.Respond(); err != nil {
		log.Warn().Err(err).Msg("Failed to answer callback")
	}
	return c.Edit(declinedText(o, userName(sender)))
}

// refuse answers a click that could not be honoured.
func (h *OfferHandler) refuse(c tele.Context, op string, err error) error {
	text, known := errorText(err)
	if !known {
		logFailure(c, op, err)
	}
	if errors.Is(err, offer.ErrOfferExpired) {
		if editErr := c.Edit(text); editErr != nil {
			log.Warn().Err(editErr).Msg("Failed to close expired offer")
		}
	}
	return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}
