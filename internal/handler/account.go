// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"

	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/model"
	"kir-bot/internal/service"
)

// AccountHandler handles /start, /state and /top.
type AccountHandler struct {
	accountService *service.AccountService
	rankingService *service.RankingService
	scope          model.ScopeMode
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService, rankingService *service.RankingService, scope model.ScopeMode) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		rankingService: rankingService,
		scope:          scope,
	}
}

// HandleStart registers the sender and greets them.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	p, created, err := h.accountService.Register(context.Background(), actor)
	if err != nil {
		return replyError(c, "start", err)
	}
	return c.Reply(welcomeText(actor.Name, p, created))
}

// HandleState reports the sender's kir, rank, streak and records.
func (h *AccountHandler) HandleState(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	st, err := h.accountService.State(context.Background(), actor)
	if err != nil {
		return replyError(c, "state", err)
	}
	return c.Reply(stateText(actor.Name, st))
}

// HandleTop shows the leaderboard of the current scope.
func (h *AccountHandler) HandleTop(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}

	groupID := h.scope.Identity(0, chat.ID).GroupID
	entries, err := h.rankingService.Top(context.Background(), groupID)
	if err != nil {
		return replyError(c, "top", err)
	}
	return c.Reply(topText(entries))
}
