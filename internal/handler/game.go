package handler

import (
	"context"

	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/game"
	"kir-bot/internal/model"
)

// GameHandler handles the solo actions: /play, /emergencykir and /randomboost.
type GameHandler struct {
	engine *game.Engine
	scope  model.ScopeMode
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(engine *game.Engine, scope model.ScopeMode) *GameHandler {
	return &GameHandler{engine: engine, scope: scope}
}

// HandlePlay handles /play.
func (h *GameHandler) HandlePlay(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	res, err := h.engine.Play(context.Background(), actor)
	if err != nil {
		return replyError(c, "play", err)
	}
	return c.Reply(playText(actor.Name, res))
}

// HandleEmergency handles /emergencykir.
func (h *GameHandler) HandleEmergency(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	res, err := h.engine.EmergencyBoost(context.Background(), actor)
	if err != nil {
		return replyError(c, "emergencykir", err)
	}
	return c.Reply(emergencyText(actor.Name, res))
}

// HandleRandomBoost handles /randomboost.
func (h *GameHandler) HandleRandomBoost(c tele.Context) error {
	actor, ok := actorOf(c, h.scope)
	if !ok {
		return nil
	}

	res, err := h.engine.RandomBoost(context.Background(), actor)
	if err != nil {
		return replyError(c, "randomboost", err)
	}
	return c.Reply(randomBoostText(actor.Name, res))
}
