// Package bot wires the handlers into a telebot instance.
package bot

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/config"
	"kir-bot/internal/game"
	"kir-bot/internal/handler"
	"kir-bot/internal/offer"
	"kir-bot/internal/service"
)

// Commands is the command menu shown by Telegram clients.
var Commands = []tele.Command{
	{Text: "start", Description: "Start the bot"},
	{Text: "play", Description: "Play to grow or shrink your Kir"},
	{Text: "emergencykir", Description: "Get emergency Kir when you're broke"},
	{Text: "randomboost", Description: "Give random Kir to someone"},
	{Text: "loan", Description: "Loan Kir to another user via button"},
	{Text: "fight", Description: "Fight another user via button"},
	{Text: "top", Description: "Show top players"},
	{Text: "state", Description: "Show your Kir state and rank"},
}

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler *handler.AccountHandler
	gameHandler    *handler.GameHandler
	offerHandler   *handler.OfferHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config         *config.Config
	Engine         *game.Engine
	AccountService *service.AccountService
	RankingService *service.RankingService
	Offers         *offer.Book
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: newPoller(deps.Config.Bot),
		OnError: func(err error, c tele.Context) {
			event := log.Error().Err(err)
			if c != nil && c.Chat() != nil {
				event = event.Int64("chat_id", c.Chat().ID)
			}
			event.Msg("Handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	scope := deps.Config.ScopeMode()
	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		accountHandler: handler.NewAccountHandler(deps.AccountService, deps.RankingService, scope),
		gameHandler:    handler.NewGameHandler(deps.Engine, scope),
		offerHandler:   handler.NewOfferHandler(deps.Engine, deps.Offers, scope),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// newPoller returns a webhook when a public URL is configured and a long
// poller otherwise.
func newPoller(cfg config.BotConfig) tele.Poller {
	if cfg.WebhookURL != "" {
		return &tele.Webhook{
			Listen:   cfg.WebhookListen,
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
	}
	return &tele.LongPoller{Timeout: cfg.PollTimeout}
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/state", b.accountHandler.HandleState)
	b.bot.Handle("/top", b.accountHandler.HandleTop)

	b.bot.Handle("/play", b.gameHandler.HandlePlay)
	b.bot.Handle("/emergencykir", b.gameHandler.HandleEmergency)
	b.bot.Handle("/randomboost", b.gameHandler.HandleRandomBoost)

	b.bot.Handle("/loan", b.offerHandler.HandleLoan)
	b.bot.Handle("/fight", b.offerHandler.HandleFight)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes callbacks to appropriate handlers.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	// Telebot v3 prefixes unique button data with \f
	data := strings.TrimPrefix(callback.Data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	if strings.HasPrefix(data, "offer_") {
		return b.offerHandler.HandleCallback(c)
	}
	return c.Respond(&tele.CallbackResponse{Text: "This button is no longer supported."})
}

// Start registers the command menu and blocks while polling.
func (b *Bot) Start() {
	if err := b.bot.SetCommands(Commands); err != nil {
		log.Warn().Err(err).Msg("Failed to set bot commands")
	}

	log.Info().
		Bool("webhook", b.cfg.Bot.WebhookURL != "").
		Str("scope", b.cfg.Game.Scope).
		Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

