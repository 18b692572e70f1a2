package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kir-bot/internal/bot"
	"kir-bot/internal/config"
	"kir-bot/internal/game"
	"kir-bot/internal/notify"
	"kir-bot/internal/offer"
	"kir-bot/internal/pkg/db"
	"kir-bot/internal/pkg/lock"
	"kir-bot/internal/repository"
	"kir-bot/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

// ledger is what both the engine and the account services need.
type ledger interface {
	game.Ledger
	service.PlayerStore
}

// scheduler is a notify.Scheduler or notify.Nop.
type scheduler interface {
	game.Scheduler
	Stop()
}

// openLedger returns the configured store and a function releasing it.
func openLedger(ctx context.Context, cfg *config.Config) (ledger, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; all balances are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return repository.NewPlayerRepository(pool.Pool), pool.Close, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	locks := lock.NewWithTimeout(cfg.Game.LockTimeout)
	engine := game.NewEngine(store, locks, game.Cooldowns{
		Play:      cfg.Game.PlayCooldown,
		Emergency: cfg.Game.EmergencyCooldown,
		Random:    cfg.Game.RandomCooldown,
	})

	book, err := offer.NewBook(cfg.Offers.TTL, cfg.Offers.Capacity)
	if err != nil {
		return err
	}

	telegramBot, err := bot.New(&bot.Dependencies{
		Config:         cfg,
		Engine:         engine,
		AccountService: service.NewAccountService(store, locks),
		RankingService: service.NewRankingService(store, cfg.Game.TopLimit),
		Offers:         book,
	})
	if err != nil {
		return err
	}

	var reminders scheduler = notify.Nop{}
	if cfg.Notify.Enabled {
		sender, err := bot.NewReminderSender(cfg)
		if err != nil {
			return err
		}
		reminders = notify.NewScheduler(bot.NewNotifier(sender), cfg.Notify.SendTimeout)
	}
	engine.SetScheduler(reminders)
	defer reminders.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telegramBot.Start()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")
		telegramBot.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Bot stopped gracefully")
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == config.DriverMemory {
			return fmt.Errorf("nothing to migrate for the %q driver", config.DriverMemory)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		pool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		return db.Migrate(ctx, pool)
	},
}
