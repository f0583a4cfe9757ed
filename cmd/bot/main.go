package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"referral-bot/config"
	"referral-bot/db"
	"referral-bot/internal"
	"referral-bot/logger"
	"referral-bot/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Referral tracking Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config.json")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "initdb",
		Short: "Create tables and seed the default banks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initDB(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newBankCmd(&configPath))
	return root
}

func newBankCmd(configPath *string) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Manage the bank directory",
	}
	bank.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List banks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				banks, err := a.db.ListBanks(ctx)
				if err != nil {
					return err
				}
				for _, b := range banks {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Key, b.BaseURL)
				}
				return nil
			})
		},
	})
	bank.AddCommand(&cobra.Command{
		Use:   "set <key> <url>",
		Short: "Add a bank or replace its link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				if err := a.db.UpsertBank(ctx, args[0], args[1]); err != nil {
					return err
				}
				a.log.Info("bank saved", zap.String("key", args[0]), zap.String("base_url", args[1]))
				return nil
			})
		},
	})
	bank.AddCommand(&cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a bank, recorded referrals are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				if err := a.db.RemoveBank(ctx, args[0]); err != nil {
					return err
				}
				a.log.Info("bank removed", zap.String("key", args[0]))
				return nil
			})
		},
	})
	return bank
}

func withDB(ctx context.Context, configPath string, fn func(ctx context.Context, a *app) error) error {
	a, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	defer a.db.Close()
	return fn(ctx, a)
}

// defaultConfigPath looks for config/config.json next to the executable first,
// then in the working directory
func defaultConfigPath() string {
	if exePath, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exePath), "config", "config.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	currentDir, _ := os.Getwd()
	return filepath.Join(currentDir, "config", "config.json")
}

type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *db.DB
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	// Ensure DB directory exists
	if cfg.Database.Driver == db.DriverSQLite {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	database, err := db.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.InitDB(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	seeded, err := database.SeedBanks(ctx, models.DefaultBanks)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to seed banks: %w", err)
	}
	if seeded {
		log.Info("default banks seeded", zap.Int("count", len(models.DefaultBanks)))
	}

	return &app{cfg: cfg, log: log, db: database}, nil
}

func initDB(ctx context.Context, configPath string) error {
	a, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	defer a.db.Close()

	a.log.Info("database initialized", zap.String("driver", a.cfg.Database.Driver))
	return nil
}

func run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	defer a.db.Close()

	api, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to initialize bot: %w", err)
	}
	api.Debug = a.cfg.Telegram.Debug
	if a.cfg.BotUsername == "" {
		a.cfg.BotUsername = api.Self.UserName
	}

	var opts []internal.Option

	if a.cfg.Mongo.URI != "" {
		journal, err := db.NewJournal(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database)
		if err != nil {
			// the journal is an audit trail, the bot works without it
			a.log.Warn("failed to connect event journal", zap.Error(err))
		} else {
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				journal.Close(closeCtx)
			}()
			opts = append(opts, internal.WithJournal(journal))
		}
	}

	if a.cfg.Sheets.Enabled() {
		sheetsService, err := internal.NewSheetsService(ctx, a.cfg.Sheets)
		if err != nil {
			a.log.Warn("failed to initialize Google Sheets API", zap.Error(err))
		} else {
			opts = append(opts, internal.WithSheets(sheetsService))
		}
	}

	bot := internal.NewBot(api, a.db, a.cfg, a.log, opts...)

	a.log.Info("bot started", zap.String("username", api.Self.UserName), zap.Int("admins", len(a.cfg.Admins)))
	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("error running bot: %w", err)
	}
	a.log.Info("bot stopped")
	return nil
}
