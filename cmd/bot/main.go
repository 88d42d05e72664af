package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/creator-crew/internal/activity"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/bot"
	"github.com/xaenox/creator-crew/internal/directive"
	"github.com/xaenox/creator-crew/internal/handoff"
	"github.com/xaenox/creator-crew/internal/llm"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"github.com/xaenox/creator-crew/internal/session"
	"github.com/xaenox/creator-crew/internal/storage"
	"github.com/xaenox/creator-crew/internal/tools"
	"github.com/xaenox/creator-crew/pkg/config"
	"go.uber.org/zap"
)

var rootOpts struct {
	ConfigPath string
	Debug      bool
}

var rootCmd = &cobra.Command{
	Use:          "creatorbot",
	Short:        "An AI agent team for content creators",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "enable development logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAgentsCmd())
	rootCmd.AddCommand(newPlanCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if rootOpts.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// app is the wired core shared by the front ends.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	kv         storage.Storage
	agents     *agents.Registry
	sessions   *session.Store
	activity   *activity.Log
	orch       *orchestrator.Orchestrator
	dispatcher *handoff.Dispatcher
	parser     *directive.Parser
}

func newApp(logger *zap.Logger) (*app, error) {
	cfg, err := config.LoadConfig(rootOpts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.OpenAI.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}

	registry := agents.Default()
	kv, sessions, err := openSessions(cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	toolRegistry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(toolRegistry, tools.NewYouTubeClient(cfg.YouTube.APIKey, nil), nil)
	if err := registry.CheckTools(toolRegistry); err != nil {
		sessions.Close()
		kv.Close()
		return nil, err
	}

	backend := llm.NewOpenAIBackend(llm.OpenAIConfig{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		MaxTokens: cfg.OpenAI.MaxTokens,
	}, logger)

	log := activity.NewLog(kv, logger)
	orch := orchestrator.New(registry, sessions, toolRegistry, backend, log, orchestrator.Config{
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		RoundTimeout:  cfg.Agent.RoundTimeout,
	}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		kv:         kv,
		agents:     registry,
		sessions:   sessions,
		activity:   log,
		orch:       orch,
		dispatcher: handoff.NewDispatcher(registry, sessions, orch, logger),
		parser:     directive.New(registry),
	}, nil
}

// openSessions opens the configured storage and the session store over it.
func openSessions(cfg *config.Config, registry *agents.Registry, logger *zap.Logger) (storage.Storage, *session.Store, error) {
	kv, err := storage.New(storage.DatabaseConfig{
		Driver:     cfg.Database.Driver,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		User:       cfg.Database.User,
		Password:   cfg.Database.Password,
		DBName:     cfg.Database.DBName,
		SSLMode:    cfg.Database.SSLMode,
		SQLitePath: cfg.Database.SQLitePath,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	sessions, err := session.NewStore(kv, registry, session.Config{
		Tiers:              cfg.Models,
		DefaultTemperature: cfg.Agent.DefaultTemperature,
	}, logger)
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}
	return kv, sessions, nil
}

// Close drains pending conversation writes and closes storage.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sessions.Flush(ctx); err != nil {
		a.logger.Warn("Pending conversation writes were not flushed", zap.Error(err))
	}
	a.sessions.Close()
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(logger)
			if err != nil {
				logger.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			if a.cfg.Telegram.Token == "" {
				return errors.New("TELEGRAM_TOKEN is required")
			}

			b, err := bot.New(a.cfg.Telegram.Token, bot.Deps{
				Agents:       a.agents,
				Sessions:     a.sessions,
				Orchestrator: a.orch,
				Dispatcher:   a.dispatcher,
				Parser:       a.parser,
				Activity:     a.activity,
			}, logger)
			if err != nil {
				logger.Error("Failed to create bot", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := b.Start(ctx); err != nil {
				logger.Error("Bot error", zap.Error(err))
				return err
			}
			logger.Info("Shutting down")
			return nil
		},
	}
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agent team",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, a := range agents.Default().List() {
				nameColor.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", a.ID, a.Name)
				for _, p := range a.StarterPrompts {
					hintColor.Fprintf(cmd.OutOrStdout(), "           - %s\n", p)
				}
			}
		},
	}
}
