package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportdesk/internal/bus"
	"supportdesk/internal/channel"
	"supportdesk/internal/config"
	"supportdesk/internal/dispatch"
	"supportdesk/internal/domain"
	"supportdesk/internal/events"
	"supportdesk/internal/handler"
	"supportdesk/internal/metrics"
	"supportdesk/internal/replies"
	"supportdesk/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "supportdesk",
		Short: "Support desk: routes customer chats to human agents",
		Long:  "A support conversation router. Customers open requests over chat, agents claim them, and messages relay between the two until the conversation closes.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.supportdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir)
			return nil
		},
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger rebuilds the logger once the configured level and
// optional log file are known.
func setupLogger(cfg *config.Config) error {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	logger = slog.New(slog.NewTextHandler(out, opts))
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the support desk (channels + handler loop)",
		Long:  "Starts all enabled channels and the dispatch engine. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog := replies.NewCatalog()
	if cfg.Support.RepliesDir != "" {
		if err := catalog.LoadOverrides(cfg.Support.RepliesDir, logger); err != nil {
			return fmt.Errorf("load replies: %w", err)
		}
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		publisher, err = events.New(ctx, events.ConnectionOptions{
			URL:           cfg.Events.URL,
			Exchange:      cfg.Events.Exchange,
			RetryAttempts: cfg.Events.RetryAttempts,
			Delay:         time.Duration(cfg.Events.RetryDelaySeconds) * time.Second,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		logger.Info("event publisher connected", "exchange", cfg.Events.Exchange)
	}
	defer publisher.Close()

	notifier := handler.NewBusNotifier(messageBus, catalog, logger,
		cfg.Support.QueryPreviewLen, cfg.Support.HistoryReplayLimit)
	svc := dispatch.NewService(st, notifier, publisher, logger, cfg.Support.Languages)

	h := handler.New(handler.Config{
		Bus:         messageBus,
		Service:     svc,
		Store:       st,
		Catalog:     catalog,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentEvents,
		PreviewLen:  cfg.Support.QueryPreviewLen,
	})
	go h.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics endpoint listening", "addr", metricsSrv.Addr, "path", cfg.Metrics.Endpoint)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("support desk started", "version", version)

	if cfg.Channels.Console.Enabled {
		consoleCh := channel.NewConsole(channel.ConsoleConfig{Logger: logger})
		if err := consoleCh.Start(ctx, messageBus); err != nil {
			logger.Error("console channel error", "err", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show desk status (config, database, backlog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				logger.Error("database unreachable", "path", cfg.Store.DBPath, "err", err)
				return err
			}
			defer st.Close()

			ctx := context.Background()
			open, err := st.ListOpenRequests(ctx)
			if err != nil {
				return err
			}
			agents, err := st.ListAvailableAgents(ctx)
			if err != nil {
				return err
			}
			logger.Info("backlog", "open_requests", len(open), "available_agents", len(agents))
			return nil
		},
	}
}

// nopNotifier suppresses chat delivery for offline administrative
// commands.
type nopNotifier struct{}

func (nopNotifier) BroadcastNewRequest(context.Context, domain.Request, domain.User, []domain.Agent) {
}
func (nopNotifier) NotifyAssigned(context.Context, domain.Request, domain.User, domain.Agent, []domain.Message) {
}
func (nopNotifier) NotifyClaimLost(context.Context, string, string)    {}
func (nopNotifier) NotifyClaimRejected(context.Context, string, error) {}
func (nopNotifier) DeliverToUser(context.Context, string, string)      {}
func (nopNotifier) DeliverToAgent(context.Context, string, string)     {}
func (nopNotifier) NotifyClosed(context.Context, domain.Request, domain.User, *domain.Agent, domain.SenderRole) {
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [request-id]",
		Short: "Administratively close a request, assigned or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			svc := dispatch.NewService(st, nopNotifier{}, events.Nop{}, logger, cfg.Support.Languages)
			req, err := svc.CancelRequest(context.Background(), args[0])
			if err != nil {
				return err
			}
			logger.Info("request cancelled", "request_id", req.ID, "status", string(req.Status))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. support.languages)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.logLevel debug)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
