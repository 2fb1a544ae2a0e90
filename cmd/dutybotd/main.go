package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	apiPkg "github.com/dutybot-io/dutybot/internal/api"
	"github.com/dutybot-io/dutybot/internal/command"
	"github.com/dutybot-io/dutybot/internal/config"
	"github.com/dutybot-io/dutybot/internal/connector"
	"github.com/dutybot-io/dutybot/internal/connector/telegram"
	"github.com/dutybot-io/dutybot/internal/logbuf"
	"github.com/dutybot-io/dutybot/internal/notify"
	"github.com/dutybot-io/dutybot/internal/scheduler"
	"github.com/dutybot-io/dutybot/internal/ticket"
	"github.com/dutybot-io/dutybot/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// A .env file is optional; ignore the error when it is absent.
	godotenv.Load()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("dutybotd starting", "tickets_file", cfg.Bot.TicketsFile)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Ticket store and reminder scheduler
	store := ticket.NewFileStore(cfg.Bot.TicketsFile, logger.With("component", "store"))
	sched := scheduler.New(cfg.ReminderInterval(), logger.With("component", "scheduler"))

	// 2. Telegram connector. The router does not exist yet, so the handler
	// goes through a forward-declared closure.
	var router *command.Router
	tgHandler := func(ctx context.Context, msg connector.Inbound) error {
		if router == nil {
			return nil
		}
		return router.Handle(ctx, msg)
	}
	tgConn, err := telegram.New(
		telegram.Config{Token: cfg.Bot.Token},
		tgHandler,
		logger.With("connector", "telegram"),
	)
	if err != nil {
		logger.Error("failed to init telegram connector", "error", err)
		os.Exit(1)
	}

	// 3. Ticket tracker
	trk := tracker.New(store, sched, tgConn, tracker.Config{
		ReminderChat: connector.Location{ChatID: cfg.Bot.ReminderChatID, ThreadID: cfg.Bot.ReminderTopicID},
		StatusChat:   connector.Location{ChatID: cfg.Bot.StatusChatID, ThreadID: cfg.Bot.StatusTopicID},
		UTCOffset:    cfg.Bot.UTCOffset,
	}, logger.With("component", "tracker"))

	if cfg.Slack != nil {
		mirror, err := notify.New(notify.Config{
			Token:   cfg.Slack.Token,
			Channel: cfg.Slack.Channel,
		}, logger.With("component", "slack"))
		if err != nil {
			logger.Warn("slack mirror disabled", "error", err)
		} else {
			trk.SetNotifier(mirror)
		}
	}

	if err := trk.Boot(); err != nil {
		logger.Error("failed to restore tickets", "error", err)
		os.Exit(1)
	}
	logger.Info("tickets restored", "open", trk.Count())

	router = command.NewRouter(trk, tgConn, logger.With("component", "router"))

	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })
	go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
	logger.Info("telegram connector started")

	// 4. API server
	apiSrv := apiPkg.NewServer(trk, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 5. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := trk.Flush(); err != nil {
		logger.Error("failed to save tickets on exit", "error", err)
	}
	logger.Info("dutybotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
