package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/internal/bot"
	"github.com/facilitydesk/repair-bot/internal/config"
	"github.com/facilitydesk/repair-bot/internal/conversation"
	"github.com/facilitydesk/repair-bot/internal/db"
	"github.com/facilitydesk/repair-bot/internal/events"
	"github.com/facilitydesk/repair-bot/internal/lifecycle"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
	"github.com/facilitydesk/repair-bot/internal/server"
	"github.com/facilitydesk/repair-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("bot stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	log.Info("starting repair bot",
		zap.Int("operators", len(cfg.OperatorIDs)),
		zap.Bool("webhook", cfg.WebhookURL != ""),
		zap.Bool("events", cfg.NATSURL != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	roster := models.NewRoster(cfg.OperatorIDs)
	routing := notify.Routing{
		Responsible: cfg.Routing.Responsible,
		Recipients:  cfg.Routing.Recipients,
	}

	sink, err := bot.NewSink(cfg.TelegramToken, cfg.SendTimeout)
	if err != nil {
		return err
	}
	router := notify.NewRouter(sink, roster, routing, cfg.SendTimeout, log.With(zap.String("component", "notify")))

	var opts []lifecycle.Option
	var eventsConn server.Connection
	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, lifecycle.WithPublisher(publisher))
		eventsConn = publisher
	}

	controller := lifecycle.New(database, router, roster, log.With(zap.String("component", "lifecycle")), opts...)
	tracker := conversation.NewTracker(controller, log.With(zap.String("component", "conversation")))

	telegramBot, err := bot.New(bot.Config{
		Token:         cfg.TelegramToken,
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
	}, database, controller, tracker, roster, routing, log.With(zap.String("component", "bot")))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.New(server.Config{WebhookSecret: cfg.WebhookSecret},
			database, eventsConn, telegramBot, log.With(zap.String("component", "http"))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// The bot gets its own context so that webhook intake is drained by
	// srv.Shutdown before Run starts waiting for in-flight updates.
	botCtx, stopBot := context.WithCancel(context.Background())
	defer stopBot()
	botErr := make(chan error, 1)
	go func() { botErr <- telegramBot.Run(botCtx) }()

	log.Info("bot is running")

	var runErr error
	botDone := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-botErr:
		botDone = true
		runErr = err
	}

	log.Info("shutting down")
	stop()
	shutdown(srv, log)
	stopBot()
	if !botDone {
		if err := <-botErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		log.Info("bot stopped")
	}
	return runErr
}

func shutdown(srv *http.Server, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}
}
