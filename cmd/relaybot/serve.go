package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/instagram-relay-bot/internal/config"
	"github.com/tbourn/instagram-relay-bot/internal/extract"
	"github.com/tbourn/instagram-relay-bot/internal/fetch"
	httpapi "github.com/tbourn/instagram-relay-bot/internal/http"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
	"github.com/tbourn/instagram-relay-bot/internal/services"
	"github.com/tbourn/instagram-relay-bot/internal/telegram"
)

// shutdownGrace bounds each shutdown step: HTTP drain, queue drain and
// pending backups.
const shutdownGrace = 2 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (polling or webhook) with its HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.RequireBot(); err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version,
		attribute.String("bot.mode", cfg.Bot.Mode),
		attribute.String("user.store", cfg.UserStore),
	)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("close user store")
		}
	}()

	reg, err := newRegistry(ctx, store, openBackup(cfg))
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Bot.Token, tgbotapi.APIEndpoint,
		&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Int("users", reg.Size()).Str("mode", cfg.Bot.Mode).Msg("bot authorized")

	messenger := telegram.NewMessenger(bot)
	pipeline := services.NewPipeline(
		services.NewQueue(cfg.QueueCapacity),
		extract.NewClient(cfg.Extract.Endpoint, cfg.Extract.APIKey, cfg.Extract.Timeout),
		fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		messenger,
	)
	broadcaster := services.NewBroadcaster(reg, messenger, cfg.Bot.AdminID, cfg.Broadcast.RPS, cfg.Broadcast.Concurrency)
	dispatcher := telegram.NewDispatcher(messenger, reg, pipeline, broadcaster)

	// The worker outlives intake so queued requests can drain on shutdown.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()
	workerDone := make(chan error, 1)
	go func() { workerDone <- pipeline.Run(workerCtx) }()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	deps := httpapi.Deps{Users: reg, Stats: pipeline, Broadcaster: broadcaster}
	if cfg.Bot.Mode == config.ModeWebhook {
		deps.Webhook = telegram.WebhookHandler(dispatcher, cfg.Bot.WebhookSecret)
	}
	httpapi.RegisterRoutes(engine, cfg, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	switch cfg.Bot.Mode {
	case config.ModeWebhook:
		if err := telegram.SetWebhook(bot, cfg.WebhookEndpoint(), cfg.Bot.WebhookSecret); err != nil {
			// Failing inside the group cancels gctx and unwinds the server.
			g.Go(func() error { return err })
		}
	default:
		g.Go(func() error {
			if err := telegram.Poll(gctx, bot, dispatcher, cfg.Bot.PollTimeoutSec); err != nil {
				return err
			}
			if gctx.Err() == nil {
				return errors.New("telegram update stream closed")
			}
			return nil
		})
	}

	runErr := g.Wait()
	log.Info().Int("pending", pipeline.QueueDepth()).Msg("intake stopped; draining downloads")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := pipeline.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Int("pending", pipeline.QueueDepth()).Msg("queue not drained")
	}
	stopWorker()
	if err := <-workerDone; err != nil {
		log.Error().Err(err).Msg("download worker")
	}
	dispatcher.Wait()
	if err := reg.WaitBackups(drainCtx); err != nil {
		log.Warn().Err(err).Msg("pending backups abandoned")
	}
	log.Info().Int64("delivered", pipeline.Delivered()).Msg("shutdown complete")
	return runErr
}
