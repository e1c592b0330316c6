package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"bugbot.app/relay/common/id"
	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/common/otel"
	"bugbot.app/relay/core/config"
	"bugbot.app/relay/internal/http/handler/webhook"
	"bugbot.app/relay/internal/http/middleware"
	httprouter "bugbot.app/relay/internal/http/router"
	"bugbot.app/relay/internal/queue"
	"bugbot.app/relay/internal/service/chat"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeServer)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "bugbot server starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"queue_transport", cfg.Queue.Transport)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	verifier, err := webhook.NewVerifier(cfg.Discord.PublicKey)
	if err != nil {
		slog.ErrorContext(ctx, "invalid discord public key", "error", err)
		os.Exit(1)
	}

	producer, err := newProducer(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create queue producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	discord := chat.NewDiscordClient(chat.Config{
		BotToken:   cfg.Discord.BotToken,
		APIBaseURL: cfg.Discord.APIBaseURL,
	})

	interactions := webhook.NewInteractionHandler(verifier, discord, producer, webhook.InteractionConfig{
		Mention:        cfg.Discord.Mention,
		BotUserID:      cfg.Discord.BotUserID,
		HistoryLimit:   cfg.Discord.HistoryLimit,
		HistoryTimeout: cfg.Discord.HistoryTimeout,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupServerRoutes(router, interactions)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func newProducer(ctx context.Context, cfg config.Config) (queue.Producer, error) {
	if cfg.Queue.Transport == config.QueueTransportHTTP {
		slog.InfoContext(ctx, "queue producer: http push", "url", cfg.Queue.PushURL)
		return queue.NewHTTPProducer(queue.HTTPProducerConfig{
			URL:         cfg.Queue.PushURL,
			Secret:      cfg.Queue.PushSecret,
			TraceHeader: cfg.Queue.TraceHeaderName,
		}, slog.Default()), nil
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

	return queue.NewRedisProducer(redisClient, cfg.Queue.RedisStream, slog.Default()), nil
}

const banner = `
 _                 _           _
| |__  _   _  __ _| |__   ___ | |_
| '_ \| | | |/ _' | '_ \ / _ \| __|
| |_) | |_| | (_| | |_) | (_) | |_
|_.__/ \__,_|\__, |_.__/ \___/ \__|  server
             |___/
`
