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
	"bugbot.app/relay/common/llm"
	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/common/otel"
	"bugbot.app/relay/core/config"
	"bugbot.app/relay/core/db"
	"bugbot.app/relay/internal/fix"
	"bugbot.app/relay/internal/http/handler"
	"bugbot.app/relay/internal/http/middleware"
	httprouter "bugbot.app/relay/internal/http/router"
	"bugbot.app/relay/internal/pipeline"
	"bugbot.app/relay/internal/queue"
	"bugbot.app/relay/internal/service/analytics"
	"bugbot.app/relay/internal/service/chat"
	"bugbot.app/relay/internal/service/issue_tracker"
	"bugbot.app/relay/internal/service/source_host"
	"bugbot.app/relay/internal/store"
	"bugbot.app/relay/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeWorker)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "bugbot worker starting",
		"env", cfg.Env,
		"queue_transport", cfg.Queue.Transport,
		"mapping_backend", cfg.Mapping.Backend,
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer)

	// Different node ID than server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Queue.Transport == config.QueueTransportRedis || cfg.Mapping.Backend == config.MappingBackendRedis {
		redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)
	}

	var mappings store.ThreadIssueStore
	switch cfg.Mapping.Backend {
	case config.MappingBackendPostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "database connected")
		mappings = store.NewPostgresThreadIssueStore(database.Querier())
	default:
		mappings = store.NewRedisThreadIssueStore(redisClient, "")
	}

	processor := pipeline.NewProcessor(pipeline.Deps{
		Chat: chat.NewDiscordClient(chat.Config{
			BotToken:   cfg.Discord.BotToken,
			APIBaseURL: cfg.Discord.APIBaseURL,
		}),
		Tracker: issue_tracker.NewLinearClient(issue_tracker.Config{
			APIKey: cfg.Linear.APIKey,
			APIURL: cfg.Linear.APIURL,
		}),
		Analytics: analytics.NewPostHogClient(analytics.Config{
			APIKey:    cfg.PostHog.APIKey,
			ProjectID: cfg.PostHog.ProjectID,
			Host:      cfg.PostHog.Host,
		}),
		Mappings: mappings,
		Fixer:    newFixGenerator(ctx, cfg),
	}, pipeline.Config{
		Platform:       cfg.Mapping.Platform,
		Mention:        cfg.Discord.Mention,
		TeamID:         cfg.Linear.TeamID,
		RecordingLimit: cfg.PostHog.RecordingLimit,
		DefaultRepoURL: cfg.Fix.RepoURL,
	})

	errCh := make(chan error, 3)
	running := 0

	var (
		w         *worker.Worker
		reclaimer *worker.Reclaimer
	)
	if cfg.Queue.Transport == config.QueueTransportRedis {
		consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
			Stream:       cfg.Queue.RedisStream,
			Group:        cfg.Queue.RedisGroup,
			Consumer:     cfg.Queue.RedisConsumer,
			DLQStream:    cfg.Queue.RedisDLQStream,
			BatchSize:    1,
			Block:        5 * time.Second,
			RequeueDelay: time.Second,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err)
			os.Exit(1)
		}

		w = worker.New(consumer, processor, worker.Config{
			MaxAttempts: cfg.Queue.MaxAttempts,
		})

		reclaimer = worker.NewReclaimer(consumer, w.HandleMessage, worker.ReclaimerConfig{
			MinIdle:   5 * time.Minute,
			Interval:  time.Minute,
			BatchSize: 10,
		})

		running += 2
		go func() {
			errCh <- w.Run(ctx)
		}()
		go func() {
			reclaimer.Run(ctx)
			errCh <- nil
		}()
	}

	var (
		pushServer *http.Server
		pool       *worker.Pool
	)
	if cfg.Queue.PushEnabled() {
		var dispatcher handler.Dispatcher
		if cfg.Queue.Transport == config.QueueTransportRedis {
			// Pushed envelopes join the stream and get the consumer group's retry policy.
			dispatcher = queue.NewRedisProducer(redisClient, cfg.Queue.RedisStream, slog.Default())
		} else {
			pool = worker.NewPool(processor, worker.PoolConfig{
				Workers:     cfg.Queue.PushWorkers,
				QueueSize:   cfg.Queue.PushQueueSize,
				MaxAttempts: cfg.Queue.MaxAttempts,
			})
			pool.Start(ctx)
			dispatcher = pool
		}

		pushServer = newPushServer(cfg, dispatcher)
		go func() {
			slog.InfoContext(ctx, "queue push server starting", "port", cfg.PushPort)
			if err := pushServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.ErrorContext(ctx, "queue push server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	if running == 0 && pushServer == nil {
		slog.ErrorContext(ctx, "no queue front door configured: use the redis transport or set QUEUE_PUSH_SECRET")
		os.Exit(1)
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if pushServer != nil {
		if err := pushServer.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "queue push server shutdown error", "error", err)
		}
	}

	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "worker pool did not drain before shutdown", "error", err)
		}
	}

	// Stop reclaimer first (quick), then the worker which may be processing
	if reclaimer != nil {
		reclaimer.Stop()
	}
	if w != nil {
		w.Stop()
	}

wait:
	for i := 0; i < running; i++ {
		select {
		case <-shutdownCtx.Done():
			slog.WarnContext(ctx, "shutdown timeout exceeded")
			break wait
		case err := <-errCh:
			if err != nil {
				slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
			}
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// newFixGenerator returns nil when no LLM is configured; the fix command then reports
// that generation is unavailable.
func newFixGenerator(ctx context.Context, cfg config.Config) pipeline.FixGenerator {
	if !cfg.Fix.LLM.Enabled() {
		slog.InfoContext(ctx, "fix generation disabled (no llm api key)")
		return nil
	}

	client, err := llm.New(llm.Config{
		APIKey:  cfg.Fix.LLM.APIKey,
		BaseURL: cfg.Fix.LLM.BaseURL,
		Model:   cfg.Fix.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	hosts := source_host.NewRegistry()
	if cfg.GitHub.Token != "" {
		gh, err := source_host.NewGitHub(source_host.GitHubConfig{
			Token:  cfg.GitHub.Token,
			APIURL: cfg.GitHub.APIURL,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create github client", "error", err)
			os.Exit(1)
		}
		hosts.Register("github.com", gh)
	}
	if cfg.GitLab.Token != "" {
		gl, err := source_host.NewGitLab(source_host.GitLabConfig{
			Token:   cfg.GitLab.Token,
			BaseURL: cfg.GitLab.BaseURL,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create gitlab client", "error", err)
			os.Exit(1)
		}
		hosts.Register(source_host.Hostname(cfg.GitLab.BaseURL, "gitlab.com"), gl)
	}

	slog.InfoContext(ctx, "fix generation enabled", "model", client.Model())
	return fix.NewGenerator(client, hosts, fix.Config{
		BaseBranch: cfg.Fix.BaseBranch,
		MaxTokens:  cfg.Fix.LLM.MaxTokens,
	})
}

func newPushServer(cfg config.Config, dispatcher handler.Dispatcher) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupPushRoutes(router,
		handler.NewQueuePushHandler(dispatcher, cfg.Queue.TraceHeaderName),
		httprouter.PushConfig{Secret: cfg.Queue.PushSecret})

	return &http.Server{
		Addr:              ":" + cfg.PushPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

const banner = `
 _                 _           _
| |__  _   _  __ _| |__   ___ | |_
| '_ \| | | |/ _' | '_ \ / _ \| __|
| |_) | |_| | (_| | |_) | (_) | |_
|_.__/ \__,_|\__, |_.__/ \___/ \__|  worker
             |___/
`
