// Command traceline-server runs the HTTP boundary (C14's TriageAPI plus
// the rest of spec.md §6's request surface): the triage UI's day-listing
// and hide/restore endpoints, the synchronous Jira endpoints, the chat
// callback, the ingest-trigger endpoints, and the operator endpoints
// (invalidate_cache, purge_queue, healthz).
//
// Grounded on the teacher's cmd/server/main.go: load config, build the
// logger, wire every collaborator, register controllers on one router,
// and serve — generalized from the teacher's modules.Load(app, ...)
// registry into this service's fixed, single-controller wiring.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/httpapi"
	"github.com/paperwatch/traceline/internal/infra/chat"
	"github.com/paperwatch/traceline/internal/infra/tracker"
	"github.com/paperwatch/traceline/internal/notify"
	"github.com/paperwatch/traceline/internal/store"
	"github.com/paperwatch/traceline/internal/ticketsync"
	"github.com/paperwatch/traceline/internal/triage"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/config"
	"github.com/paperwatch/traceline/pkg/eventbus"
	"github.com/paperwatch/traceline/pkg/logging"
	"github.com/paperwatch/traceline/pkg/scheduler"
	"github.com/paperwatch/traceline/pkg/seenset"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("traceline-server: load config: %v", err)
	}
	logger := logging.New(cfg.DebugLogging)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	publisher := eventbus.NewEventPublisher(logger)

	var resultCache = store.NewNullResultCache()
	var cacheCoord cache.Coordinator = cache.NullCoordinator{}
	if cfg.UseDogpileCache {
		redisCoord := cache.NewRedisCoordinator(redisClient, logger, publisher)
		cacheCoord = redisCoord
		resultCache = store.NewRedisResultCache(redisCoord)
	}

	st, err := store.Open(cfg.StoreDataDir, logger, resultCache)
	if err != nil {
		log.Fatalf("traceline-server: open store: %v", err)
	}

	corr := correlate.New(st, st)
	sched := scheduler.New(redisClient, logger)

	trackerClient := tracker.New(cfg.JiraServer, cfg.JiraBasicAuthUsername, cfg.JiraBasicAuthPassword, cfg.JiraProjectKey)
	chatClient := chat.New(cfg.SlackRealUserToken)
	seen := seenset.New(redisClient)
	dispatcher := notify.New(corr, chatClient, seen, st, webhookResolver(cfg))
	ticketSync := ticketsync.New(trackerClient, st, cacheCoord)

	hidden := httpapi.NewMemoryHiddenStore()
	triageAPI := triage.New(corr, hidden, st, trackerClient, sched, cfg.S3Bucket, cfg.S3KeyPrefix)

	publisher.Subscribe(func(e cache.InvalidatedEvent) {
		ctx := context.Background()
		if err := sched.Enqueue(ctx, "hydrate_cache", map[string]string{"region": string(e.Region)},
			scheduler.EnqueueOptions{ExpiresIn: 60 * time.Second, Dedupe: true}); err != nil {
			logger.WithError(err).Warn("traceline-server: failed to enqueue hydrate_cache after invalidation")
		}
	})

	srv := httpapi.NewServer(triageAPI, corr, dispatcher, ticketSync, sched, cacheCoord, st, st, redisClient, logger)
	router := mux.NewRouter()
	srv.Register(router)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("traceline-server: graceful shutdown failed")
		}
	}()

	logger.Infof("traceline-server: listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("traceline-server: serve: %v", err)
	}
}

// webhookResolver maps a chat channel-route key to its configured webhook
// URL, per the three SLACK_WEBHOOK_TRACEBACKS* config keys.
func webhookResolver(cfg *config.Config) notify.WebhookResolver {
	return func(route string) string {
		switch route {
		case "social":
			return cfg.SlackWebhookTracebacksSocial
		case "adwords":
			return cfg.SlackWebhookTracebacksAdwords
		default:
			return cfg.SlackWebhookTracebacks
		}
	}
}
