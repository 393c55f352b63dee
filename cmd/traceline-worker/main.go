// Command traceline-worker runs every background task named in spec.md
// §4.9-§4.13: archive ingestion (parse_log_file), realtime ingestion
// (realtime_update), ticket synchronization (update_ticket,
// update_all_tickets), cache warm-up (hydrate_cache), the daily
// unticketed-traceback sweep, and the two chat-callback tasks
// (create_ticket, create_comment_on_existing_ticket).
//
// Grounded on the teacher's cmd/server/main.go bootstrap shape, with the
// blocking call swapped from an HTTP listener to the scheduler's
// consumer loop, and a robfig/cron/v3 scheduler driving the two
// time-based triggers the teacher's module registry has no equivalent
// of.
package main

import (
	"context"
	"log"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/infra/chat"
	"github.com/paperwatch/traceline/internal/infra/papertrail"
	"github.com/paperwatch/traceline/internal/infra/s3store"
	"github.com/paperwatch/traceline/internal/infra/tracker"
	"github.com/paperwatch/traceline/internal/ingestpipeline/apicall"
	"github.com/paperwatch/traceline/internal/ingestpipeline/ingest"
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

// dailySweepCron is the cron spec of the daily chat sweep
// (post_unticketed_tracebacks_to_chat).
const dailySweepCron = "0 9 * * *" // 09:00 in the server's local zone, matching the original's daily digest

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("traceline-worker: load config: %v", err)
	}
	logger := logging.New(cfg.DebugLogging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		log.Fatalf("traceline-worker: open store: %v", err)
	}

	corr := correlate.New(st, st)
	sched := scheduler.New(redisClient, logger)

	trackerClient := tracker.New(cfg.JiraServer, cfg.JiraBasicAuthUsername, cfg.JiraBasicAuthPassword, cfg.JiraProjectKey)
	chatClient := chat.New(cfg.SlackRealUserToken)
	seen := seenset.New(redisClient)
	dispatcher := notify.New(corr, chatClient, seen, st, webhookResolver(cfg))
	ticketSync := ticketsync.New(trackerClient, st, cacheCoord)
	ticketRunner := notify.NewTicketTaskRunner(trackerClient, st, corr, chatClient, cfg.SlackWebhookTracebacks)

	s3Client, err := s3store.New(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		log.Fatalf("traceline-worker: construct s3 client: %v", err)
	}
	extractor := apicall.New(nil)
	archiveIngestor := ingest.NewArchiveIngestor(s3Client, st, extractor, logger)
	realtimeIngestor := ingest.NewRealtimeIngestor(papertrail.New(cfg.PapertrailCLIBinary), st, extractor, logger)

	publisher.Subscribe(func(e cache.InvalidatedEvent) {
		if err := sched.Enqueue(ctx, "hydrate_cache", map[string]string{"region": string(e.Region)},
			scheduler.EnqueueOptions{ExpiresIn: 60 * time.Second, Dedupe: true}); err != nil {
			logger.WithError(err).Warn("traceline-worker: failed to enqueue hydrate_cache after invalidation")
		}
	})

	sched.Register(triage.TaskParseLogFile, func(ctx context.Context, task scheduler.Task) error {
		return archiveIngestor.IngestArchive(ctx, task.Payload["bucket"], task.Payload["key"])
	})

	sched.Register("realtime_update", func(ctx context.Context, task scheduler.Task) error {
		start, err := time.Parse(time.RFC3339, task.Payload["start"])
		if err != nil {
			return err
		}
		end, err := time.Parse(time.RFC3339, task.Payload["end"])
		if err != nil {
			return err
		}
		return realtimeIngestor.Run(ctx, start, end)
	})

	sched.Register(ticketsync.TaskUpdateTicket, func(ctx context.Context, task scheduler.Task) error {
		return ticketSync.UpdateTicket(ctx, task.Payload["key"], task.Payload["invalidate"] == "true")
	})

	sched.Register("update_all_tickets", func(ctx context.Context, task scheduler.Task) error {
		return ticketSync.UpdateAllTickets(ctx, openTicketsJQL(cfg), sched)
	})

	sched.Register("hydrate_cache", func(ctx context.Context, task scheduler.Task) error {
		_, err := corr.CorrelateDay(ctx, time.Now(), correlate.FilterAll, nil)
		return err
	})

	sched.Register(notify.TaskCreateTicket, func(ctx context.Context, task scheduler.Task) error {
		return ticketRunner.RunCreateTicket(ctx, task.Payload)
	})

	sched.Register(notify.TaskCommentOnExistingTicket, func(ctx context.Context, task scheduler.Task) error {
		return ticketRunner.RunCommentOnExisting(ctx, task.Payload)
	})

	cronSched := cron.New()
	if _, err := cronSched.AddFunc("* * * * *", func() {
		endTime := time.Now().Add(-time.Minute).Truncate(time.Minute)
		start, end := ingest.Window(endTime)
		if err := sched.Enqueue(ctx, "realtime_update", map[string]string{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		}, scheduler.EnqueueOptions{ExpiresIn: 60 * time.Second}); err != nil {
			logger.WithError(err).Warn("traceline-worker: failed to enqueue realtime_update")
		}
	}); err != nil {
		log.Fatalf("traceline-worker: schedule realtime_update trigger: %v", err)
	}
	if _, err := cronSched.AddFunc(dailySweepCron, func() {
		if err := dispatcher.PostUnticketedTracebacks(ctx, time.Now()); err != nil {
			logger.WithError(err).Warn("traceline-worker: failed to post unticketed tracebacks to chat")
		}
	}); err != nil {
		log.Fatalf("traceline-worker: schedule daily sweep trigger: %v", err)
	}
	cronSched.Start()
	defer cronSched.Stop()

	logger.Info("traceline-worker: consuming scheduled tasks")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("traceline-worker: run: %v", err)
	}
}

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

// openTicketsJQL mirrors the project-scoped, unresolved-issues query the
// original nightly sync ran against Jira.
func openTicketsJQL(cfg *config.Config) string {
	return "project = " + cfg.JiraProjectKey + " AND resolution = Unresolved"
}
