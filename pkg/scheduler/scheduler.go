// Package scheduler implements the named-task queue described in spec.md
// §4.11 (Scheduler, C11): a Redis Stream with a consumer group carries
// task names and string-keyed payloads; tasks may request a delay before
// becoming visible, may expire if not picked up in time, and are run
// through the shared retry policy in pkg/retry.
//
// Grounded on the teacher's modules/bichat/services title_job_queue.go /
// title_job_worker.go (XAdd/XReadGroup/XClaim/XPendingExt over
// github.com/redis/go-redis/v9), generalized from a single hard-coded job
// type into a registry of named handlers and from a time-based ZSET retry
// schedule into a delayed-enqueue ZSET that also serves apply_delay.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/paperwatch/traceline/pkg/cachekey"
	"github.com/paperwatch/traceline/pkg/retry"
)

const (
	defaultStream         = "traceline:tasks"
	defaultGroup          = "traceline-workers"
	defaultDelayedZSet    = "traceline:tasks:delayed"
	defaultDedupePrefix   = "traceline:tasks:dedupe"
	defaultBatchSize      = 16
	defaultReadBlock      = 2 * time.Second
	defaultPendingIdle    = 30 * time.Second
	defaultPollInterval   = 300 * time.Millisecond
	defaultMaxAttempts    = 3
	defaultMaxStreamLen   = 10_000
	defaultDedupeTTL      = 5 * time.Minute
)

// Handler processes one dequeued task. Any returned error causes the
// handler to be called again, up to the Scheduler's maxAttempts calls in
// all, before the message is acked.
type Handler func(ctx context.Context, task Task) error

// Task is one unit of scheduled work.
type Task struct {
	Name       string
	Payload    map[string]string
	EnqueuedAt time.Time
	ExpiresIn  time.Duration // zero means the task never expires
}

func (t Task) expired(now time.Time) bool {
	return t.ExpiresIn > 0 && now.After(t.EnqueuedAt.Add(t.ExpiresIn))
}

// EnqueueOptions configures a single Enqueue call.
type EnqueueOptions struct {
	// Delay defers visibility of the task by this duration (apply_delay).
	Delay time.Duration
	// ExpiresIn drops the task, unprocessed, if it is still queued this
	// long after EnqueuedAt once a worker dequeues it.
	ExpiresIn time.Duration
	// Dedupe, when true, suppresses an enqueue if an identical
	// (name, payload) task was already enqueued within DedupeTTL.
	Dedupe    bool
	DedupeTTL time.Duration
}

// Scheduler is the Redis-backed task queue and worker loop.
type Scheduler struct {
	client   *redis.Client
	logger   *logrus.Logger
	stream   string
	group    string
	delayed  string
	consumer string

	batchSize   int
	readBlock   time.Duration
	pendingIdle time.Duration
	pollEvery   time.Duration
	maxAttempts int

	handlers map[string]Handler
	now      func() time.Time
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

func WithConsumerName(name string) Option { return func(s *Scheduler) { s.consumer = name } }
func WithBatchSize(n int) Option          { return func(s *Scheduler) { s.batchSize = n } }
func WithMaxAttempts(n int) Option        { return func(s *Scheduler) { s.maxAttempts = n } }

// New builds a Scheduler over client.
func New(client *redis.Client, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:      client,
		logger:      logger,
		stream:      defaultStream,
		group:       defaultGroup,
		delayed:     defaultDelayedZSet,
		consumer:    fmt.Sprintf("consumer-%s", uuid.NewString()),
		batchSize:   defaultBatchSize,
		readBlock:   defaultReadBlock,
		pendingIdle: defaultPendingIdle,
		pollEvery:   defaultPollInterval,
		maxAttempts: defaultMaxAttempts,
		handlers:    make(map[string]Handler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a task name (e.g. "update_ticket", "hydrate_cache") to the
// handler that runs it.
func (s *Scheduler) Register(name string, h Handler) {
	s.handlers[name] = h
}

func dedupeKey(name string, payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(payload)*2)
	for _, k := range keys {
		args = append(args, k, payload[k])
	}
	return fmt.Sprintf("%s:%s", defaultDedupePrefix, cachekey.Build(name, args...))
}

// Enqueue adds a task to the queue, applying delay/expiry/dedupe per opts.
func (s *Scheduler) Enqueue(ctx context.Context, name string, payload map[string]string, opts EnqueueOptions) error {
	if opts.Dedupe {
		ttl := opts.DedupeTTL
		if ttl <= 0 {
			ttl = defaultDedupeTTL
		}
		queued, err := s.client.SetNX(ctx, dedupeKey(name, payload), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("scheduler: dedupe check: %w", err)
		}
		if !queued {
			return nil
		}
	}

	if opts.Delay > 0 {
		return s.enqueueDelayed(ctx, name, payload, opts)
	}
	return s.enqueueNow(ctx, name, payload, opts.ExpiresIn)
}

func (s *Scheduler) enqueueNow(ctx context.Context, name string, payload map[string]string, expiresIn time.Duration) error {
	values := map[string]any{
		"name":        name,
		"payload":     encodePayload(payload),
		"enqueued_at": s.now().UTC().Format(time.RFC3339Nano),
		"expires_in":  expiresIn.String(),
	}
	_, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: defaultMaxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("scheduler: enqueue %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) enqueueDelayed(ctx context.Context, name string, payload map[string]string, opts EnqueueOptions) error {
	member := fmt.Sprintf("%s\x1f%s\x1f%s", name, encodePayload(payload), opts.ExpiresIn.String())
	score := float64(s.now().Add(opts.Delay).UnixNano())
	if err := s.client.ZAdd(ctx, s.delayed, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("scheduler: schedule delayed %s: %w", name, err)
	}
	return nil
}

// PromoteDelayed moves any delayed task whose delay has elapsed onto the
// live stream. Call this periodically from Run's loop.
func (s *Scheduler) PromoteDelayed(ctx context.Context) error {
	nowScore := strconv.FormatFloat(float64(s.now().UnixNano()), 'f', -1, 64)
	members, err := s.client.ZRangeByScore(ctx, s.delayed, &redis.ZRangeBy{
		Min: "-inf", Max: nowScore, Count: int64(s.batchSize),
	}).Result()
	if err != nil {
		return fmt.Errorf("scheduler: read delayed tasks: %w", err)
	}
	for _, member := range members {
		parts := strings.SplitN(member, "\x1f", 3)
		if len(parts) != 3 {
			_, _ = s.client.ZRem(ctx, s.delayed, member).Result()
			continue
		}
		expiresIn, _ := time.ParseDuration(parts[2])
		if err := s.enqueueNow(ctx, parts[0], decodePayload(parts[1]), expiresIn); err != nil {
			return err
		}
		_, _ = s.client.ZRem(ctx, s.delayed, member).Result()
	}
	return nil
}

// Purge drops every queued task, live and delayed, without running it.
// Grounded on the HTTP surface's PUT /api/purge_queue operation; exists
// for operators clearing a backlog, not for normal task flow.
func (s *Scheduler) Purge(ctx context.Context) error {
	if err := s.client.Del(ctx, s.stream).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("scheduler: purge stream: %w", err)
	}
	if err := s.client.Del(ctx, s.delayed).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("scheduler: purge delayed set: %w", err)
	}
	return nil
}

// Run starts the consumer loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.PromoteDelayed(ctx); err != nil {
			s.logger.WithError(err).Warn("scheduler: failed to promote delayed tasks")
		}
		if err := s.reclaimPending(ctx); err != nil {
			s.logger.WithError(err).Warn("scheduler: failed to reclaim pending tasks")
		}
		if err := s.consume(ctx); err != nil {
			s.logger.WithError(err).Warn("scheduler: consume failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

func (s *Scheduler) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("scheduler: create consumer group: %w", err)
}

func (s *Scheduler) consume(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(s.batchSize),
		Block:    s.readBlock,
	}).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: xreadgroup: %w", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.handle(ctx, msg)
		}
	}
	return nil
}

func (s *Scheduler) reclaimPending(ctx context.Context) error {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream, Group: s.group, Idle: s.pendingIdle, Start: "-", End: "+", Count: int64(s.batchSize),
	}).Result()
	if err != nil {
		return fmt.Errorf("scheduler: xpendingext: %w", err)
	}
	for _, p := range pending {
		claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
			Stream: s.stream, Group: s.group, Consumer: s.consumer, MinIdle: s.pendingIdle, Messages: []string{p.ID},
		}).Result()
		if err != nil {
			s.logger.WithError(err).WithField("message_id", p.ID).Warn("scheduler: failed to claim stale pending message")
			continue
		}
		for _, msg := range claimed {
			s.handle(ctx, msg)
		}
	}
	return nil
}

func (s *Scheduler) handle(ctx context.Context, msg redis.XMessage) {
	task, err := parseTask(msg.Values)
	if err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("scheduler: dropping malformed task")
		s.ack(ctx, msg.ID)
		return
	}

	if task.expired(s.now()) {
		s.logger.WithField("task", task.Name).Info("scheduler: task expired before dequeue, dropping")
		s.ack(ctx, msg.ID)
		return
	}

	handler, ok := s.handlers[task.Name]
	if !ok {
		s.logger.WithField("task", task.Name).Warn("scheduler: no handler registered, dropping")
		s.ack(ctx, msg.ID)
		return
	}

	err = retry.Do(ctx, retry.Policy{MaxAttempts: s.maxAttempts}, func(ctx context.Context) error {
		return handler(ctx, task)
	})
	if err != nil {
		s.logger.WithError(err).WithField("task", task.Name).Error("scheduler: task failed after retries")
	}
	s.ack(ctx, msg.ID)
}

func (s *Scheduler) ack(ctx context.Context, msgID string) {
	if err := s.client.XAck(ctx, s.stream, s.group, msgID).Err(); err != nil {
		s.logger.WithError(err).WithField("message_id", msgID).Warn("scheduler: ack failed")
	}
	_, _ = s.client.XDel(ctx, s.stream, msgID).Result()
}

func parseTask(values map[string]interface{}) (Task, error) {
	name, _ := values["name"].(string)
	if name == "" {
		return Task{}, fmt.Errorf("task name is required")
	}
	payload := decodePayload(fmt.Sprint(values["payload"]))

	enqueuedAt := time.Now().UTC()
	if raw, ok := values["enqueued_at"].(string); ok && raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			enqueuedAt = parsed
		}
	}

	var expiresIn time.Duration
	if raw, ok := values["expires_in"].(string); ok && raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			expiresIn = parsed
		}
	}

	return Task{Name: name, Payload: payload, EnqueuedAt: enqueuedAt, ExpiresIn: expiresIn}, nil
}

// encodePayload/decodePayload use a simple key=value, \x1e-joined encoding:
// task payloads are flat string maps (ticket keys, traceback ids, dates),
// never nested structures, so this avoids pulling in JSON for a handful of
// scalar fields.
func encodePayload(payload map[string]string) string {
	parts := make([]string, 0, len(payload))
	for k, v := range payload {
		parts = append(parts, k+"="+strings.ReplaceAll(v, "\x1e", ""))
	}
	return strings.Join(parts, "\x1e")
}

func decodePayload(raw string) map[string]string {
	payload := make(map[string]string)
	if raw == "" || raw == "<nil>" {
		return payload
	}
	for _, part := range strings.Split(raw, "\x1e") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			payload[kv[0]] = kv[1]
		}
	}
	return payload
}
