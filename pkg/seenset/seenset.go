// Package seenset implements the exactly-once chat-post guard described in
// spec.md §4.12: before NotificationDispatcher posts a traceback to chat it
// must atomically claim that traceback id for a fixed window, so that two
// concurrent runs of post_unticketed_tracebacks_to_chat never double-post.
//
// Grounded on the teacher's dedupe-key pattern in
// modules/bichat/services/title_job_queue.go (SetNX with a TTL), applied
// here to a standalone flag instead of a job-queue dedupe key.
package seenset

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the window a traceback id stays claimed: spec.md §4.12
// specifies two days, long enough to span a single day's posting run plus
// any retry, without permanently suppressing a traceback that recurs.
const DefaultTTL = 48 * time.Hour

const keyPrefix = "traceline:seen-traceback"

// Flag is the exactly-once claim guard.
type Flag struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Flag backed by client with the default two-day TTL.
func New(client *redis.Client) *Flag {
	return &Flag{client: client, ttl: DefaultTTL}
}

// WithTTL overrides the claim window, mainly for tests.
func (f *Flag) WithTTL(ttl time.Duration) *Flag {
	return &Flag{client: f.client, ttl: ttl}
}

func key(tracebackID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, tracebackID)
}

// ClaimFirstPost atomically claims tracebackID. It returns true the first
// time it's called for a given id within the TTL window, and false on every
// call after that — the caller should only post to chat when it returns
// true.
func (f *Flag) ClaimFirstPost(ctx context.Context, tracebackID string) (bool, error) {
	claimed, err := f.client.SetNX(ctx, key(tracebackID), "1", f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seenset: claim %s: %w", tracebackID, err)
	}
	return claimed, nil
}

// Release removes a claim early, used when a post attempt fails outright
// and the traceback should be eligible for posting again on the next run.
func (f *Flag) Release(ctx context.Context, tracebackID string) error {
	if err := f.client.Del(ctx, key(tracebackID)).Err(); err != nil {
		return fmt.Errorf("seenset: release %s: %w", tracebackID, err)
	}
	return nil
}
