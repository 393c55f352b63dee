package ticketsync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/scheduler"
)

type fakeTracker struct {
	issues  map[string]ports.TrackerIssue
	allKeys []string
}

func (f *fakeTracker) Issue(ctx context.Context, key string) (ports.TrackerIssue, bool, error) {
	issue, ok := f.issues[key]
	return issue, ok, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, fields []ports.TicketField, rejectIfExists bool) (ports.TrackerIssue, bool, error) {
	return ports.TrackerIssue{}, false, nil
}

func (f *fakeTracker) AddComment(ctx context.Context, key, body string) error { return nil }

func (f *fakeTracker) SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]ports.TrackerIssue, error) {
	end := startAt + maxResults
	if end > len(f.allKeys) {
		end = len(f.allKeys)
	}
	if startAt >= len(f.allKeys) {
		return nil, nil
	}
	out := make([]ports.TrackerIssue, 0, end-startAt)
	for _, k := range f.allKeys[startAt:end] {
		out = append(out, ports.TrackerIssue{Key: k})
	}
	return out, nil
}

type fakeStore struct {
	saved   []domain.Ticket
	removed []string
}

func (f *fakeStore) SaveTicket(ctx context.Context, tk domain.Ticket) error {
	f.saved = append(f.saved, tk)
	return nil
}

func (f *fakeStore) RemoveTicket(ctx context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func TestUpdateTicket_FoundSavesToStore(t *testing.T) {
	tracker := &fakeTracker{issues: map[string]ports.TrackerIssue{
		"PROJ-1": {Key: "PROJ-1", Summary: "boom", Updated: time.Now()},
	}}
	st := &fakeStore{}
	sync := New(tracker, st, cache.NullCoordinator{})

	require.NoError(t, sync.UpdateTicket(context.Background(), "PROJ-1", false))
	require.Len(t, st.saved, 1)
	assert.Equal(t, "PROJ-1", st.saved[0].Key)
}

func TestUpdateTicket_NotFoundRemovesFromStore(t *testing.T) {
	tracker := &fakeTracker{issues: map[string]ports.TrackerIssue{}}
	st := &fakeStore{}
	sync := New(tracker, st, cache.NullCoordinator{})

	require.NoError(t, sync.UpdateTicket(context.Background(), "PROJ-2", false))
	assert.Equal(t, []string{"PROJ-2"}, st.removed)
}

func TestUpdateTicket_InvalidateTriggersCacheInvalidation(t *testing.T) {
	tracker := &fakeTracker{issues: map[string]ports.TrackerIssue{
		"PROJ-1": {Key: "PROJ-1"},
	}}
	st := &fakeStore{}
	var invalidated bool
	coord := invalidateSpy{fn: func(region cache.Region) { invalidated = true; assert.Equal(t, cache.RegionJira, region) }}
	sync := New(tracker, st, coord)

	require.NoError(t, sync.UpdateTicket(context.Background(), "PROJ-1", true))
	assert.True(t, invalidated)
}

type invalidateSpy struct {
	fn func(cache.Region)
}

func (s invalidateSpy) Invalidate(ctx context.Context, region cache.Region) error {
	s.fn(region)
	return nil
}

func TestUpdateAllTickets_PaginatesAndEnqueuesEveryKey(t *testing.T) {
	keys := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		keys = append(keys, "K"+string(rune('A'+i%26)))
	}
	tracker := &fakeTracker{allKeys: keys}
	st := &fakeStore{}
	sync := New(tracker, st, cache.NullCoordinator{})

	var enqueued []string
	sched := fakeScheduler{fn: func(name string, payload map[string]string) {
		assert.Equal(t, TaskUpdateTicket, name)
		enqueued = append(enqueued, payload["key"])
	}}

	require.NoError(t, sync.UpdateAllTickets(context.Background(), "project = PROJ", sched))
	assert.Len(t, enqueued, 120)
}

type fakeScheduler struct {
	fn func(name string, payload map[string]string)
}

func (f fakeScheduler) Enqueue(ctx context.Context, name string, payload map[string]string, opts scheduler.EnqueueOptions) error {
	f.fn(name, payload)
	return nil
}

func TestFilterAggregatorMetadata_DropsLinesFromOtherOrigins(t *testing.T) {
	text := strings.Join([]string{
		"Jan  2 15:04:05 web-01 myapp: Traceback (most recent call last):",
		"Jan  2 15:04:05 web-01 myapp:   File \"app.py\", line 10, in handler",
		"Jan  2 15:04:06 db-02 worker: unrelated log noise, different instance",
		"a plain pasted line with no aggregator signature at all",
	}, "\n")

	got := filterAggregatorMetadata(text)

	assert.Contains(t, got, "Traceback (most recent call last):")
	assert.Contains(t, got, "File \"app.py\", line 10, in handler")
	assert.Contains(t, got, "a plain pasted line with no aggregator signature at all")
	assert.NotContains(t, got, "unrelated log noise")
}

func TestFilterAggregatorMetadata_StripsPrefixFromKeptLines(t *testing.T) {
	text := "Jan  2 15:04:05 web-01 myapp: Traceback (most recent call last):"

	got := filterAggregatorMetadata(text)

	assert.Equal(t, "Traceback (most recent call last):", got)
}
