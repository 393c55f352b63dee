package triage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/internal/store"
	"github.com/paperwatch/traceline/pkg/scheduler"
)

type memHiddenStore struct {
	sets map[string]*domain.HiddenTracebackSet
}

func newMemHiddenStore() *memHiddenStore {
	return &memHiddenStore{sets: make(map[string]*domain.HiddenTracebackSet)}
}

func (m *memHiddenStore) Get(sessionID string) *domain.HiddenTracebackSet { return m.sets[sessionID] }
func (m *memHiddenStore) Put(sessionID string, set *domain.HiddenTracebackSet) {
	m.sets[sessionID] = set
}

type fakeTracker struct {
	createIssue   ports.TrackerIssue
	createExisted bool
	createErr     error
	addCommentErr error
	gotFields     []ports.TicketField
	gotKey        string
	gotBody       string
}

func (f *fakeTracker) Issue(ctx context.Context, key string) (ports.TrackerIssue, bool, error) {
	return ports.TrackerIssue{}, false, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, fields []ports.TicketField, rejectIfExists bool) (ports.TrackerIssue, bool, error) {
	f.gotFields = fields
	return f.createIssue, f.createExisted, f.createErr
}

func (f *fakeTracker) AddComment(ctx context.Context, key, body string) error {
	f.gotKey, f.gotBody = key, body
	return f.addCommentErr
}

func (f *fakeTracker) SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]ports.TrackerIssue, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	return scheduler.New(client, logger), client
}

func newTestAPI(t *testing.T, tracker ports.TicketTracker, bucket, prefix string) (*API, *store.Store, *memHiddenStore, *redis.Client) {
	t.Helper()
	st, err := store.OpenInMemory(logrus.New(), store.NewNullResultCache())
	require.NoError(t, err)
	corr := correlate.New(st, st)
	hidden := newMemHiddenStore()
	sched, client := newTestScheduler(t)
	api := New(corr, hidden, st, tracker, sched, bucket, prefix)
	return api, st, hidden, client
}

func streamEntries(t *testing.T, client *redis.Client, stream string) []string {
	t.Helper()
	entries, err := client.XRange(t.Context(), stream, "-", "+").Result()
	require.NoError(t, err)
	payloads := make([]string, len(entries))
	for i, e := range entries {
		payloads[i] = fmt.Sprintf("%v", e.Values["payload"])
	}
	return payloads
}

func TestListDay_ExcludesHiddenTexts(t *testing.T) {
	api, st, _, _ := newTestAPI(t, &fakeTracker{}, "bucket", "prefix")
	ctx := t.Context()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tb1 := domain.Traceback{OriginID: "1", OriginTime: now, TracebackText: "ValueError: boom"}
	tb2 := domain.Traceback{OriginID: "2", OriginTime: now, TracebackText: "KeyError: oops"}
	require.NoError(t, st.SaveTraceback(ctx, tb1))
	require.NoError(t, st.SaveTraceback(ctx, tb2))

	results, err := api.ListDay(ctx, "sess-1", 0, correlate.FilterAll, now)
	require.NoError(t, err)
	require.Len(t, results, 2)

	api.HideTraceback("sess-1", "ValueError: boom")

	results, err = api.ListDay(ctx, "sess-1", 0, correlate.FilterAll, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].Traceback.OriginID)
}

func TestHideTraceback_RestoreAllUndoesHide(t *testing.T) {
	api, st, _, _ := newTestAPI(t, &fakeTracker{}, "bucket", "prefix")
	ctx := t.Context()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tb := domain.Traceback{OriginID: "1", OriginTime: now, TracebackText: "ValueError: boom"}
	require.NoError(t, st.SaveTraceback(ctx, tb))

	api.HideTraceback("sess-1", "ValueError: boom")
	results, err := api.ListDay(ctx, "sess-1", 0, correlate.FilterAll, now)
	require.NoError(t, err)
	assert.Empty(t, results)

	api.RestoreAll("sess-1")
	results, err = api.ListDay(ctx, "sess-1", 0, correlate.FilterAll, now)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCreateTicket_ReturnsKeyOnSuccess(t *testing.T) {
	tracker := &fakeTracker{createIssue: ports.TrackerIssue{Key: "PROJ-9"}, createExisted: false}
	api, _, _, _ := newTestAPI(t, tracker, "bucket", "prefix")

	key, err := api.CreateTicket(t.Context(), domain.Traceback{OriginID: "1"}, []ports.TicketField{{Name: "summary", Value: "boom"}})
	require.NoError(t, err)
	assert.Equal(t, "PROJ-9", key)
	require.Len(t, tracker.gotFields, 1)
}

func TestCreateTicket_ExistedIsInvariantError(t *testing.T) {
	tracker := &fakeTracker{createIssue: ports.TrackerIssue{Key: "PROJ-9"}, createExisted: true}
	api, _, _, _ := newTestAPI(t, tracker, "bucket", "prefix")

	_, err := api.CreateTicket(t.Context(), domain.Traceback{OriginID: "1"}, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvariant, domain.KindOf(err))
}

func TestCommentOnTicket_ReturnsKeyUnchanged(t *testing.T) {
	tracker := &fakeTracker{}
	api, _, _, _ := newTestAPI(t, tracker, "bucket", "prefix")

	key, err := api.CommentOnTicket(t.Context(), "PROJ-5", "another occurrence")
	require.NoError(t, err)
	assert.Equal(t, "PROJ-5", key)
	assert.Equal(t, "PROJ-5", tracker.gotKey)
	assert.Equal(t, "another occurrence", tracker.gotBody)
}

func TestIngestDay_EnqueuesTwentyFourHourlyKeys(t *testing.T) {
	api, _, _, client := newTestAPI(t, &fakeTracker{}, "mybucket", "archives")
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, api.IngestDay(t.Context(), date))

	payloads := streamEntries(t, client, "traceline:tasks")
	require.Len(t, payloads, 24)
	assert.Contains(t, payloads[0], "archives/dt=2024-05-01/2024-05-01-00.tsv.gz")
	assert.Contains(t, payloads[23], "archives/dt=2024-05-01/2024-05-01-23.tsv.gz")
}

func TestEnqueueRealtime_DoesNotError(t *testing.T) {
	api, _, _, _ := newTestAPI(t, &fakeTracker{}, "bucket", "prefix")
	require.NoError(t, api.EnqueueRealtime(t.Context(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}
