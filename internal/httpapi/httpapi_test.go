package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/notify"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/internal/store"
	"github.com/paperwatch/traceline/internal/ticketsync"
	"github.com/paperwatch/traceline/internal/triage"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/logging"
	"github.com/paperwatch/traceline/pkg/scheduler"
	"github.com/paperwatch/traceline/pkg/seenset"
)

type fakeTracker struct{}

func (fakeTracker) Issue(ctx context.Context, key string) (ports.TrackerIssue, bool, error) {
	return ports.TrackerIssue{}, false, nil
}
func (fakeTracker) CreateIssue(ctx context.Context, fields []ports.TicketField, rejectIfExists bool) (ports.TrackerIssue, bool, error) {
	return ports.TrackerIssue{Key: "PROJ-1"}, false, nil
}
func (fakeTracker) AddComment(ctx context.Context, key, body string) error { return nil }
func (fakeTracker) SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]ports.TrackerIssue, error) {
	return nil, nil
}

type fakeChat struct{ posted []ports.ChatMessage }

func (f *fakeChat) PostWebhook(ctx context.Context, webhookURL string, msg ports.ChatMessage) error {
	f.posted = append(f.posted, msg)
	return nil
}
func (f *fakeChat) PostAsRealUser(ctx context.Context, channel, text string) error     { return nil }
func (f *fakeChat) UpdateMessage(ctx context.Context, channel, ref, text string) error { return nil }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory(logging.Discard(), store.NewNullResultCache())
	require.NoError(t, err)

	corr := correlate.New(st, st)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sched := scheduler.New(redisClient, logging.Discard())

	hidden := NewMemoryHiddenStore()
	triageAPI := triage.New(corr, hidden, st, fakeTracker{}, sched, "bucket", "prefix")

	seen := seenset.New(redisClient)
	dispatcher := notify.New(corr, &fakeChat{}, seen, st, func(string) string { return "https://hooks.example/x" })

	sync := ticketsync.New(fakeTracker{}, st, cache.NullCoordinator{})

	srv := NewServer(triageAPI, corr, dispatcher, sync, sched, cache.NullCoordinator{}, st, st, redisClient, logging.Discard())
	return srv, st
}

func newTestRouter(t *testing.T) (*mux.Router, *Server, *store.Store) {
	srv, st := newTestServer(t)
	r := mux.NewRouter()
	srv.Register(r)
	return r, srv, st
}

func TestHealthz_OKWhenStoreAndRedisReachable(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHideAndRestore_RoundTripsThroughSessionCookie(t *testing.T) {
	r, _, st := newTestRouter(t)
	now := time.Now()
	require.NoError(t, st.SaveTraceback(context.Background(), domain.Traceback{
		OriginID: "1", OriginTime: now, TracebackText: "ValueError: boom",
	}))

	hideReq := httptest.NewRequest(http.MethodPost, "/hide_traceback", strings.NewReader(`{"traceback_text":"ValueError: boom"}`))
	hideW := httptest.NewRecorder()
	r.ServeHTTP(hideW, hideReq)
	require.Equal(t, http.StatusOK, hideW.Code)
	cookies := hideW.Result().Cookies()
	require.NotEmpty(t, cookies)

	listReq := httptest.NewRequest(http.MethodGet, "/?days_ago=0", nil)
	for _, c := range cookies {
		listReq.AddCookie(c)
	}
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)
	assert.Contains(t, listW.Body.String(), "[]")

	restoreReq := httptest.NewRequest(http.MethodPost, "/restore_all", nil)
	for _, c := range cookies {
		restoreReq.AddCookie(c)
	}
	restoreW := httptest.NewRecorder()
	r.ServeHTTP(restoreW, restoreReq)
	require.Equal(t, http.StatusOK, restoreW.Code)

	listReq2 := httptest.NewRequest(http.MethodGet, "/?days_ago=0", nil)
	for _, c := range cookies {
		listReq2.AddCookie(c)
	}
	listW2 := httptest.NewRecorder()
	r.ServeHTTP(listW2, listReq2)
	assert.Contains(t, listW2.Body.String(), "origin_id")
}

func TestCreateJiraTicket_ReturnsKeyAsPlainText(t *testing.T) {
	r, _, st := newTestRouter(t)
	require.NoError(t, st.SaveTraceback(context.Background(), domain.Traceback{
		OriginID: "1", OriginTime: time.Now(), TracebackText: "Traceback (most recent call last)\nValueError: boom",
		TracebackPlusContextText: "Traceback (most recent call last)\nValueError: boom",
	}))

	req := httptest.NewRequest(http.MethodPost, "/create_jira_ticket", strings.NewReader(`{"origin_papertrail_id":"1"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PROJ-1", w.Body.String())
}

func TestSlackCallback_CreateTicketActionEnqueuesTask(t *testing.T) {
	r, _, _ := newTestRouter(t)
	payload := `{"callback_id":"1","actions":[{"name":"create_ticket","selected_options":[{"value":"SOCIAL"}]}]}`
	form := url.Values{"payload": {payload}}
	req := httptest.NewRequest(http.MethodPost, "/slack-callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSlackCallback_OptionLoadReturnsTypeAheadOptions(t *testing.T) {
	r, _, st := newTestRouter(t)
	require.NoError(t, st.SaveTicket(context.Background(), domain.Ticket{Key: "PROJ-9", Summary: "widget failure"}))

	payload := `{"name":"add_to_existing_ticket","value":"widget"}`
	form := url.Values{"payload": {payload}}
	req := httptest.NewRequest(http.MethodPost, "/slack-callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PROJ-9")
}

func TestInvalidateCache_UnknownRegionIsBadRequest(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/invalidate_cache/bogus", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateCache_NamedRegionSucceeds(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/invalidate_cache/jira", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPurgeQueue_Succeeds(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/purge_queue", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseS3_EnqueuesAndReturns202(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/parse_s3", bytes.NewReader([]byte(`{"bucket":"b","key":"k"}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}
