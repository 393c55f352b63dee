package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/internal/store"
	"github.com/paperwatch/traceline/pkg/logging"
)

type fakeTicketTracker struct {
	createExisted bool
	createKey     string
	gotFields     []ports.TicketField
	gotComment    string
}

func (f *fakeTicketTracker) Issue(ctx context.Context, key string) (ports.TrackerIssue, bool, error) {
	return ports.TrackerIssue{}, false, nil
}
func (f *fakeTicketTracker) CreateIssue(ctx context.Context, fields []ports.TicketField, rejectIfExists bool) (ports.TrackerIssue, bool, error) {
	f.gotFields = fields
	if f.createExisted {
		return ports.TrackerIssue{}, true, nil
	}
	return ports.TrackerIssue{Key: f.createKey}, false, nil
}
func (f *fakeTicketTracker) AddComment(ctx context.Context, key, body string) error {
	f.gotComment = body
	return nil
}
func (f *fakeTicketTracker) SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]ports.TrackerIssue, error) {
	return nil, nil
}

func newTestRunner(t *testing.T, tracker *fakeTicketTracker) (*TicketTaskRunner, *store.Store, *fakeChat) {
	st, err := store.OpenInMemory(logging.Discard(), store.NewNullResultCache())
	require.NoError(t, err)
	corr := correlate.New(st, st)
	chat := &fakeChat{}
	return NewTicketTaskRunner(tracker, st, corr, chat, "#tracebacks"), st, chat
}

func TestRunCreateTicket_PostsCreatedAckOnSuccess(t *testing.T) {
	ctx := t.Context()
	tracker := &fakeTicketTracker{createKey: "PROJ-7"}
	runner, st, chat := newTestRunner(t, tracker)
	require.NoError(t, st.SaveTraceback(ctx, domain.Traceback{
		OriginID: "1", OriginTime: time.Now(), TracebackText: "ValueError: boom",
		TracebackPlusContextText: "ValueError: boom",
	}))

	err := runner.RunCreateTicket(ctx, map[string]string{"origin_id": "1", "assign_to": "SOCIAL"})
	require.NoError(t, err)
	assert.Empty(t, chat.posted) // PostAsRealUser, not PostWebhook; nothing lands in posted
	assert.Len(t, tracker.gotFields, 3)
}

func TestRunCreateTicket_ExistedPostsNoticeNotError(t *testing.T) {
	ctx := t.Context()
	tracker := &fakeTicketTracker{createExisted: true}
	runner, st, _ := newTestRunner(t, tracker)
	require.NoError(t, st.SaveTraceback(ctx, domain.Traceback{
		OriginID: "1", OriginTime: time.Now(), TracebackText: "ValueError: boom",
		TracebackPlusContextText: "ValueError: boom",
	}))

	err := runner.RunCreateTicket(ctx, map[string]string{"origin_id": "1"})
	assert.NoError(t, err)
}

func TestRunCreateTicket_UnknownOriginIsNotFound(t *testing.T) {
	ctx := t.Context()
	runner, _, _ := newTestRunner(t, &fakeTicketTracker{})
	err := runner.RunCreateTicket(ctx, map[string]string{"origin_id": "missing"})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRunCommentOnExisting_AddsHitsListComment(t *testing.T) {
	ctx := t.Context()
	tracker := &fakeTicketTracker{}
	runner, st, _ := newTestRunner(t, tracker)
	require.NoError(t, st.SaveTraceback(ctx, domain.Traceback{
		OriginID: "1", OriginTime: time.Now(), TracebackText: "ValueError: boom",
		TracebackPlusContextText: "ValueError: boom",
	}))

	err := runner.RunCommentOnExisting(ctx, map[string]string{"key": "PROJ-1", "origin_id": "1"})
	require.NoError(t, err)
	assert.Contains(t, tracker.gotComment, "papertrailapp.com")
}
