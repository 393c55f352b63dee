// Package triage implements TriageAPI (C14): the boundary port consumed by
// the human triage UI and the ingest-trigger/sync endpoints. HTML rendering
// and session storage are collaborators; this package only implements the
// operation contracts spec.md §4.14 enumerates.
//
// Grounded on original_source/web/app/api_aservice.py (render_main_page's
// list_day/hide/restore flow) and original_source/web/app/jira_issue_aservice.py's
// synchronous create_ticket/comment_on_ticket entry points.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ingestpipeline/ingest"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/internal/store"
	"github.com/paperwatch/traceline/pkg/scheduler"
)

const (
	TaskParseLogFile      = "parse_log_file"
	hoursPerDay           = 24
	archiveFileTimeLayout = "2006-01-02"
)

// HiddenStore is the per-session hidden-traceback-set repository; the
// HTTP boundary owns the actual session cookie/store, this interface only
// names the read/write shape TriageAPI needs from it.
type HiddenStore interface {
	Get(sessionID string) *domain.HiddenTracebackSet
	Put(sessionID string, set *domain.HiddenTracebackSet)
}

// HiddenResolver resolves a session's dismissed traceback_text values to
// origin_ids via a SIMILAR-match lookup against the Store, per spec.md §3.
type HiddenResolver interface {
	GetMatchingTracebacks(ctx context.Context, text string, level store.MatchLevel, limit int) ([]domain.Traceback, error)
}

// API implements TriageAPI.
type API struct {
	correlator *correlate.Correlator
	hidden     HiddenStore
	tracebacks HiddenResolver
	tracker    ports.TicketTracker
	scheduler  *scheduler.Scheduler
	bucket     string
	keyPrefix  string
}

func New(correlator *correlate.Correlator, hidden HiddenStore, resolver HiddenResolver, tracker ports.TicketTracker, sched *scheduler.Scheduler, bucket, keyPrefix string) *API {
	return &API{
		correlator: correlator,
		hidden:     hidden,
		tracebacks: resolver,
		tracker:    tracker,
		scheduler:  sched,
		bucket:     bucket,
		keyPrefix:  keyPrefix,
	}
}

// ListDay implements list_day(days_ago, filter, hidden_set).
func (a *API) ListDay(ctx context.Context, sessionID string, daysAgo int, filter correlate.Filter, displayZoneNow time.Time) ([]correlate.Result, error) {
	date := displayZoneNow.AddDate(0, 0, -daysAgo)
	hiddenIDs, err := a.resolveHiddenIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.correlator.CorrelateDay(ctx, date, filter, hiddenIDs)
}

func (a *API) resolveHiddenIDs(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	set := a.hidden.Get(sessionID)
	if set == nil || len(set.Texts) == 0 {
		return nil, nil
	}
	ids := make(map[string]struct{})
	for text := range set.Texts {
		matches, err := a.tracebacks.GetMatchingTracebacks(ctx, text, correlate.MatchSimilar, 100)
		if err != nil {
			return nil, err
		}
		for _, tb := range matches {
			ids[tb.OriginID] = struct{}{}
		}
	}
	return ids, nil
}

// HideTraceback implements hide_traceback(text).
func (a *API) HideTraceback(sessionID, text string) {
	set := a.hidden.Get(sessionID)
	if set == nil {
		set = domain.NewHiddenTracebackSet(sessionID)
	}
	set.Hide(text)
	a.hidden.Put(sessionID, set)
}

// RestoreAll implements restore_all().
func (a *API) RestoreAll(sessionID string) {
	set := a.hidden.Get(sessionID)
	if set == nil {
		set = domain.NewHiddenTracebackSet(sessionID)
	}
	set.RestoreAll()
	a.hidden.Put(sessionID, set)
}

// CreateTicket implements create_ticket(origin_id): synchronous ticket
// creation, returning the new key.
func (a *API) CreateTicket(ctx context.Context, tb domain.Traceback, fields []ports.TicketField) (string, error) {
	issue, existed, err := a.tracker.CreateIssue(ctx, fields, true)
	if err != nil {
		return "", err
	}
	if existed {
		return "", domain.E("TriageAPI.CreateTicket", domain.KindInvariant, fmt.Errorf("a matching ticket already exists"))
	}
	return issue.Key, nil
}

// CommentOnTicket implements comment_on_ticket(origin_id, key): synchronous
// comment creation, returning the ticket key unchanged.
func (a *API) CommentOnTicket(ctx context.Context, key, body string) (string, error) {
	if err := a.tracker.AddComment(ctx, key, body); err != nil {
		return "", err
	}
	return key, nil
}

// IngestArchive implements ingest_archive(bucket, key): enqueues
// parse_log_file and returns immediately (the HTTP boundary maps this to a
// 202).
func (a *API) IngestArchive(ctx context.Context, bucket, key string) error {
	return a.scheduler.Enqueue(ctx, TaskParseLogFile, map[string]string{"bucket": bucket, "key": key}, scheduler.EnqueueOptions{
		Dedupe:    true,
		DedupeTTL: 5 * time.Minute,
	})
}

// IngestDay implements ingest_day(date): fans out 24 parse_log_file tasks,
// one per hour, keyed "<prefix>/dt=<date>/<date>-<HH>.tsv.gz".
func (a *API) IngestDay(ctx context.Context, date time.Time) error {
	dateStr := date.Format(archiveFileTimeLayout)
	for hour := 0; hour < hoursPerDay; hour++ {
		key := fmt.Sprintf("%s/dt=%s/%s-%02d.tsv.gz", a.keyPrefix, dateStr, dateStr, hour)
		if err := a.IngestArchive(ctx, a.bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueRealtime implements enqueue_realtime(end_time?): schedules the
// realtime_update task for the one-minute trailing window ending at
// endTime (or now, if zero), with the 60s TTL spec.md §4.6 specifies.
func (a *API) EnqueueRealtime(ctx context.Context, endTime time.Time) error {
	minTime, maxTime := ingest.Window(endTime)
	return a.scheduler.Enqueue(ctx, "realtime_update", map[string]string{
		"start": minTime.Format(time.RFC3339),
		"end":   maxTime.Format(time.RFC3339),
	}, scheduler.EnqueueOptions{ExpiresIn: 60 * time.Second})
}
