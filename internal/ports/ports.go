// Package ports declares the external-system boundaries every other
// component programs against: object storage (S3), the ticket tracker
// (Jira-shaped REST), the chat notifier (Slack-shaped webhook), and the
// realtime log CLI. Concrete adapters live under internal/infra (s3store,
// tracker, chat, papertrail, tracing); this package exists so the packages
// that use them (internal/ticketsync, internal/notify,
// internal/ingestpipeline/ingest and others) depend on an interface rather
// than a concrete SDK client.
package ports

import (
	"context"
	"io"
	"time"
)

// ObjectStorage is the subset of S3 ArchiveIngestor (C5) needs.
type ObjectStorage interface {
	// Download streams the object at (bucket, key). The caller must Close
	// the returned reader. A 404 or 403 from the backing service is
	// surfaced as a domain.Error with KindNotFound/KindAuthz respectively.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// TicketField is one field on a tracker issue create/update request.
type TicketField struct {
	Name  string
	Value any
}

// TrackerIssue is the tracker's wire shape for one issue, as returned by
// Issue/CreateIssue/SearchIssues.
type TrackerIssue struct {
	Key         string
	URL         string
	Summary     string
	Description string
	Comments    []string
	IssueType   string
	Status      string
	Assignee    string
	Created     time.Time
	Updated     time.Time
}

// TicketTracker is the REST client contract for the external tracker
// (spec.md §6): issue/create_issue/add_comment/search_issues.
type TicketTracker interface {
	Issue(ctx context.Context, key string) (TrackerIssue, bool, error)
	CreateIssue(ctx context.Context, fields []TicketField, rejectIfExists bool) (TrackerIssue, bool, error)
	AddComment(ctx context.Context, key, body string) error
	SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]TrackerIssue, error)
}

// TicketOption is one selectable value in a chat dropdown (spec.md §4.12).
type TicketOption struct {
	Text  string
	Value string
}

// ChatMessage is the payload NotificationDispatcher posts or updates.
type ChatMessage struct {
	Channel           string
	OriginID          string
	Text              string
	AttachmentText    string
	Hits              []string
	MatchingTickets   []string
	AssignmentOptions []TicketOption
	TicketOptions     []TicketOption
}

// ChatNotifier is the outbound chat contract (spec.md §4.12/§6): normal
// webhook posts plus the "post as a real user" variant the tracker's chat
// bridge notices.
type ChatNotifier interface {
	PostWebhook(ctx context.Context, webhookURL string, msg ChatMessage) error
	PostAsRealUser(ctx context.Context, channel, text string) error
	UpdateMessage(ctx context.Context, channel, messageRef, text string) error
}

// PapertrailCLI runs the realtime log-aggregator CLI and streams its JSON
// output (spec.md §4.6).
type PapertrailCLI interface {
	Run(ctx context.Context, minTime, maxTime time.Time) (io.ReadCloser, error)
}

// Tracer is a thin otel-shaped span boundary so components can be
// instrumented without a hard otel dependency in their constructors; the
// no-op implementation is the default when no exporter is configured.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}
