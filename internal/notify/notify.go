// Package notify implements NotificationDispatcher (C12): the scheduled
// post_unticketed_tracebacks_to_chat task, and the interactive
// /chat-callback handler for ticket creation and assignment.
//
// Grounded on original_source/src/lib/slack/slack_poster.py (message
// shape: last-5-lines summary, full-context attachment, hits list, two
// select actions, channel routing by keyword) and spec.md §4.12
// (create_ticket/add_to_existing_ticket callback actions, the type-ahead
// search_issues data source) — there is no callback-handling file in
// original_source; the callback itself is this spec's interactive
// redesign of slack_poster.py's plain notifications.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/pkg/scheduler"
	"github.com/paperwatch/traceline/pkg/seenset"
)

const (
	maxSummaryLines = 5
	maxLineLength   = 200
	maxHits         = 40
	typeAheadLimit  = 30

	AssignmentUnassigned = "UNASSIGNED"
	AssignmentAdwords    = "ADWORDS"
	AssignmentBing       = "BING"
	AssignmentSocial     = "SOCIAL"
	AssignmentGrader     = "GRADER"

	ActionCreateTicket  = "create_ticket"
	ActionAddToExisting = "add_to_existing_ticket"

	TaskCreateTicket            = "create_ticket"
	TaskCommentOnExistingTicket = "create_comment_on_existing_ticket"
)

// AssignmentOptions is the fixed 5-option "Create a Jira ticket…" dropdown
// from spec.md §4.12.
var AssignmentOptions = []ports.TicketOption{
	{Text: "Unassigned", Value: AssignmentUnassigned},
	{Text: "Adwords", Value: AssignmentAdwords},
	{Text: "Bing", Value: AssignmentBing},
	{Text: "Social", Value: AssignmentSocial},
	{Text: "Grader", Value: AssignmentGrader},
}

// ChannelRoute chooses a webhook URL key by keyword in traceback_text,
// case-insensitive, per spec.md §4.12.
func ChannelRoute(tracebackText string) string {
	lower := strings.ToLower(tracebackText)
	switch {
	case strings.Contains(lower, "facebook"):
		return "social"
	case strings.Contains(lower, "adwords"):
		return "adwords"
	default:
		return "default"
	}
}

// TicketSearcher is the subset of internal/store.Store the type-ahead data
// source and the dropdown ticket-option list read from.
type TicketSearcher interface {
	SearchTickets(ctx context.Context, phrase string, limit int) ([]domain.Ticket, error)
}

// Scheduler is the subset of pkg/scheduler.Scheduler the callback handler
// dispatches follow-up work through.
type Scheduler interface {
	Enqueue(ctx context.Context, name string, payload map[string]string, opts scheduler.EnqueueOptions) error
}

// WebhookResolver maps a channel route ("social"/"adwords"/"default") to a
// concrete webhook URL; configured per-deployment.
type WebhookResolver func(route string) string

// Dispatcher implements C12.
type Dispatcher struct {
	correlator *correlate.Correlator
	chat       ports.ChatNotifier
	seen       *seenset.Flag
	search     TicketSearcher
	webhookFor WebhookResolver
}

func New(correlator *correlate.Correlator, chat ports.ChatNotifier, seen *seenset.Flag, search TicketSearcher, webhookFor WebhookResolver) *Dispatcher {
	return &Dispatcher{correlator: correlator, chat: chat, seen: seen, search: search, webhookFor: webhookFor}
}

// PostUnticketedTracebacks implements the scheduled task: correlate today's
// "No Recent Ticket" tracebacks, claim each exactly-once, and post novel
// ones to chat oldest-first.
func (d *Dispatcher) PostUnticketedTracebacks(ctx context.Context, displayZoneNow time.Time) error {
	results, err := d.correlator.CorrelateDay(ctx, displayZoneNow, correlate.FilterNoRecentTicket, nil)
	if err != nil {
		return err
	}
	reverse(results)

	for _, r := range results {
		claimed, err := d.seen.ClaimFirstPost(ctx, r.Traceback.OriginID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		if err := d.post(ctx, r); err != nil {
			// Failed to post: release the claim so this traceback is
			// retried on the next scheduled run instead of silently lost.
			_ = d.seen.Release(ctx, r.Traceback.OriginID)
			return err
		}
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, r correlate.Result) error {
	msg := buildMessage(r)
	webhookURL := d.webhookFor(ChannelRoute(r.Traceback.TracebackText))
	return d.chat.PostWebhook(ctx, webhookURL, msg)
}

func buildMessage(r correlate.Result) ports.ChatMessage {
	summaryLines := lastNLines(r.Traceback.TracebackPlusContextText, maxSummaryLines)
	for i, l := range summaryLines {
		summaryLines[i] = truncate(l, maxLineLength)
	}

	hits := make([]string, 0, min(len(r.SimilarTracebacks), maxHits))
	for i, tb := range r.SimilarTracebacks {
		if i == maxHits {
			break
		}
		hits = append(hits, tb.OriginID)
	}

	tickets := make([]string, 0, len(r.JiraIssues))
	for _, tk := range r.JiraIssues {
		tickets = append(tickets, tk.Key)
	}

	return ports.ChatMessage{
		OriginID:          r.Traceback.OriginID,
		Text:              strings.Join(summaryLines, "\n"),
		AttachmentText:    r.Traceback.TracebackPlusContextText,
		Hits:              hits,
		MatchingTickets:   tickets,
		AssignmentOptions: AssignmentOptions,
		TicketOptions:     AssignmentOptions,
	}
}

// HandleCreateTicket implements the create_ticket callback action: enqueue
// the ticket-creation task with reject_if_exists semantics delegated to the
// worker; ack is handled by the caller (C14's HTTP boundary) via
// UpdateMessage once the task completes.
func (d *Dispatcher) HandleCreateTicket(ctx context.Context, sched Scheduler, originID, team string) error {
	return sched.Enqueue(ctx, TaskCreateTicket, map[string]string{
		"origin_id": originID,
		"assign_to": team,
	}, scheduler.EnqueueOptions{})
}

// HandleAddToExistingTicket implements the add_to_existing_ticket callback
// action.
func (d *Dispatcher) HandleAddToExistingTicket(ctx context.Context, sched Scheduler, key, originID string) error {
	return sched.Enqueue(ctx, TaskCommentOnExistingTicket, map[string]string{
		"key":       key,
		"origin_id": originID,
	}, scheduler.EnqueueOptions{})
}

// TypeAhead implements the add_to_existing_ticket data source: search_tickets
// capped at 30, rendered as {text, value} options.
func (d *Dispatcher) TypeAhead(ctx context.Context, query string) ([]ports.TicketOption, error) {
	tickets, err := d.search.SearchTickets(ctx, query, typeAheadLimit)
	if err != nil {
		return nil, err
	}
	opts := make([]ports.TicketOption, len(tickets))
	for i, tk := range tickets {
		opts[i] = ports.TicketOption{Text: tk.Key + ": " + tk.Summary, Value: tk.Key}
	}
	return opts, nil
}

func lastNLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func reverse(results []correlate.Result) {
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
}
