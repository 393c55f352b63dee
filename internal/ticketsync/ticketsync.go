// Package ticketsync implements TicketSync (C10): reconciling the Store's
// ticket mirror against the external tracker, one ticket at a time or via a
// paginated full-project scan.
//
// Grounded on original_source/web/app/jira_issue_aservice.py's
// update_ticket/update_all_tickets pair: the up-to-5-retry tolerance for a
// transient null lookup, and the batch-50 paginated scan that enqueues a
// per-key update task rather than writing directly.
package ticketsync

import (
	"context"
	"regexp"
	"strings"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/scheduler"
)

const (
	transientNullMaxAttempts = 5
	searchPageSize           = 50
	TaskUpdateTicket         = "update_ticket"
)

// Store is the subset of internal/store.Store ticket sync needs.
type Store interface {
	SaveTicket(ctx context.Context, tk domain.Ticket) error
	RemoveTicket(ctx context.Context, key string) error
}

// Scheduler is the subset of pkg/scheduler.Scheduler update_all_tickets
// enqueues work through.
type Scheduler interface {
	Enqueue(ctx context.Context, name string, payload map[string]string, opts scheduler.EnqueueOptions) error
}

// TicketSync reconciles Store's ticket mirror against the tracker.
type TicketSync struct {
	tracker ports.TicketTracker
	store   Store
	cache   cache.Coordinator
}

func New(tracker ports.TicketTracker, store Store, coord cache.Coordinator) *TicketSync {
	return &TicketSync{tracker: tracker, store: store, cache: coord}
}

// UpdateTicket fetches key from the tracker, tolerating transient nulls for
// up to 5 attempts; if the issue is still absent, it's assumed deleted and
// removed from the Store. If invalidate is true, the ticket cache region is
// invalidated afterward.
func (t *TicketSync) UpdateTicket(ctx context.Context, key string, invalidate bool) error {
	var issue ports.TrackerIssue
	var found bool

	// A miss here may be a genuinely deleted issue, or the tracker's
	// eventual-consistency window returning a transient null for an issue
	// that still exists; retry plain misses before concluding deletion.
	for attempt := 0; attempt < transientNullMaxAttempts; attempt++ {
		var err error
		issue, found, err = t.tracker.Issue(ctx, key)
		if err != nil {
			if domain.IsRetryable(err) && attempt < transientNullMaxAttempts-1 {
				continue
			}
			return err
		}
		if found {
			break
		}
	}

	if !found {
		if err := t.store.RemoveTicket(ctx, key); err != nil {
			return err
		}
	} else {
		if err := t.store.SaveTicket(ctx, toDomainTicket(issue)); err != nil {
			return err
		}
	}

	if invalidate && t.cache != nil {
		return t.cache.Invalidate(ctx, cache.RegionJira)
	}
	return nil
}

// UpdateAllTickets paginates the tracker's full project in batches of 50,
// fetching only the key field, and enqueues TaskUpdateTicket per key with
// invalidate=false; the caller invalidates once at the end if desired.
func (t *TicketSync) UpdateAllTickets(ctx context.Context, jql string, sched Scheduler) error {
	startAt := 0
	for {
		issues, err := t.tracker.SearchIssues(ctx, jql, startAt, searchPageSize, []string{"key"})
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			return nil
		}
		for _, issue := range issues {
			opts := scheduler.EnqueueOptions{Dedupe: true}
			if err := sched.Enqueue(ctx, TaskUpdateTicket, map[string]string{"key": issue.Key, "invalidate": "false"}, opts); err != nil {
				return err
			}
		}
		if len(issues) < searchPageSize {
			return nil
		}
		startAt += searchPageSize
	}
}

func toDomainTicket(issue ports.TrackerIssue) domain.Ticket {
	comments := strings.Join(issue.Comments, "\n!!!newcomment!!!\n")
	tk := domain.Ticket{
		Key:         issue.Key,
		URL:         issue.URL,
		Summary:     issue.Summary,
		Description: issue.Description,
		Comments:    comments,
		IssueType:   issue.IssueType,
		Status:      issue.Status,
		Created:     issue.Created,
		Updated:     issue.Updated,
	}
	tk.DescriptionFiltered = filterAggregatorMetadata(issue.Description)
	tk.CommentsFiltered = filterAggregatorMetadata(comments)
	if issue.Assignee != "" {
		a := issue.Assignee
		tk.Assignee = &a
	}
	return tk
}

// aggregatorLinePattern recognizes lineparser.formatLine's own output
// shape ("<Mon> <DD> <HH:MM:SS> <instance> <program>: <message>"), since a
// ticket's pasted log lines are this service's own FormattedLine text
// round-tripped through Jira. Capture groups: instance_id, program_name,
// message.
var aggregatorLinePattern = regexp.MustCompile(`^[A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+(\S+)\s+(\S+):\s(.*)$`)

const tracebackMarkerLine = "Traceback (most recent call last)"

// filterAggregatorMetadata implements the two-pass *_filtered rule from
// spec.md §3: pass one collects the (instance_id, program_name) of every
// "Traceback (most recent call last)" line in text; pass two keeps a line
// if it carries no aggregator-metadata signature at all, or if its
// (instance_id, program_name) matches one collected in pass one, then
// strips the aggregator prefix from every kept, matched line.
func filterAggregatorMetadata(text string) string {
	lines := strings.Split(text, "\n")

	type originKey struct{ instanceID, program string }
	markers := make(map[originKey]struct{})
	for _, l := range lines {
		m := aggregatorLinePattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if strings.Contains(m[3], tracebackMarkerLine) {
			markers[originKey{m[1], m[2]}] = struct{}{}
		}
	}

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		m := aggregatorLinePattern.FindStringSubmatch(l)
		if m == nil {
			out = append(out, l)
			continue
		}
		if _, ok := markers[originKey{m[1], m[2]}]; ok {
			out = append(out, m[3])
		}
	}
	return strings.Join(out, "\n")
}
