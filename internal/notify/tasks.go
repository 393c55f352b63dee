package notify

import (
	"context"
	"fmt"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/internal/triage"
)

// TracebackReader is the subset of internal/store.Store the ticket task
// runner needs to re-fetch the traceback a callback action referred to by
// origin_id.
type TracebackReader interface {
	GetTraceback(ctx context.Context, id string) (domain.Traceback, bool, error)
}

// TicketTaskRunner executes the two scheduled tasks a chat callback
// dispatches (spec.md §4.12): create_ticket and
// create_comment_on_existing_ticket. It lives alongside Dispatcher rather
// than inside it because running these tasks needs the tracker and a
// traceback reader, neither of which the post_unticketed_tracebacks_to_chat
// path requires.
type TicketTaskRunner struct {
	tracker        ports.TicketTracker
	tracebacks     TracebackReader
	correlator     *correlate.Correlator
	chat           ports.ChatNotifier
	defaultChannel string
}

func NewTicketTaskRunner(tracker ports.TicketTracker, tracebacks TracebackReader, correlator *correlate.Correlator, chat ports.ChatNotifier, defaultChannel string) *TicketTaskRunner {
	return &TicketTaskRunner{
		tracker:        tracker,
		tracebacks:     tracebacks,
		correlator:     correlator,
		chat:           chat,
		defaultChannel: defaultChannel,
	}
}

// RunCreateTicket implements the create_ticket(origin_id, assign_to) task:
// reject_if_exists=true, a real-user notice on conflict instead of a
// duplicate, and a "<KEY> created!" acknowledgment on success.
func (r *TicketTaskRunner) RunCreateTicket(ctx context.Context, payload map[string]string) error {
	originID := payload["origin_id"]
	tb, found, err := r.tracebacks.GetTraceback(ctx, originID)
	if err != nil {
		return err
	}
	if !found {
		return domain.E("TicketTaskRunner.RunCreateTicket", domain.KindNotFound, fmt.Errorf("traceback %s not found", originID))
	}

	result, err := r.correlator.Correlate(ctx, tb)
	if err != nil {
		return err
	}
	fields := triage.BuildTicketFields(tb, result.SimilarTracebacks)
	if assignTo := payload["assign_to"]; assignTo != "" && assignTo != AssignmentUnassigned {
		fields = append(fields, ports.TicketField{Name: "assignee", Value: assignTo})
	}

	issue, existed, err := r.tracker.CreateIssue(ctx, fields, true)
	if err != nil {
		return err
	}
	if existed {
		return r.chat.PostAsRealUser(ctx, r.defaultChannel,
			fmt.Sprintf("A ticket already exists for this error; not creating a duplicate (origin_id=%s).", originID))
	}
	return r.chat.PostAsRealUser(ctx, r.defaultChannel, fmt.Sprintf("%s created!", issue.Key))
}

// RunCommentOnExisting implements the create_comment_on_existing_ticket(key,
// origin_id) task: the hits list comment body is the same content
// /jira_formatted_list renders.
func (r *TicketTaskRunner) RunCommentOnExisting(ctx context.Context, payload map[string]string) error {
	key := payload["key"]
	originID := payload["origin_id"]

	tb, found, err := r.tracebacks.GetTraceback(ctx, originID)
	if err != nil {
		return err
	}
	if !found {
		return domain.E("TicketTaskRunner.RunCommentOnExisting", domain.KindNotFound, fmt.Errorf("traceback %s not found", originID))
	}
	result, err := r.correlator.Correlate(ctx, tb)
	if err != nil {
		return err
	}
	all := append([]domain.Traceback{tb}, result.SimilarTracebacks...)
	if err := r.tracker.AddComment(ctx, key, triage.CommentWithHitsList(all)); err != nil {
		return err
	}
	return r.chat.PostAsRealUser(ctx, r.defaultChannel, fmt.Sprintf("Added to %s", key))
}
