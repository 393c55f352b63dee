// Package correlate implements Correlator (C9): joining a single traceback
// to matching/similar tickets and prior occurrences, and the bulk
// correlate_day view the triage UI lists from.
//
// Grounded on original_source/web/app/api_aservice.py's
// get_tracebacks_for_day (the five named filters and the hidden-id
// exclusion) and spec.md §4.9.
package correlate

import (
	"context"
	"time"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/store"
)

const (
	similarTracebackCap = 100
	dayTracebackCap     = 100
)

// Filter names the five day-view filters from spec.md §4.9.
type Filter string

const (
	FilterAll            Filter = "All Tracebacks"
	FilterHasTicket      Filter = "Has Ticket"
	FilterNoTicket       Filter = "No Ticket"
	FilterNoRecentTicket Filter = "No Recent Ticket"
	FilterHasOpenTicket  Filter = "Has Open Ticket"
)

// MatchExact and MatchSimilar are re-exported so callers of this package
// never need to import internal/store directly.
const (
	MatchExact   = store.MatchExact
	MatchSimilar = store.MatchSimilar
)

// TicketMatcher and TracebackLister are the two narrow read paths
// Correlator needs from Store; Store implements both directly.
type TicketMatcher interface {
	GetMatchingTickets(ctx context.Context, text string, level store.MatchLevel) ([]domain.Ticket, error)
}

type TracebackLister interface {
	GetTracebacks(ctx context.Context, startDate, endDate *time.Time, limit int) ([]domain.Traceback, error)
	GetMatchingTracebacks(ctx context.Context, text string, level store.MatchLevel, limit int) ([]domain.Traceback, error)
}

// Result is what correlate(traceback) returns.
type Result struct {
	Traceback         domain.Traceback
	JiraIssues        []domain.Ticket
	SimilarJiraIssues []domain.Ticket
	SimilarTracebacks []domain.Traceback
}

// Correlator joins tracebacks to tickets and to prior occurrences.
type Correlator struct {
	tickets    TicketMatcher
	tracebacks TracebackLister
}

func New(tickets TicketMatcher, tracebacks TracebackLister) *Correlator {
	return &Correlator{tickets: tickets, tracebacks: tracebacks}
}

// Correlate implements the single-traceback form of C9.
func (c *Correlator) Correlate(ctx context.Context, tb domain.Traceback) (Result, error) {
	exact, err := c.tickets.GetMatchingTickets(ctx, tb.TracebackText, MatchExact)
	if err != nil {
		return Result{}, err
	}
	similar, err := c.tickets.GetMatchingTickets(ctx, tb.TracebackText, MatchSimilar)
	if err != nil {
		return Result{}, err
	}
	similarMinusExact := subtractByKey(similar, exact)

	similarTracebacks, err := c.tracebacks.GetMatchingTracebacks(ctx, tb.TracebackText, MatchExact, similarTracebackCap)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Traceback:         tb,
		JiraIssues:        exact,
		SimilarJiraIssues: similarMinusExact,
		SimilarTracebacks: similarTracebacks,
	}, nil
}

// CorrelateDay implements correlate_day: a capped, filtered, hidden-aware
// day listing, each entry enriched with its Correlate result.
func (c *Correlator) CorrelateDay(ctx context.Context, date time.Time, filter Filter, hiddenIDs map[string]struct{}) ([]Result, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	tracebacks, err := c.tracebacks.GetTracebacks(ctx, &dayStart, &dayEnd, dayTracebackCap)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, 0, len(tracebacks))
	for _, tb := range tracebacks {
		if _, hidden := hiddenIDs[tb.OriginID]; hidden {
			continue
		}
		exact, err := c.tickets.GetMatchingTickets(ctx, tb.TracebackText, MatchExact)
		if err != nil {
			return nil, err
		}
		similar, err := c.tickets.GetMatchingTickets(ctx, tb.TracebackText, MatchSimilar)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(filter, exact, now) {
			continue
		}
		results = append(results, Result{
			Traceback:         tb,
			JiraIssues:        exact,
			SimilarJiraIssues: subtractByKey(similar, exact),
		})
		if len(results) == dayTracebackCap {
			break
		}
	}

	for i := range results {
		similarTracebacks, err := c.tracebacks.GetMatchingTracebacks(ctx, results[i].Traceback.TracebackText, MatchExact, similarTracebackCap)
		if err != nil {
			return nil, err
		}
		results[i].SimilarTracebacks = similarTracebacks
	}

	return results, nil
}

func matchesFilter(filter Filter, jiraIssues []domain.Ticket, now time.Time) bool {
	switch filter {
	case FilterHasTicket:
		return len(jiraIssues) > 0
	case FilterNoTicket:
		return len(jiraIssues) == 0
	case FilterNoRecentTicket:
		for _, tk := range jiraIssues {
			if tk.IsRecent(now) {
				return false
			}
		}
		return true
	case FilterHasOpenTicket:
		for _, tk := range jiraIssues {
			if tk.IsOpen() {
				return true
			}
		}
		return false
	default: // FilterAll and unknown filters pass through
		return true
	}
}

func subtractByKey(all, exclude []domain.Ticket) []domain.Ticket {
	excluded := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		excluded[t.Key] = struct{}{}
	}
	out := make([]domain.Ticket, 0, len(all))
	for _, t := range all {
		if _, skip := excluded[t.Key]; !skip {
			out = append(out, t)
		}
	}
	return out
}
