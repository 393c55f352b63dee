package triage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
)

const (
	descriptionTemplate = "Error observed in production.\n\n{noformat}\n%s\n{noformat}\n\nHits on this error:\n%s\n"
	commentTemplate     = "Errors observed in production:\n%s\n"
	hitsListItem        = " - [%s|https://papertrailapp.com/systems/%s/events?focus=%s]"
)

// BuildTicketFields builds the summary/description fields create_jira_ticket
// submits, grounded on jira_issue_aservice.py's create_title/create_description:
// the title is the traceback's final line, the description carries the full
// context of the "master" traceback plus a hits list of every similar one.
// Shared by the synchronous create_jira_ticket endpoint and the
// create_ticket scheduled task, both of which build the same Jira content.
func BuildTicketFields(master domain.Traceback, similar []domain.Traceback) []ports.TicketField {
	lines := strings.Split(master.TracebackText, "\n")
	title := lines[len(lines)-1]
	description := strings.TrimRight(master.TracebackPlusContextText, " \t\r\n")
	return []ports.TicketField{
		{Name: "summary", Value: title},
		{Name: "description", Value: fmt.Sprintf(descriptionTemplate, description, HitsList(similar))},
	}
}

// CommentWithHitsList mirrors create_comment_with_hits_list: the full set
// of hits (including the triggering occurrence), sorted latest-first.
func CommentWithHitsList(tracebacks []domain.Traceback) string {
	sorted := append([]domain.Traceback(nil), tracebacks...)
	sortTracebacksByOriginIDDesc(sorted)
	return fmt.Sprintf(commentTemplate, HitsList(sorted))
}

// HitsList renders tracebacks as a papertrail-linked, latest-first list,
// the way create_comment_with_hits_list does for both the Jira description
// and the /jira_formatted_list endpoint.
func HitsList(tracebacks []domain.Traceback) string {
	sorted := append([]domain.Traceback(nil), tracebacks...)
	sortTracebacksByOriginIDDesc(sorted)
	lines := make([]string, len(sorted))
	for i, tb := range sorted {
		lines[i] = fmt.Sprintf(hitsListItem, tb.OriginTime.Format(time.RFC3339), tb.InstanceID, tb.OriginID)
	}
	return strings.Join(lines, "\n")
}

func sortTracebacksByOriginIDDesc(tbs []domain.Traceback) {
	sort.Slice(tbs, func(i, j int) bool {
		a, errA := strconv.Atoi(tbs[i].OriginID)
		b, errB := strconv.Atoi(tbs[j].OriginID)
		if errA == nil && errB == nil {
			return a > b
		}
		return tbs[i].OriginID > tbs[j].OriginID
	})
}
