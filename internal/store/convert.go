package store

import (
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2/document"

	"github.com/paperwatch/traceline/internal/domain"
)

// tracebackFromDoc reconstructs a domain.Traceback from a stored bleve
// document (point reads via Index.Document).
func tracebackFromDoc(doc *document.Document) domain.Traceback {
	fields := make(map[string]interface{})
	for _, f := range doc.Fields {
		fields[f.Name()] = string(f.Value())
	}
	return tracebackFromFields(doc.ID(), fields)
}

func tracebackFromFields(id string, fields map[string]interface{}) domain.Traceback {
	tb := domain.Traceback{
		OriginID:                 id,
		OriginTime:               parseTimeField(fields["OriginTime"]),
		InstanceID:               stringField(fields["InstanceID"]),
		ProgramName:              stringField(fields["ProgramName"]),
		TracebackText:            stringField(fields["TracebackText"]),
		TracebackPlusContextText: stringField(fields["TracebackPlusContextText"]),
		RawTracebackText:         stringField(fields["RawTracebackText"]),
		RawFullText:              stringField(fields["RawFullText"]),
	}
	if v := stringField(fields["ProfileName"]); v != "" {
		tb.ProfileName = &v
	}
	if v := stringField(fields["Username"]); v != "" {
		tb.Username = &v
	}
	return tb
}

func ticketFromFields(id string, fields map[string]interface{}) domain.Ticket {
	tk := domain.Ticket{
		Key:                 id,
		URL:                 stringField(fields["URL"]),
		Summary:             stringField(fields["Summary"]),
		Description:         stringField(fields["Description"]),
		DescriptionFiltered: stringField(fields["DescriptionFiltered"]),
		Comments:            stringField(fields["Comments"]),
		CommentsFiltered:    stringField(fields["CommentsFiltered"]),
		IssueType:           stringField(fields["IssueType"]),
		Status:              stringField(fields["Status"]),
		Created:             parseTimeField(fields["Created"]),
		Updated:             parseTimeField(fields["Updated"]),
	}
	if v := stringField(fields["Assignee"]); v != "" {
		tk.Assignee = &v
	}
	return tk
}

func stringField(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func parseTimeField(v interface{}) time.Time {
	s := stringField(v)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
