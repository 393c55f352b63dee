// Package domain holds the data model shared by every component:
// Traceback, ApiCall, Ticket and HiddenTracebackSet (spec.md §3), plus the
// error Kind taxonomy components use to decide retry/notify behavior.
//
// Grounded on original_source/src/lib/traceback/traceback.py's Traceback
// class (property shape, document() field set) and
// original_source/web/app/jira_issue_aservice.py (Ticket field set),
// translated from a property-bag class into a plain struct per Go
// convention.
package domain

import "time"

// TracebackMarker is the literal line every assembled traceback_text must
// begin with; TracebackAssembler (C2) never emits a Traceback otherwise.
const TracebackMarker = "Traceback (most recent call last)"

// Traceback is a multi-line Python exception report with surrounding
// context, assembled by TracebackAssembler (C2) and optionally enriched
// once by ProfileNameEnricher (C4).
type Traceback struct {
	OriginID      string    `json:"origin_id"`
	OriginTime    time.Time `json:"origin_timestamp"`
	InstanceID    string    `json:"instance_id"`
	ProgramName   string    `json:"program_name"`

	TracebackText            string `json:"traceback_text"`
	TracebackPlusContextText string `json:"traceback_plus_context_text"`
	RawTracebackText         string `json:"raw_traceback_text"`
	RawFullText              string `json:"raw_full_text"`

	ProfileName *string `json:"profile_name,omitempty"`
	Username    *string `json:"username,omitempty"`
}

// ID satisfies Store's document-id contract: origin_id is the primary key.
func (t Traceback) ID() string { return t.OriginID }

// ApiCall is one authenticated request timing, extracted by
// ApiCallExtractor (C3) and stored in a month-partitioned index.
type ApiCall struct {
	PapertrailID string    `json:"papertrail_id"`
	Timestamp    time.Time `json:"timestamp"`
	InstanceID   string    `json:"instance_id"`
	ProgramName  string    `json:"program_name"`

	ApiName        string  `json:"api_name"`
	Method         string  `json:"method"`
	ProfileName    *string `json:"profile_name,omitempty"`
	Username       string  `json:"username"`
	DurationMs     int     `json:"duration_ms"`
	MemoryFinalMB  *int    `json:"memory_final_mb,omitempty"`
	MemoryDeltaMB  *int    `json:"memory_delta_mb,omitempty"`
}

// Partition returns the YYYY-MM key ApiCall is indexed under.
func (a ApiCall) Partition() string { return a.Timestamp.Format("2006-01") }

// Ticket mirrors an external tracker issue. The *_filtered variants strip
// aggregator metadata per the two-pass rule in spec.md §3.
type Ticket struct {
	Key                 string    `json:"key"`
	URL                 string    `json:"url"`
	Summary             string    `json:"summary"`
	Description         string    `json:"description"`
	DescriptionFiltered string    `json:"description_filtered"`
	Comments            string    `json:"comments"`
	CommentsFiltered    string    `json:"comments_filtered"`
	IssueType           string    `json:"issue_type"`
	Status              string    `json:"status"`
	Assignee            *string   `json:"assignee,omitempty"`
	Created             time.Time `json:"created"`
	Updated             time.Time `json:"updated"`
}

// ID satisfies Store's document-id contract: key is the primary key.
func (t Ticket) ID() string { return t.Key }

// IsOpen reports whether the ticket counts as open for the "Has Open
// Ticket" correlator filter (spec.md §4.9): any status other than Closed.
func (t Ticket) IsOpen() bool { return t.Status != "Closed" }

// IsRecent reports whether the ticket counts as recent for the "No Recent
// Ticket" correlator filter: updated within the last 14 days of now.
func (t Ticket) IsRecent(now time.Time) bool {
	return t.Updated.After(now.Add(-14 * 24 * time.Hour))
}

// HiddenTracebackSet is a per-session set of traceback_text values a user
// has dismissed from the triage view; it is resolved on read to a set of
// origin_ids via a SIMILAR match query against the Store.
type HiddenTracebackSet struct {
	SessionID string
	Texts     map[string]struct{}
}

// NewHiddenTracebackSet builds an empty set for sessionID.
func NewHiddenTracebackSet(sessionID string) *HiddenTracebackSet {
	return &HiddenTracebackSet{SessionID: sessionID, Texts: make(map[string]struct{})}
}

// Hide adds text to the dismissed set.
func (h *HiddenTracebackSet) Hide(text string) { h.Texts[text] = struct{}{} }

// RestoreAll clears every dismissed entry.
func (h *HiddenTracebackSet) RestoreAll() { h.Texts = make(map[string]struct{}) }

// List returns the dismissed texts in no particular order.
func (h *HiddenTracebackSet) List() []string {
	out := make([]string, 0, len(h.Texts))
	for t := range h.Texts {
		out = append(out, t)
	}
	return out
}
