// Package tracker adapts ports.TicketTracker to a Jira-shaped REST API:
// issue(key), create_issue(fields), add_comment(key, body),
// search_issues(jql, startAt, maxResults, fields).
//
// Grounded on original_source/web/app/jira_issue_aservice.py for the field
// set (project key, summary, description, issue type Bug, priority
// Critical, label "tracebacks") and the paginated search_issues scan.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ports"
)

const (
	IssueTypeBug     = "Bug"
	PriorityCritical = "Critical"
	LabelTracebacks  = "tracebacks"
	CommentSeparator = "\n!!!newcomment!!!\n"
	searchPageSize   = 50
)

// Client is a REST client over a Jira-shaped tracker.
type Client struct {
	baseURL    string
	username   string
	password   string
	projectKey string
	httpClient *http.Client
}

func New(baseURL, username, password, projectKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		projectKey: projectKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.E("tracker.do", domain.KindTransient, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Issue fetches one issue by key. A 404 is reported as (zero, false, nil)
// per spec.md §7's "absent external resource" handling.
func (c *Client) Issue(ctx context.Context, key string) (ports.TrackerIssue, bool, error) {
	var wire issueResponse
	status, err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+key, nil, &wire)
	if err != nil {
		return ports.TrackerIssue{}, false, domain.E("tracker.Issue", domain.KindTransient, err)
	}
	if status == http.StatusNotFound {
		return ports.TrackerIssue{}, false, nil
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return ports.TrackerIssue{}, false, domain.E("tracker.Issue", domain.KindAuthz, fmt.Errorf("tracker returned %d", status))
	}
	if status >= 400 {
		return ports.TrackerIssue{}, false, domain.E("tracker.Issue", domain.KindTransient, fmt.Errorf("tracker returned %d", status))
	}
	return wire.toTrackerIssue(c.baseURL), true, nil
}

// CreateIssue creates an issue in the client's project with the required
// Bug/Critical/tracebacks fields. rejectIfExists is not consulted: no
// search for an existing issue is made, the issue is always created, and
// existed is always false.
func (c *Client) CreateIssue(ctx context.Context, fields []ports.TicketField, rejectIfExists bool) (ports.TrackerIssue, bool, error) {
	payload := map[string]any{}
	fieldMap := map[string]any{
		"project":   map[string]string{"key": c.projectKey},
		"issuetype": map[string]string{"name": IssueTypeBug},
		"priority":  map[string]string{"name": PriorityCritical},
		"labels":    []string{LabelTracebacks},
	}
	for _, f := range fields {
		fieldMap[f.Name] = f.Value
	}
	payload["fields"] = fieldMap

	var wire issueResponse
	status, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", payload, &wire)
	if err != nil {
		return ports.TrackerIssue{}, false, domain.E("tracker.CreateIssue", domain.KindTransient, err)
	}
	if status >= 400 {
		return ports.TrackerIssue{}, false, domain.E("tracker.CreateIssue", domain.KindTransient, fmt.Errorf("tracker returned %d", status))
	}
	return wire.toTrackerIssue(c.baseURL), false, nil
}

// AddComment posts a comment on the issue identified by key.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	payload := map[string]string{"body": body}
	status, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/comment", payload, nil)
	if err != nil {
		return domain.E("tracker.AddComment", domain.KindTransient, err)
	}
	if status >= 400 {
		return domain.E("tracker.AddComment", domain.KindTransient, fmt.Errorf("tracker returned %d", status))
	}
	return nil
}

// SearchIssues runs a paginated JQL scan; callers page by incrementing
// startAt by searchPageSize until an empty result is returned.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]ports.TrackerIssue, error) {
	if maxResults <= 0 {
		maxResults = searchPageSize
	}
	payload := map[string]any{
		"jql":        jql,
		"startAt":    startAt,
		"maxResults": maxResults,
		"fields":     fields,
	}
	var wire searchResponse
	status, err := c.do(ctx, http.MethodPost, "/rest/api/2/search", payload, &wire)
	if err != nil {
		return nil, domain.E("tracker.SearchIssues", domain.KindTransient, err)
	}
	if status >= 400 {
		return nil, domain.E("tracker.SearchIssues", domain.KindTransient, fmt.Errorf("tracker returned %d", status))
	}
	out := make([]ports.TrackerIssue, len(wire.Issues))
	for i, iss := range wire.Issues {
		out[i] = iss.toTrackerIssue(c.baseURL)
	}
	return out, nil
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		IssueType   struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			Name string `json:"name"`
		} `json:"assignee"`
		Created string `json:"created"`
		Updated string `json:"updated"`
		Comment struct {
			Comments []struct {
				Body string `json:"body"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

func (r issueResponse) toTrackerIssue(baseURL string) ports.TrackerIssue {
	comments := make([]string, len(r.Fields.Comment.Comments))
	for i, c := range r.Fields.Comment.Comments {
		comments[i] = c.Body
	}
	issue := ports.TrackerIssue{
		Key:         r.Key,
		URL:         baseURL + "/browse/" + r.Key,
		Summary:     r.Fields.Summary,
		Description: r.Fields.Description,
		Comments:    comments,
		IssueType:   r.Fields.IssueType.Name,
		Status:      r.Fields.Status.Name,
		Created:     parseJiraTime(r.Fields.Created),
		Updated:     parseJiraTime(r.Fields.Updated),
	}
	if r.Fields.Assignee != nil {
		issue.Assignee = r.Fields.Assignee.Name
	}
	return issue
}

type searchResponse struct {
	Issues []issueResponse `json:"issues"`
}

func parseJiraTime(raw string) time.Time {
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
