package tracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/ports"
)

func TestIssue_NotFoundReturnsFalseNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	_, ok, err := c.Issue(t.Context(), "PROJ-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssue_ForbiddenMapsToAuthzError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	_, _, err := c.Issue(t.Context(), "PROJ-1")
	require.Error(t, err)
}

func TestIssue_SuccessDecodesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROJ-1", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "pass", pass)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"key": "PROJ-1",
			"fields": map[string]any{
				"summary": "boom",
				"status":  map[string]string{"name": "Open"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	issue, ok, err := c.Issue(t.Context(), "PROJ-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "PROJ-1", issue.Key)
	assert.Equal(t, "boom", issue.Summary)
	assert.Equal(t, "Open", issue.Status)
	assert.Equal(t, srv.URL+"/browse/PROJ-1", issue.URL)
}

func TestCreateIssue_SendsRequiredFields(t *testing.T) {
	var seenFields map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seenFields = body["fields"].(map[string]any)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"key": "PROJ-9"})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	issue, existed, err := c.CreateIssue(t.Context(), []ports.TicketField{
		{Name: "summary", Value: "boom"},
	}, false)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "PROJ-9", issue.Key)
	assert.Equal(t, IssueTypeBug, seenFields["issuetype"].(map[string]any)["name"])
	assert.Equal(t, PriorityCritical, seenFields["priority"].(map[string]any)["name"])
	assert.Equal(t, "boom", seenFields["summary"])
}

func TestAddComment_PostsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROJ-1/comment", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a comment", body["body"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	require.NoError(t, c.AddComment(t.Context(), "PROJ-1", "a comment"))
}

func TestSearchIssues_PaginatesByStartAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 50, body["startAt"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"issues": []map[string]any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "PROJ")
	issues, err := c.SearchIssues(t.Context(), "project = PROJ", 50, 0, []string{"summary"})
	require.NoError(t, err)
	assert.Empty(t, issues)
}
