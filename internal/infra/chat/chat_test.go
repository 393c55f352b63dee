package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/ports"
)

func TestPostWebhook_SendsAttachmentWithActions(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("xoxb-token")
	msg := ports.ChatMessage{
		Text:           "a new traceback",
		AttachmentText: "full context here",
		Hits:           []string{"hit 1", "hit 2"},
		TicketOptions:  []ports.TicketOption{{Text: "Create new", Value: "new"}},
	}
	require.NoError(t, c.PostWebhook(t.Context(), srv.URL, msg))

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "full context here", got.Attachments[0].Text)
	require.Len(t, got.Attachments[0].Actions, 1)
	assert.Equal(t, ActionCreateTicket, got.Attachments[0].Actions[0].Name)
}

func TestPostWebhook_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("xoxb-token")
	err := c.PostWebhook(t.Context(), srv.URL, ports.ChatMessage{Text: "x"})
	assert.Error(t, err)
}

func TestCall_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxp-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := &Client{token: "xoxp-token", httpClient: srv.Client()}
	_, err := c.call(t.Context(), srv.URL, map[string]string{"channel": "#social", "text": "hello"})
	require.NoError(t, err)
}

func TestCall_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	c := &Client{token: "xoxp-token", httpClient: srv.Client()}
	_, err := c.call(t.Context(), srv.URL, map[string]string{"channel": "#x", "text": "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
