// Package chat adapts ports.ChatNotifier to a Slack-shaped chat API: an
// incoming webhook for attachment-rich posts, and the "post as a real user"
// / "update message" calls used by the interactive ticket-creation flow.
//
// Grounded on original_source/src/lib/slack/slack_poster.py: the message
// template (pretext + attachment with two select actions), and the
// distinction between an incoming-webhook POST and a real chat.postMessage
// call made with a user token so replies render as a person rather than a
// bot integration.
package chat

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
	postMessageURL = "https://slack.com/api/chat.postMessage"
	updateURL      = "https://slack.com/api/chat.update"

	// ActionCreateTicket and ActionAddToExisting are the two interactive
	// select values NotificationDispatcher (C12) attaches to a posted
	// message.
	ActionCreateTicket  = "create_ticket"
	ActionAddToExisting = "add_to_existing_ticket"
)

// Client posts to Slack-shaped webhook and token-authenticated endpoints.
type Client struct {
	token      string
	httpClient *http.Client
}

func New(token string) *Client {
	return &Client{token: token, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type attachmentField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type selectAction struct {
	Name    string         `json:"name"`
	Text    string         `json:"text"`
	Type    string         `json:"type"`
	Options []optionOrData `json:"options,omitempty"`
}

type optionOrData struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type attachment struct {
	Fallback   string            `json:"fallback"`
	Text       string            `json:"text"`
	Fields     []attachmentField `json:"fields,omitempty"`
	CallbackID string            `json:"callback_id"`
	Actions    []selectAction    `json:"actions,omitempty"`
}

type webhookPayload struct {
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

func buildAttachment(msg ports.ChatMessage) attachment {
	att := attachment{
		Fallback:   msg.Text,
		Text:       msg.AttachmentText,
		CallbackID: msg.OriginID,
	}
	if len(msg.Hits) > 0 {
		att.Fields = append(att.Fields, attachmentField{
			Title: "Recent occurrences", Value: joinLines(msg.Hits), Short: false,
		})
	}
	if len(msg.MatchingTickets) > 0 {
		att.Fields = append(att.Fields, attachmentField{
			Title: "Matching tickets", Value: joinLines(msg.MatchingTickets), Short: false,
		})
	}
	if len(msg.TicketOptions) > 0 {
		att.Actions = append(att.Actions, selectAction{
			Name: ActionCreateTicket, Text: "Create ticket", Type: "select",
			Options: toOptions(msg.TicketOptions),
		})
	}
	if len(msg.AssignmentOptions) > 0 {
		att.Actions = append(att.Actions, selectAction{
			Name: ActionAddToExisting, Text: "Add to existing ticket", Type: "select",
			Options: toOptions(msg.AssignmentOptions),
		})
	}
	return att
}

func toOptions(opts []ports.TicketOption) []optionOrData {
	out := make([]optionOrData, len(opts))
	for i, o := range opts {
		out[i] = optionOrData{Text: o.Text, Value: o.Value}
	}
	return out
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

// PostWebhook posts msg to an incoming webhook URL.
func (c *Client) PostWebhook(ctx context.Context, webhookURL string, msg ports.ChatMessage) error {
	payload := webhookPayload{Text: msg.Text, Attachments: []attachment{buildAttachment(msg)}}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.E("chat.PostWebhook", domain.KindPermanentInput, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return domain.E("chat.PostWebhook", domain.KindTransient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.E("chat.PostWebhook", domain.KindTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.E("chat.PostWebhook", domain.KindTransient, fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	return nil
}

// PostAsRealUser posts text to channel using the token-authenticated
// chat.postMessage call, so the reply appears from a person rather than the
// triage bot.
func (c *Client) PostAsRealUser(ctx context.Context, channel, text string) error {
	_, err := c.call(ctx, postMessageURL, map[string]string{"channel": channel, "text": text})
	return err
}

// UpdateMessage edits a previously posted message (messageRef is the
// channel-scoped timestamp/id Slack returns from the original post).
func (c *Client) UpdateMessage(ctx context.Context, channel, messageRef, text string) error {
	_, err := c.call(ctx, updateURL, map[string]string{"channel": channel, "ts": messageRef, "text": text})
	return err
}

func (c *Client) call(ctx context.Context, url string, payload map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.E("chat.call", domain.KindPermanentInput, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.E("chat.call", domain.KindTransient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.E("chat.call", domain.KindTransient, err)
	}
	defer resp.Body.Close()
	var wire struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err == nil && !wire.OK && wire.Error != "" {
		return resp, domain.E("chat.call", domain.KindTransient, fmt.Errorf("chat api error: %s", wire.Error))
	}
	return resp, nil
}
