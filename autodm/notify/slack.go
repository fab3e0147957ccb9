package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creatorkit/creatorkit/util"
)

// Posts selected events to a slack "incoming webhook", for operators rather than creators.
type SlackNotifier struct {
	WebhookURL string
	// event types to forward; defaults to failures only
	Types  []string
	Client *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL string, types ...string) *SlackNotifier {
	if len(types) == 0 {
		types = []string{EventFailed}
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Types:      types,
		Client:     util.NonRetryingHTTPClient(10 * time.Second),
	}
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) wants(eventType string) bool {
	for _, t := range n.Types {
		if t == eventType {
			return true
		}
	}
	return false
}

func (n *SlackNotifier) Publish(ctx context.Context, channel string, evt Event) error {
	if !n.wants(evt.Type) {
		return nil
	}
	return n.sendSlackMsg(ctx, slackBody(channel, evt))
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(channel string, evt Event) string {
	creator := strings.TrimPrefix(channel, "autodm:creator:")
	msg := fmt.Sprintf("AutoDM `%s` for creator `%s`\n", evt.Type, creator)
	if evt.Username != "" {
		msg += fmt.Sprintf("User: `@%s`\n", evt.Username)
	}
	if evt.RuleID != nil {
		msg += fmt.Sprintf("Rule: `%d` (keyword `%s`)\n", *evt.RuleID, evt.Keyword)
	}
	if evt.Status != "" {
		msg += fmt.Sprintf("Status: `%s`\n", evt.Status)
	}
	return msg
}
