// Best-effort fan-out of live automation events to creator dashboards and ops channels.
//
// Publishing never blocks event processing for long, and callers treat every error as
// non-fatal: a dropped notification loses nothing that is not also in the delivery log.
package notify

import (
	"context"
	"errors"
	"time"
)

const (
	EventSent             = "autodm_sent"
	EventFailed           = "autodm_failed"
	EventWaitingForFollow = "waiting_for_follow"
)

type Event struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Keyword   string    `json:"keyword"`
	Status    string    `json:"status"`
	RuleID    *uint     `json:"ruleId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel carrying a single creator's events.
func ChannelKey(creatorID string) string {
	return "autodm:creator:" + creatorID
}

// pattern matching every ChannelKey
const channelPattern = "autodm:creator:*"

type Notifier interface {
	Publish(ctx context.Context, channel string, evt Event) error
}

// Publishes to every notifier, even when an earlier one fails.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, channel string, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, channel, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type NullNotifier struct{}

func (NullNotifier) Publish(ctx context.Context, channel string, evt Event) error {
	return nil
}
