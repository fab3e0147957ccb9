package engine

import (
	"context"
	"fmt"

	"github.com/creatorkit/creatorkit/autodm/store"
)

const (
	TriggerComment    = "comment"
	TriggerFollowGate = "follow_gate"
)

func commentLogEntry(evt *CommentEvent, rule *store.AutomationRule, preview string) *store.DeliveryLogEntry {
	entry := &store.DeliveryLogEntry{
		CreatorID:       evt.CreatorID,
		TriggerType:     TriggerComment,
		SubjectUserID:   evt.SubjectUserID,
		SubjectUsername: evt.SubjectUsername,
		CommentID:       evt.CommentID,
		PostID:          evt.PostID,
		TriggerText:     evt.CommentText,
		MessagePreview:  preview,
	}
	if rule != nil {
		entry.RuleID = ruleRef(rule.ID)
		entry.MatchedKeyword = rule.Keyword
	}
	return entry
}

func pendingLogEntry(req *store.PendingFollowRequest) *store.DeliveryLogEntry {
	return &store.DeliveryLogEntry{
		CreatorID:       req.CreatorID,
		RuleID:          ruleRef(req.RuleID),
		TriggerType:     TriggerFollowGate,
		SubjectUserID:   req.SubjectUserID,
		SubjectUsername: req.SubjectUsername,
		CommentID:       req.CommentID,
		PostID:          req.PostID,
		MatchedKeyword:  req.MatchedKeyword,
		MessagePreview:  messagePreview(req.PendingMessage),
	}
}

// Fills the outcome fields into entry and appends it. Entries are never updated afterwards.
func (eng *Engine) appendLog(ctx context.Context, entry *store.DeliveryLogEntry, out *Outcome) error {
	entry.ReplySent = out.ReplySent
	entry.DMSent = out.DMSent
	entry.FollowGateUsed = out.FollowGateUsed
	if out.DMSent {
		now := eng.now()
		entry.DMSentAt = &now
	}
	if out.Reason != "" {
		reason := out.Reason
		entry.FailureReason = &reason
	}
	if err := eng.Store.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("recording %s outcome for creator %s: %w", out.Status, entry.CreatorID, err)
	}
	return nil
}
