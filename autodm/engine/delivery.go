package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
)

// In-request delivery for a matched comment that cleared policy (and the follow gate, if any).
func (eng *Engine) deliverComment(ctx context.Context, logger *slog.Logger, p platform.Platform, creds platform.Credentials, rule *store.AutomationRule, evt *CommentEvent, gated bool) (*Outcome, error) {
	out := &Outcome{
		RuleID:         ruleRef(rule.ID),
		MatchedKeyword: rule.Keyword,
		FollowGateUsed: gated,
	}
	blocked := func(reason string) (*Outcome, error) {
		out.Status = StatusBlocked
		out.Reason = reason
		if err := eng.appendLog(ctx, commentLogEntry(evt, rule, ""), out); err != nil {
			return nil, err
		}
		return out, nil
	}

	reason, err := eng.reserveSlot(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return blocked(reason)
	}

	// from here on, every exit without a sent DM gives the slot back
	claimed, err := eng.Store.ClaimTrigger(ctx, rule.ID, evt.CommentID)
	if err != nil {
		if rerr := eng.Store.ReleaseDailySlot(ctx, rule.ID); rerr != nil {
			logger.Error("failed to release daily slot", "err", rerr)
		}
		return nil, err
	}
	if !claimed {
		if err := eng.Store.ReleaseDailySlot(ctx, rule.ID); err != nil {
			return nil, err
		}
		return blocked(ReasonDuplicateEvent)
	}

	if eng.accountCircuitOpen(ctx, logger, evt.Platform, evt.AccountID) {
		if err := eng.Store.ReleaseDailySlot(ctx, rule.ID); err != nil {
			return nil, err
		}
		return blocked(ReasonRateLimited)
	}

	if n := len(rule.ReplyVariants); n > 0 {
		idx, err := eng.Store.AdvanceReplyCursor(ctx, rule.ID, n)
		if err != nil {
			logger.Warn("failed to advance reply cursor, skipping reply", "err", err)
		} else {
			out.ReplySent = eng.postReply(ctx, logger, p, creds, evt.CommentID, renderReply(rule.ReplyVariants[idx%n], evt.SubjectUsername))
		}
	}

	text := renderMessage(rule.DMMessage, evt.SubjectUsername, rule.Link)
	out.DMSent = eng.sendDM(ctx, logger, p, creds, evt.SubjectUserID, text, "comment")
	if out.DMSent {
		err := eng.Store.RecordDelivery(ctx, rule.ID, eng.now(), store.DeliveryCounters{CountTrigger: true})
		if err != nil {
			return nil, err
		}
		eng.countAccountDM(ctx, logger, evt.Platform, evt.AccountID)
		out.Status = StatusDelivered
	} else {
		if err := eng.Store.ReleaseDailySlot(ctx, rule.ID); err != nil {
			return nil, err
		}
		out.Status = StatusFailed
		out.Reason = ReasonDMFailed
	}

	if err := eng.appendLog(ctx, commentLogEntry(evt, rule, messagePreview(text)), out); err != nil {
		return nil, err
	}
	eng.notifyDelivery(ctx, logger, evt.CreatorID, evt.SubjectUsername, rule, out)
	return out, nil
}

func (eng *Engine) notifyDelivery(ctx context.Context, logger *slog.Logger, creatorID, username string, rule *store.AutomationRule, out *Outcome) {
	typ := notify.EventSent
	if !out.DMSent {
		typ = notify.EventFailed
	}
	status := string(out.Status)
	if out.Reason != "" {
		status = out.Reason
	}
	eng.notify(ctx, logger, creatorID, notify.Event{
		Type:     typ,
		Username: username,
		Keyword:  rule.Keyword,
		Status:   status,
		RuleID:   out.RuleID,
	})
}

func (eng *Engine) postReply(ctx context.Context, logger *slog.Logger, p platform.Platform, creds platform.Credentials, commentID, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, eng.config().CallTimeout)
	defer cancel()
	ok, err := p.PostCommentReply(callCtx, creds, commentID, text)
	if err != nil || !ok {
		replySendCount.WithLabelValues("failed").Inc()
		logger.Warn("comment reply failed", "err", err)
		return false
	}
	replySendCount.WithLabelValues("ok").Inc()
	return true
}

// Sends one DM. Transport and API failures are a false return, never retried here.
func (eng *Engine) sendDM(ctx context.Context, logger *slog.Logger, p platform.Platform, creds platform.Credentials, recipientID, text, path string) bool {
	if strings.TrimSpace(text) == "" {
		dmSendCount.WithLabelValues(path, "empty").Inc()
		logger.Warn("rendered direct message is empty, not sending")
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, eng.config().CallTimeout)
	defer cancel()
	ok, err := p.SendDirectMessage(callCtx, creds, recipientID, text)
	if err != nil || !ok {
		dmSendCount.WithLabelValues(path, "failed").Inc()
		logger.Warn("direct message send failed", "recipient", recipientID, "err", err)
		return false
	}
	dmSendCount.WithLabelValues(path, "ok").Inc()
	return true
}
