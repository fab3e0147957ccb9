package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
)

const followCacheName = "autodm-follows"

// Looks up whether candidateID follows the account. Errors and timeouts count as "not following".
//
// Only positive answers are cached. With useCache false (the sweeper) the platform is always asked,
// and a negative answer purges any stale positive entry.
func (eng *Engine) isFollowing(ctx context.Context, logger *slog.Logger, p platform.Platform, creds platform.Credentials, candidateID string, useCache bool) bool {
	cacheKey := creds.AccountID + "/" + candidateID
	if useCache && eng.Cache != nil {
		v, err := eng.Cache.Get(ctx, followCacheName, cacheKey)
		if err != nil {
			logger.Warn("failed checking follow status cache", "err", err)
		} else if v == "1" {
			followStatusFetches.WithLabelValues("cache").Inc()
			return true
		}
	}

	followStatusFetches.WithLabelValues("platform").Inc()
	callCtx, cancel := context.WithTimeout(ctx, eng.config().CallTimeout)
	defer cancel()
	following, err := p.GetFollowStatus(callCtx, creds, candidateID)
	if err != nil {
		logger.Warn("follow status lookup failed", "candidate", candidateID, "err", err)
		following = false
	}

	if eng.Cache != nil {
		if following {
			err = eng.Cache.Set(ctx, followCacheName, cacheKey, "1")
		} else {
			err = eng.Cache.Purge(ctx, followCacheName, cacheKey)
		}
		if err != nil {
			logger.Warn("failed updating follow status cache", "err", err)
		}
	}
	return following
}

// Non-follower hit a follow-gated rule: count the block, nudge them publicly, and park the rendered
// DM until the sweeper sees the follow (or the window closes).
func (eng *Engine) openFollowGate(ctx context.Context, logger *slog.Logger, p platform.Platform, creds platform.Credentials, rule *store.AutomationRule, evt *CommentEvent) (*Outcome, error) {
	out := &Outcome{
		RuleID:         ruleRef(rule.ID),
		MatchedKeyword: rule.Keyword,
		FollowGateUsed: true,
	}

	active, err := eng.Store.RecordFollowGateBlock(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		out.Status = StatusBlocked
		out.Reason = ReasonRuleInactive
		if err := eng.appendLog(ctx, commentLogEntry(evt, rule, ""), out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if rule.FollowGate.ReplyToNonFollower != "" {
		out.ReplySent = eng.postReply(ctx, logger, p, creds, evt.CommentID, renderReply(rule.FollowGate.ReplyToNonFollower, evt.SubjectUsername))
	}

	tmpl := rule.FollowGate.DMAfterFollow
	if tmpl == "" {
		tmpl = rule.DMMessage
	}
	pendingMessage := renderMessage(tmpl, evt.SubjectUsername, rule.Link)

	hours := rule.FollowGate.CheckDurationHours
	if hours <= 0 {
		hours = eng.config().DefaultFollowGateHours
	}
	now := eng.now()
	req, err := eng.Store.UpsertPendingFollow(ctx, &store.PendingFollowRequest{
		CreatorID:       evt.CreatorID,
		Platform:        evt.Platform,
		AccountID:       evt.AccountID,
		RuleID:          rule.ID,
		SubjectUserID:   evt.SubjectUserID,
		SubjectUsername: evt.SubjectUsername,
		CommentID:       evt.CommentID,
		PostID:          evt.PostID,
		MatchedKeyword:  rule.Keyword,
		PendingMessage:  pendingMessage,
		TriggeredAt:     now,
		ExpiresAt:       now.Add(time.Duration(hours) * time.Hour),
	})
	if err != nil {
		return nil, err
	}
	followGateOpened.Inc()
	logger.Info("follow gate opened", "pending", req.ID, "expires", req.ExpiresAt)

	out.Status = StatusWaitingForFollow
	out.Reason = ReasonWaitingForFollow
	out.PendingFollowID = req.ID
	if err := eng.appendLog(ctx, commentLogEntry(evt, rule, messagePreview(pendingMessage)), out); err != nil {
		return nil, err
	}
	eng.notify(ctx, logger, evt.CreatorID, notify.Event{
		Type:     notify.EventWaitingForFollow,
		Username: evt.SubjectUsername,
		Keyword:  rule.Keyword,
		Status:   string(out.Status),
		RuleID:   out.RuleID,
	})
	return out, nil
}
