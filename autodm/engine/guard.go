package engine

import (
	"context"

	"github.com/creatorkit/creatorkit/autodm/store"
	"github.com/creatorkit/creatorkit/util"
)

// Rolls the daily counter over if needed, then applies the quota and once-per-user policies.
// Returns the blocking reason, or "" if the event may proceed.
//
// The quota check here is advisory. The authoritative bound is the slot reservation made just
// before sending.
func (eng *Engine) checkGuard(ctx context.Context, rule *store.AutomationRule, subjectUserID string) (string, error) {
	today := util.DayKey(eng.now())
	if rule.LastResetAt != today {
		if _, err := eng.Store.ResetDailyCounter(ctx, rule.ID, today); err != nil {
			return "", err
		}
		// whether we or a concurrent event won the reset, the counter now belongs to today
		rule.DMsSentToday = 0
		rule.LastResetAt = today
	}

	if rule.DailyLimit > 0 && rule.DMsSentToday >= rule.DailyLimit {
		return ReasonDailyLimit, nil
	}

	if rule.DMOncePerUser {
		sent, err := eng.Store.HasSentTo(ctx, rule.ID, subjectUserID)
		if err != nil {
			return "", err
		}
		if sent {
			return ReasonAlreadySent, nil
		}
	}
	return "", nil
}

// Takes a daily slot. On failure, works out whether the rule went away or is simply full.
func (eng *Engine) reserveSlot(ctx context.Context, ruleID uint) (string, error) {
	ok, err := eng.Store.ReserveDailySlot(ctx, ruleID)
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	current, err := eng.Store.GetRule(ctx, ruleID)
	if isNotFound(err) {
		return ReasonRuleInactive, nil
	} else if err != nil {
		return "", err
	}
	if !current.IsActive {
		return ReasonRuleInactive, nil
	}
	return ReasonDailyLimit, nil
}
