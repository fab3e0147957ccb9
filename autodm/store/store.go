// Persistence boundary for the auto-DM engine: automation rules, follow-gate requests, the
// delivery audit log, creator credentials, and per-event idempotency claims.
//
// Every mutation of shared counters (daily quota, lifetime counters, reply rotation cursor,
// follow-gate status) is a single conditional UPDATE, so concurrent events and sweepers never
// read-modify-write in application memory.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

type Store interface {
	// Active rules for a creator on a platform, in creation order.
	ListActiveRules(ctx context.Context, creatorID, platform string) ([]AutomationRule, error)
	GetRule(ctx context.Context, ruleID uint) (*AutomationRule, error)
	CreateRule(ctx context.Context, rule *AutomationRule) error

	// Zeroes the daily counter if the last reset was not on `today`. Returns true if this call
	// performed the reset.
	ResetDailyCounter(ctx context.Context, ruleID uint, today string) (bool, error)
	// Takes one daily send slot if the rule is active and under its limit.
	ReserveDailySlot(ctx context.Context, ruleID uint) (bool, error)
	ReleaseDailySlot(ctx context.Context, ruleID uint) error
	// Advances the reply rotation cursor modulo n and returns the new index.
	AdvanceReplyCursor(ctx context.Context, ruleID uint, n int) (int, error)
	RecordDelivery(ctx context.Context, ruleID uint, now time.Time, opts DeliveryCounters) error
	// Counts a follow-gate block (and the trigger) if the rule is still active.
	RecordFollowGateBlock(ctx context.Context, ruleID uint) (bool, error)

	HasSentTo(ctx context.Context, ruleID uint, subjectUserID string) (bool, error)
	ClaimTrigger(ctx context.Context, ruleID uint, commentID string) (bool, error)

	AppendLog(ctx context.Context, entry *DeliveryLogEntry) error
	ListLog(ctx context.Context, creatorID string, limit int) ([]DeliveryLogEntry, error)

	UpsertPendingFollow(ctx context.Context, req *PendingFollowRequest) (*PendingFollowRequest, error)
	GetPendingFollow(ctx context.Context, id uint) (*PendingFollowRequest, error)
	// Marks unleased pending requests past their expiry as expired, and returns them.
	ExpirePendingFollows(ctx context.Context, now time.Time) ([]PendingFollowRequest, error)
	ListDuePendingFollows(ctx context.Context, now time.Time, limit int) ([]PendingFollowRequest, error)
	ClaimPendingFollow(ctx context.Context, id uint, token string, now, leaseUntil time.Time) (bool, error)
	ReleasePendingFollow(ctx context.Context, id uint, token string) error
	FulfillPendingFollow(ctx context.Context, id uint, token string, now time.Time) (bool, error)

	UpsertCreatorAccount(ctx context.Context, acct *CreatorAccount) error
	GetCreatorAccount(ctx context.Context, platform, accountID string) (*CreatorAccount, error)
}

// Which rule counters a successful delivery bumps, beyond TotalDMsSent and LastTriggeredAt.
type DeliveryCounters struct {
	// the event was not already counted (eg, by the follow gate)
	CountTrigger bool
	// the daily slot was not reserved ahead of the send; rolls the daily counter over first if
	// the last reset was on an earlier day
	CountDailySlot bool
}
