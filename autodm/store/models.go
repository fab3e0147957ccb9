package store

import (
	"time"

	"gorm.io/gorm"
)

type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "startsWith"
)

// ScopeAll is the rule scope which matches comments on any post.
const ScopeAll = "all"

type FollowStatus string

const (
	FollowPending   FollowStatus = "pending"
	FollowFulfilled FollowStatus = "fulfilled"
	FollowExpired   FollowStatus = "expired"
)

// Follow-gate settings for a rule. Stored inline on the rule row.
type FollowGate struct {
	Enabled            bool
	ReplyToNonFollower string `gorm:"type:text"`
	DMAfterFollow      string `gorm:"column:dm_after_follow;type:text"`
	CheckDurationHours int
}

// Creator-authored automation rule. Rows are written by the creator-facing CRUD surface; the
// engine only mutates counters and the reply rotation cursor, always through single conditional
// UPDATE statements.
type AutomationRule struct {
	gorm.Model
	CreatorID     string    `gorm:"index:idx_rule_creator"`
	Platform      string    `gorm:"index:idx_rule_creator"`
	Scope         string    `gorm:"not null;default:all"`
	Keyword       string    `gorm:"not null"`
	CaseSensitive bool      `gorm:"not null;default:false"`
	MatchType     MatchType `gorm:"not null;default:contains"`
	DMMessage     string    `gorm:"column:dm_message;type:text"`
	Link          string
	ReplyVariants []string `gorm:"serializer:json;type:text"`
	// rotation cursor into ReplyVariants
	LastUsedReplyIndex int `gorm:"not null;default:0"`
	DailyLimit         int `gorm:"not null;default:0"`
	DMsSentToday       int `gorm:"column:dms_sent_today;not null;default:0"`
	// UTC calendar date (YYYY-MM-DD) of the last DMsSentToday reset
	LastResetAt   string     `gorm:"not null"`
	DMOncePerUser bool       `gorm:"column:dm_once_per_user;not null;default:false"`
	FollowGate    FollowGate `gorm:"embedded;embeddedPrefix:follow_gate_"`
	IsActive      bool       `gorm:"index;not null"`

	TotalTriggers          int64 `gorm:"not null;default:0"`
	TotalDMsSent           int64 `gorm:"column:total_dms_sent;not null;default:0"`
	TotalFollowGateBlocked int64 `gorm:"not null;default:0"`
	LastTriggeredAt        *time.Time
}

// A subject who triggered a follow-gated rule and has not yet been observed following the
// creator. At most one row per (RuleID, SubjectUserID) may be in the pending state; terminal rows
// are kept for audit.
type PendingFollowRequest struct {
	ID              uint `gorm:"primarykey"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CreatorID       string `gorm:"index"`
	Platform        string
	AccountID       string
	RuleID          uint   `gorm:"index:idx_pending_rule_subject_lookup"`
	SubjectUserID   string `gorm:"index:idx_pending_rule_subject_lookup"`
	SubjectUsername string
	CommentID       string
	PostID          string
	MatchedKeyword  string
	PendingMessage  string    `gorm:"type:text"`
	TriggeredAt     time.Time `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"index;not null"`
	LastCheckedAt   *time.Time
	CheckCount      int          `gorm:"not null;default:0"`
	Status          FollowStatus `gorm:"index;not null;default:pending"`
	FulfilledAt     *time.Time
	// sweeper claim; a lease is not a status, and an expired lease is free to take
	LeaseToken string
	LeaseUntil *time.Time
}

// Append-only audit record, one per terminal outcome of processing an event.
type DeliveryLogEntry struct {
	ID              uint      `gorm:"primarykey"`
	CreatedAt       time.Time `gorm:"index"`
	CreatorID       string    `gorm:"index"`
	RuleID          *uint     `gorm:"index:idx_log_rule_subject"`
	TriggerType     string
	SubjectUserID   string `gorm:"index:idx_log_rule_subject"`
	SubjectUsername string
	CommentID       string
	PostID          string
	TriggerText     string `gorm:"type:text"`
	MatchedKeyword  string
	ReplySent       bool
	DMSent          bool `gorm:"column:dm_sent;index:idx_log_rule_subject"`
	DMSentAt        *time.Time
	FailureReason   *string
	FollowGateUsed  bool
	MessagePreview  string
}

// Platform credentials for a creator account, refreshed from every inbound event so that the
// sweeper can act later without the original request.
type CreatorAccount struct {
	ID          uint `gorm:"primarykey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatorID   string `gorm:"index"`
	Platform    string `gorm:"uniqueIndex:idx_account_platform_id"`
	AccountID   string `gorm:"uniqueIndex:idx_account_platform_id"`
	AccessToken string `gorm:"type:text"`
}

// Idempotency key for an admitted event: a rule acts on a given comment at most once, even when
// the upstream webhook redelivers.
type TriggerClaim struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	RuleID    uint   `gorm:"uniqueIndex:idx_claim_rule_comment"`
	CommentID string `gorm:"uniqueIndex:idx_claim_rule_comment"`
}
