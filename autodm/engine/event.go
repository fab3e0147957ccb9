package engine

import (
	"fmt"
	"log/slog"
)

// Inbound comment on a creator's post, as delivered by a platform webhook.
type CommentEvent struct {
	CreatorID string `json:"creatorId"`
	Platform  string `json:"platform"`
	// the creator's own account on the platform
	AccountID   string `json:"accountId"`
	AccessToken string `json:"accessToken"`
	PostID      string `json:"postId"`
	CommentID   string `json:"commentId"`
	CommentText string `json:"commentText"`
	// the commenter
	SubjectUserID   string `json:"subjectUserId"`
	SubjectUsername string `json:"subjectUsername"`
}

func (evt *CommentEvent) Validate() error {
	switch {
	case evt.CreatorID == "":
		return fmt.Errorf("comment event missing creatorId")
	case evt.Platform == "":
		return fmt.Errorf("comment event missing platform")
	case evt.AccountID == "":
		return fmt.Errorf("comment event missing accountId")
	case evt.CommentID == "":
		return fmt.Errorf("comment event missing commentId")
	case evt.SubjectUserID == "":
		return fmt.Errorf("comment event missing subjectUserId")
	}
	return nil
}

type OutcomeStatus string

const (
	StatusDelivered        OutcomeStatus = "delivered"
	StatusFailed           OutcomeStatus = "failed"
	StatusBlocked          OutcomeStatus = "blocked"
	StatusWaitingForFollow OutcomeStatus = "waiting_for_follow"
	StatusNoMatch          OutcomeStatus = "no_match"
	// dropped before matching; nothing is logged
	StatusIgnored OutcomeStatus = "ignored"
)

// Failure reasons, as recorded on delivery log entries.
const (
	ReasonNoMatch           = "no_match"
	ReasonDailyLimit        = "daily_limit"
	ReasonAlreadySent       = "already_sent"
	ReasonRuleInactive      = "rule_inactive"
	ReasonDuplicateEvent    = "duplicate_event"
	ReasonRateLimited       = "rate_limited"
	ReasonDMFailed          = "dm_failed"
	ReasonWaitingForFollow  = "waiting_for_follow"
	ReasonFollowGateExpired = "follow_gate_expired"

	ReasonIgnoredSelf         = "ignored_self"
	ReasonUnsupportedPlatform = "unsupported_platform"
)

// Result of processing one comment event. Policy blocks and delivery failures are outcomes, not
// errors.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	// empty on delivery
	Reason         string `json:"reason,omitempty"`
	RuleID         *uint  `json:"ruleId,omitempty"`
	MatchedKeyword string `json:"matchedKeyword,omitempty"`
	ReplySent      bool   `json:"replySent"`
	DMSent         bool   `json:"dmSent"`
	FollowGateUsed bool   `json:"followGateUsed"`
	// set when a follow-gate request was opened or refreshed
	PendingFollowID uint `json:"pendingFollowId,omitempty"`
}

func (o *Outcome) CanonicalLogLine(logger *slog.Logger) {
	var ruleID uint
	if o.RuleID != nil {
		ruleID = *o.RuleID
	}
	logger.Info("canonical-event-line",
		"status", o.Status,
		"reason", o.Reason,
		"rule", ruleID,
		"keyword", o.MatchedKeyword,
		"replySent", o.ReplySent,
		"dmSent", o.DMSent,
		"followGate", o.FollowGateUsed,
	)
}

func ruleRef(id uint) *uint {
	return &id
}
