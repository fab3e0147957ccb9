package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creatorkit/creatorkit/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL-backed Store, for sqlite or postgres. All times are written in UTC.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// the pending-uniqueness invariant only holds for live requests, so this has to be a partial index
const pendingIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_rule_subject ON pending_follow_requests (rule_id, subject_user_id) WHERE status = 'pending'`

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(
		&AutomationRule{},
		&PendingFollowRequest{},
		&DeliveryLogEntry{},
		&CreatorAccount{},
		&TriggerClaim{},
	); err != nil {
		return nil, fmt.Errorf("migrating autodm tables: %w", err)
	}
	if err := db.Exec(pendingIndexSQL).Error; err != nil {
		return nil, fmt.Errorf("creating pending follow index: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) ListActiveRules(ctx context.Context, creatorID, platform string) ([]AutomationRule, error) {
	var rules []AutomationRule
	err := s.db.WithContext(ctx).
		Where("creator_id = ? AND is_active = ? AND (platform = ? OR platform = '')", creatorID, true, platform).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("listing rules for creator %s: %w", creatorID, err)
	}
	return rules, nil
}

func (s *GormStore) GetRule(ctx context.Context, ruleID uint) (*AutomationRule, error) {
	var rule AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, ruleID).Error; err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (s *GormStore) CreateRule(ctx context.Context, rule *AutomationRule) error {
	if rule.Scope == "" {
		rule.Scope = ScopeAll
	}
	if rule.MatchType == "" {
		rule.MatchType = MatchContains
	}
	return s.db.WithContext(ctx).Create(rule).Error
}

func (s *GormStore) ResetDailyCounter(ctx context.Context, ruleID uint, today string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("id = ? AND last_reset_at <> ?", ruleID, today).
		UpdateColumns(map[string]any{
			"dms_sent_today": 0,
			"last_reset_at":  today,
		})
	if res.Error != nil {
		return false, fmt.Errorf("resetting daily counter for rule %d: %w", ruleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReserveDailySlot(ctx context.Context, ruleID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("id = ? AND is_active = ? AND (daily_limit <= 0 OR dms_sent_today < daily_limit)", ruleID, true).
		UpdateColumn("dms_sent_today", gorm.Expr("dms_sent_today + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("reserving daily slot for rule %d: %w", ruleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReleaseDailySlot(ctx context.Context, ruleID uint) error {
	err := s.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("id = ? AND dms_sent_today > 0", ruleID).
		UpdateColumn("dms_sent_today", gorm.Expr("dms_sent_today - 1")).Error
	if err != nil {
		return fmt.Errorf("releasing daily slot for rule %d: %w", ruleID, err)
	}
	return nil
}

func (s *GormStore) AdvanceReplyCursor(ctx context.Context, ruleID uint, n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	var rule AutomationRule
	rule.ID = ruleID
	res := s.db.WithContext(ctx).Model(&rule).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "last_used_reply_index"}}}).
		UpdateColumn("last_used_reply_index", gorm.Expr("(last_used_reply_index + 1) % ?", n))
	if res.Error != nil {
		return 0, fmt.Errorf("advancing reply cursor for rule %d: %w", ruleID, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	return rule.LastUsedReplyIndex, nil
}

func (s *GormStore) RecordDelivery(ctx context.Context, ruleID uint, now time.Time, opts DeliveryCounters) error {
	updates := map[string]any{
		"total_dms_sent":    gorm.Expr("total_dms_sent + 1"),
		"last_triggered_at": now.UTC(),
	}
	if opts.CountTrigger {
		updates["total_triggers"] = gorm.Expr("total_triggers + 1")
	}
	if opts.CountDailySlot {
		// this may be the first send of the day, with no in-request reset ahead of it
		today := util.DayKey(now)
		updates["dms_sent_today"] = gorm.Expr("CASE WHEN last_reset_at = ? THEN dms_sent_today + 1 ELSE 1 END", today)
		updates["last_reset_at"] = today
	}
	err := s.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("id = ?", ruleID).
		UpdateColumns(updates).Error
	if err != nil {
		return fmt.Errorf("recording delivery for rule %d: %w", ruleID, err)
	}
	return nil
}

func (s *GormStore) RecordFollowGateBlock(ctx context.Context, ruleID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("id = ? AND is_active = ?", ruleID, true).
		UpdateColumns(map[string]any{
			"total_triggers":            gorm.Expr("total_triggers + 1"),
			"total_follow_gate_blocked": gorm.Expr("total_follow_gate_blocked + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("recording follow gate block for rule %d: %w", ruleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) HasSentTo(ctx context.Context, ruleID uint, subjectUserID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&DeliveryLogEntry{}).
		Where("rule_id = ? AND subject_user_id = ? AND dm_sent = ?", ruleID, subjectUserID, true).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("checking prior sends for rule %d: %w", ruleID, err)
	}
	return n > 0, nil
}

func (s *GormStore) ClaimTrigger(ctx context.Context, ruleID uint, commentID string) (bool, error) {
	claim := TriggerClaim{RuleID: ruleID, CommentID: commentID}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if res.Error != nil {
		return false, fmt.Errorf("claiming comment %s for rule %d: %w", commentID, ruleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) AppendLog(ctx context.Context, entry *DeliveryLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending delivery log: %w", err)
	}
	return nil
}

func (s *GormStore) ListLog(ctx context.Context, creatorID string, limit int) ([]DeliveryLogEntry, error) {
	var entries []DeliveryLogEntry
	q := s.db.WithContext(ctx).Where("creator_id = ?", creatorID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Inserts a pending request, or refreshes the live pending request for the same (rule, subject).
// Returns the stored row.
func (s *GormStore) UpsertPendingFollow(ctx context.Context, req *PendingFollowRequest) (*PendingFollowRequest, error) {
	req.Status = FollowPending
	req.TriggeredAt = req.TriggeredAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "rule_id"}, {Name: "subject_user_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'pending'"}}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject_username",
			"comment_id",
			"post_id",
			"matched_keyword",
			"pending_message",
			"triggered_at",
			"expires_at",
			"platform",
			"account_id",
			"updated_at",
		}),
	}).Create(req).Error
	if err != nil {
		return nil, fmt.Errorf("upserting pending follow for rule %d: %w", req.RuleID, err)
	}

	var out PendingFollowRequest
	err = s.db.WithContext(ctx).
		Where("rule_id = ? AND subject_user_id = ? AND status = ?", req.RuleID, req.SubjectUserID, FollowPending).
		First(&out).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (s *GormStore) GetPendingFollow(ctx context.Context, id uint) (*PendingFollowRequest, error) {
	var req PendingFollowRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// Moves every unleased pending request whose window has closed to expired.
func (s *GormStore) ExpirePendingFollows(ctx context.Context, now time.Time) ([]PendingFollowRequest, error) {
	now = now.UTC()
	var expired []PendingFollowRequest
	res := s.db.WithContext(ctx).Model(&expired).
		Clauses(clause.Returning{}).
		Where("status = ? AND expires_at <= ? AND (lease_until IS NULL OR lease_until < ?)", FollowPending, now, now).
		UpdateColumns(map[string]any{
			"status":      FollowExpired,
			"lease_token": "",
			"lease_until": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("expiring pending follows: %w", res.Error)
	}
	return expired, nil
}

func (s *GormStore) ListDuePendingFollows(ctx context.Context, now time.Time, limit int) ([]PendingFollowRequest, error) {
	now = now.UTC()
	var reqs []PendingFollowRequest
	q := s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND (lease_until IS NULL OR lease_until < ?)", FollowPending, now, now).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("listing pending follows: %w", err)
	}
	return reqs, nil
}

func (s *GormStore) ClaimPendingFollow(ctx context.Context, id uint, token string, now, leaseUntil time.Time) (bool, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&PendingFollowRequest{}).
		Where("id = ? AND status = ? AND expires_at > ? AND (lease_until IS NULL OR lease_until < ?)", id, FollowPending, now, now).
		UpdateColumns(map[string]any{
			"lease_token":     token,
			"lease_until":     leaseUntil.UTC(),
			"last_checked_at": now,
			"check_count":     gorm.Expr("check_count + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claiming pending follow %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReleasePendingFollow(ctx context.Context, id uint, token string) error {
	err := s.db.WithContext(ctx).Model(&PendingFollowRequest{}).
		Where("id = ? AND lease_token = ?", id, token).
		UpdateColumns(map[string]any{
			"lease_token": "",
			"lease_until": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("releasing pending follow %d: %w", id, err)
	}
	return nil
}

func (s *GormStore) FulfillPendingFollow(ctx context.Context, id uint, token string, now time.Time) (bool, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&PendingFollowRequest{}).
		Where("id = ? AND status = ? AND lease_token = ?", id, FollowPending, token).
		UpdateColumns(map[string]any{
			"status":       FollowFulfilled,
			"fulfilled_at": now,
			"lease_token":  "",
			"lease_until":  nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("fulfilling pending follow %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) UpsertCreatorAccount(ctx context.Context, acct *CreatorAccount) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"creator_id", "access_token", "updated_at"}),
	}).Create(acct).Error
	if err != nil {
		return fmt.Errorf("upserting creator account %s/%s: %w", acct.Platform, acct.AccountID, err)
	}
	return nil
}

func (s *GormStore) GetCreatorAccount(ctx context.Context, platform, accountID string) (*CreatorAccount, error) {
	var acct CreatorAccount
	err := s.db.WithContext(ctx).
		Where("platform = ? AND account_id = ?", platform, accountID).
		First(&acct).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}
