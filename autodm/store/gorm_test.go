package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRule(creatorID string) *AutomationRule {
	return &AutomationRule{
		CreatorID:   creatorID,
		Platform:    "instagram",
		Keyword:     "price",
		DMMessage:   "hi {{name}}",
		DailyLimit:  2,
		LastResetAt: "2024-01-01",
		IsActive:    true,
	}
}

func TestRuleDefaultsAndOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r1 := testRule("c1")
	r2 := testRule("c1")
	r2.Keyword = "link"
	inactive := testRule("c1")
	inactive.IsActive = false
	other := testRule("c2")
	for _, r := range []*AutomationRule{r1, r2, inactive, other} {
		require.NoError(t, s.CreateRule(ctx, r))
	}
	assert.Equal(ScopeAll, r1.Scope)
	assert.Equal(MatchContains, r1.MatchType)

	rules, err := s.ListActiveRules(ctx, "c1", "instagram")
	assert.NoError(err)
	require.Len(t, rules, 2)
	assert.Equal(r1.ID, rules[0].ID)
	assert.Equal(r2.ID, rules[1].ID)

	got, err := s.GetRule(ctx, inactive.ID)
	assert.NoError(err)
	assert.False(got.IsActive)

	_, err = s.GetRule(ctx, 9999)
	assert.ErrorIs(err, ErrNotFound)
}

func TestDailyCounter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r := testRule("c1")
	r.DMsSentToday = 2
	require.NoError(t, s.CreateRule(ctx, r))

	// full for the stale day
	ok, err := s.ReserveDailySlot(ctx, r.ID)
	assert.NoError(err)
	assert.False(ok)

	reset, err := s.ResetDailyCounter(ctx, r.ID, "2024-01-02")
	assert.NoError(err)
	assert.True(reset)
	reset, err = s.ResetDailyCounter(ctx, r.ID, "2024-01-02")
	assert.NoError(err)
	assert.False(reset)

	for i := 0; i < 2; i++ {
		ok, err = s.ReserveDailySlot(ctx, r.ID)
		assert.NoError(err)
		assert.True(ok)
	}
	ok, err = s.ReserveDailySlot(ctx, r.ID)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(s.ReleaseDailySlot(ctx, r.ID))
	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(1, got.DMsSentToday)
	assert.Equal("2024-01-02", got.LastResetAt)
}

func TestUnlimitedAndInactiveReserve(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r := testRule("c1")
	r.DailyLimit = 0
	r.DMsSentToday = 500
	require.NoError(t, s.CreateRule(ctx, r))
	ok, err := s.ReserveDailySlot(ctx, r.ID)
	assert.NoError(err)
	assert.True(ok)

	off := testRule("c1")
	off.IsActive = false
	require.NoError(t, s.CreateRule(ctx, off))
	ok, err = s.ReserveDailySlot(ctx, off.ID)
	assert.NoError(err)
	assert.False(ok)
	ok, err = s.RecordFollowGateBlock(ctx, off.ID)
	assert.NoError(err)
	assert.False(ok)
}

func TestAdvanceReplyCursor(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r := testRule("c1")
	r.ReplyVariants = []string{"a", "b", "c"}
	require.NoError(t, s.CreateRule(ctx, r))

	var seen []int
	for i := 0; i < 4; i++ {
		idx, err := s.AdvanceReplyCursor(ctx, r.ID, 3)
		require.NoError(t, err)
		seen = append(seen, idx)
	}
	assert.Equal([]int{1, 2, 0, 1}, seen)

	idx, err := s.AdvanceReplyCursor(ctx, r.ID, 1)
	assert.NoError(err)
	assert.Equal(0, idx)

	_, err = s.AdvanceReplyCursor(ctx, 9999, 3)
	assert.ErrorIs(err, ErrNotFound)

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal([]string{"a", "b", "c"}, got.ReplyVariants)
}

func TestRecordDeliveryCounters(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r := testRule("c1")
	require.NoError(t, s.CreateRule(ctx, r))
	now := time.Now()

	assert.NoError(s.RecordDelivery(ctx, r.ID, now, DeliveryCounters{CountTrigger: true}))
	assert.NoError(s.RecordDelivery(ctx, r.ID, now, DeliveryCounters{CountDailySlot: true}))
	ok, err := s.RecordFollowGateBlock(ctx, r.ID)
	assert.NoError(err)
	assert.True(ok)

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(int64(2), got.TotalDMsSent)
	assert.Equal(int64(2), got.TotalTriggers)
	assert.Equal(int64(1), got.TotalFollowGateBlocked)
	assert.Equal(1, got.DMsSentToday)
	require.NotNil(t, got.LastTriggeredAt)
	assert.WithinDuration(now, *got.LastTriggeredAt, time.Second)
}

func TestRecordDeliveryRollsOverDay(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	r := testRule("c1")
	require.NoError(t, s.CreateRule(ctx, r))
	day1 := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	_, err := s.ResetDailyCounter(ctx, r.ID, "2024-05-01")
	require.NoError(t, err)
	assert.NoError(s.RecordDelivery(ctx, r.ID, day1, DeliveryCounters{CountDailySlot: true}))
	assert.NoError(s.RecordDelivery(ctx, r.ID, day1, DeliveryCounters{CountDailySlot: true}))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(2, got.DMsSentToday)
	assert.Equal("2024-05-01", got.LastResetAt)

	// first send of the new day starts a fresh count
	assert.NoError(s.RecordDelivery(ctx, r.ID, day2, DeliveryCounters{CountDailySlot: true}))
	got, err = s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(1, got.DMsSentToday)
	assert.Equal("2024-05-02", got.LastResetAt)
	assert.Equal(int64(3), got.TotalDMsSent)

	// a later in-request rollover check for the same day is a no-op
	reset, err := s.ResetDailyCounter(ctx, r.ID, "2024-05-02")
	assert.NoError(err)
	assert.False(reset)

	// reserved slots don't touch the reset marker
	ok, err := s.ReserveDailySlot(ctx, r.ID)
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(s.RecordDelivery(ctx, r.ID, day2, DeliveryCounters{CountTrigger: true}))
	got, err = s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(2, got.DMsSentToday)
}

func TestClaimTriggerAndLog(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	ok, err := s.ClaimTrigger(ctx, 1, "comment1")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.ClaimTrigger(ctx, 1, "comment1")
	assert.NoError(err)
	assert.False(ok)
	ok, err = s.ClaimTrigger(ctx, 2, "comment1")
	assert.NoError(err)
	assert.True(ok)

	ruleID := uint(1)
	sent, err := s.HasSentTo(ctx, ruleID, "user1")
	assert.NoError(err)
	assert.False(sent)

	reason := "dm_failed"
	assert.NoError(s.AppendLog(ctx, &DeliveryLogEntry{CreatorID: "c1", RuleID: &ruleID, SubjectUserID: "user1", FailureReason: &reason}))
	sent, err = s.HasSentTo(ctx, ruleID, "user1")
	assert.NoError(err)
	assert.False(sent)

	assert.NoError(s.AppendLog(ctx, &DeliveryLogEntry{CreatorID: "c1", RuleID: &ruleID, SubjectUserID: "user1", DMSent: true}))
	sent, err = s.HasSentTo(ctx, ruleID, "user1")
	assert.NoError(err)
	assert.True(sent)

	entries, err := s.ListLog(ctx, "c1", 10)
	assert.NoError(err)
	require.Len(t, entries, 2)
	assert.True(entries[0].DMSent)
}

func pendingFor(ruleID uint, subject string, now time.Time) *PendingFollowRequest {
	return &PendingFollowRequest{
		CreatorID:      "c1",
		Platform:       "instagram",
		AccountID:      "acct1",
		RuleID:         ruleID,
		SubjectUserID:  subject,
		CommentID:      "comment-" + subject,
		PendingMessage: "hello",
		TriggeredAt:    now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}
}

func TestUpsertPendingFollow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)
	now := time.Now()

	first, err := s.UpsertPendingFollow(ctx, pendingFor(1, "user1", now))
	require.NoError(t, err)
	assert.Equal(FollowPending, first.Status)

	retrigger := pendingFor(1, "user1", now.Add(time.Hour))
	retrigger.CommentID = "comment-again"
	second, err := s.UpsertPendingFollow(ctx, retrigger)
	require.NoError(t, err)
	assert.Equal(first.ID, second.ID)
	assert.Equal("comment-again", second.CommentID)
	assert.WithinDuration(now.Add(25*time.Hour), second.ExpiresAt, time.Second)

	// once terminal, a retrigger opens a fresh request
	expired, err := s.ExpirePendingFollows(ctx, now.Add(48*time.Hour))
	assert.NoError(err)
	require.Len(t, expired, 1)
	assert.Equal(first.ID, expired[0].ID)
	assert.Equal(FollowExpired, expired[0].Status)
	assert.Equal("user1", expired[0].SubjectUserID)

	third, err := s.UpsertPendingFollow(ctx, pendingFor(1, "user1", now))
	require.NoError(t, err)
	assert.NotEqual(first.ID, third.ID)

	old, err := s.GetPendingFollow(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(FollowExpired, old.Status)
}

func TestPendingFollowLease(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)
	now := time.Now()

	req, err := s.UpsertPendingFollow(ctx, pendingFor(1, "user1", now))
	require.NoError(t, err)

	due, err := s.ListDuePendingFollows(ctx, now, 10)
	assert.NoError(err)
	assert.Len(due, 1)

	ok, err := s.ClaimPendingFollow(ctx, req.ID, "tok-a", now, now.Add(time.Minute))
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.ClaimPendingFollow(ctx, req.ID, "tok-b", now, now.Add(time.Minute))
	assert.NoError(err)
	assert.False(ok)

	due, err = s.ListDuePendingFollows(ctx, now, 10)
	assert.NoError(err)
	assert.Empty(due)

	// wrong token cannot fulfill
	ok, err = s.FulfillPendingFollow(ctx, req.ID, "tok-b", now)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(s.ReleasePendingFollow(ctx, req.ID, "tok-a"))
	ok, err = s.ClaimPendingFollow(ctx, req.ID, "tok-b", now, now.Add(time.Minute))
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.FulfillPendingFollow(ctx, req.ID, "tok-b", now)
	assert.NoError(err)
	assert.True(ok)

	got, err := s.GetPendingFollow(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(FollowFulfilled, got.Status)
	assert.Equal(2, got.CheckCount)
	assert.Empty(got.LeaseToken)
	assert.NotNil(got.FulfilledAt)

	// terminal rows never expire
	expired, err := s.ExpirePendingFollows(ctx, now.Add(48*time.Hour))
	assert.NoError(err)
	assert.Empty(expired)
}

func TestExpireSkipsLeased(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)
	now := time.Now()

	req, err := s.UpsertPendingFollow(ctx, pendingFor(1, "user1", now))
	require.NoError(t, err)
	ok, err := s.ClaimPendingFollow(ctx, req.ID, "tok", now, now.Add(30*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	expired, err := s.ExpirePendingFollows(ctx, now.Add(25*time.Hour))
	assert.NoError(err)
	assert.Empty(expired)

	// lease lapsed
	expired, err = s.ExpirePendingFollows(ctx, now.Add(31*time.Hour))
	assert.NoError(err)
	assert.Len(expired, 1)
}

func TestCreatorAccountUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := TestStore(t)

	assert.NoError(s.UpsertCreatorAccount(ctx, &CreatorAccount{CreatorID: "c1", Platform: "instagram", AccountID: "acct1", AccessToken: "old"}))
	assert.NoError(s.UpsertCreatorAccount(ctx, &CreatorAccount{CreatorID: "c1", Platform: "instagram", AccountID: "acct1", AccessToken: "new"}))

	acct, err := s.GetCreatorAccount(ctx, "instagram", "acct1")
	require.NoError(t, err)
	assert.Equal("new", acct.AccessToken)

	_, err = s.GetCreatorAccount(ctx, "instagram", "missing")
	assert.ErrorIs(err, ErrNotFound)
}
