package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRule(t *testing.T, eng *Engine, keyword string, mutate func(r *store.AutomationRule)) *store.AutomationRule {
	t.Helper()
	r := &store.AutomationRule{
		CreatorID: TestCreatorID,
		Platform:  TestPlatform,
		Keyword:   keyword,
		MatchType: store.MatchContains,
		DMMessage: "Hey {{name}}, here you go: {{link}}",
		Link:      "https://shop.example.com/item",
		IsActive:  true,
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, eng.Store.CreateRule(context.Background(), r))
	return r
}

func getRule(t *testing.T, eng *Engine, id uint) *store.AutomationRule {
	t.Helper()
	r, err := eng.Store.GetRule(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestEngineBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", nil)

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "What's the PRICE?"))
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)
	assert.Empty(out.Reason)
	assert.True(out.DMSent)
	assert.False(out.ReplySent)
	require.NotNil(t, out.RuleID)
	assert.Equal(rule.ID, *out.RuleID)

	require.Equal(t, 1, mock.DMCount())
	assert.Equal("u1", mock.DMs[0].Target)
	assert.Equal("Hey @user_u1, here you go: https://shop.example.com/item", mock.DMs[0].Text)

	got := getRule(t, eng, rule.ID)
	assert.Equal(1, got.DMsSentToday)
	assert.Equal(int64(1), got.TotalDMsSent)
	assert.Equal(int64(1), got.TotalTriggers)
	assert.Equal("2024-05-01", got.LastResetAt)
	assert.NotNil(got.LastTriggeredAt)

	entries, err := eng.Store.ListLog(ctx, TestCreatorID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(entries[0].DMSent)
	assert.Nil(entries[0].FailureReason)
	assert.Equal("price", entries[0].MatchedKeyword)
	assert.Equal("What's the PRICE?", entries[0].TriggerText)
	assert.Equal("Hey @user_u1, here you go: https://shop.example.com/item", entries[0].MessagePreview)

	// credentials were captured for later sweeps
	acct, err := eng.Store.GetCreatorAccount(ctx, TestPlatform, TestAccountID)
	require.NoError(t, err)
	assert.Equal("token1", acct.AccessToken)
}

func TestCaseSensitiveNoMatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	createRule(t, eng, "Price", func(r *store.AutomationRule) { r.CaseSensitive = true })

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "what's the price?"))
	require.NoError(t, err)
	assert.Equal(StatusNoMatch, out.Status)
	assert.Equal(ReasonNoMatch, out.Reason)
	assert.Nil(out.RuleID)
	assert.Equal(0, mock.DMCount())

	entries, err := eng.Store.ListLog(ctx, TestCreatorID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(entries[0].RuleID)
	require.NotNil(t, entries[0].FailureReason)
	assert.Equal(ReasonNoMatch, *entries[0].FailureReason)
}

func TestEarlierRuleWins(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	first := createRule(t, eng, "price", func(r *store.AutomationRule) { r.DMMessage = "first" })
	createRule(t, eng, "the price", func(r *store.AutomationRule) { r.DMMessage = "second" })

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "what is the price"))
	require.NoError(t, err)
	require.NotNil(t, out.RuleID)
	assert.Equal(first.ID, *out.RuleID)
	require.Equal(t, 1, mock.DMCount())
	assert.Equal("first", mock.DMs[0].Text)
}

func TestDailyLimitConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", func(r *store.AutomationRule) { r.DailyLimit = 2 })

	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := map[OutcomeStatus]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "price?"))
			assert.NoError(err)
			if out == nil {
				return
			}
			if out.Status == StatusBlocked {
				assert.Equal(ReasonDailyLimit, out.Reason)
			}
			mu.Lock()
			statuses[out.Status]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(2, statuses[StatusDelivered])
	assert.Equal(8, statuses[StatusBlocked])
	assert.Equal(2, mock.DMCount())
	assert.Equal(2, getRule(t, eng, rule.ID).DMsSentToday)

	// next matching event is blocked too
	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c-late", "u-late", "price"))
	require.NoError(t, err)
	assert.Equal(StatusBlocked, out.Status)
	assert.Equal(ReasonDailyLimit, out.Reason)
}

func TestDailyRollover(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", func(r *store.AutomationRule) { r.DailyLimit = 1 })

	now := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "price"))
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)
	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c2", "u2", "price"))
	require.NoError(t, err)
	assert.Equal(ReasonDailyLimit, out.Reason)

	now = now.Add(2 * time.Minute)
	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c3", "u3", "price"))
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)
	assert.Equal(2, mock.DMCount())

	got := getRule(t, eng, rule.ID)
	assert.Equal(1, got.DMsSentToday)
	assert.Equal("2024-05-02", got.LastResetAt)
}

func TestDMOncePerUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	createRule(t, eng, "price", func(r *store.AutomationRule) { r.DMOncePerUser = true })

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "price"))
	require.NoError(t, err)
	assert.True(out.DMSent)

	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c2", "u1", "price again"))
	require.NoError(t, err)
	assert.False(out.DMSent)
	assert.Equal(StatusBlocked, out.Status)
	assert.Equal(ReasonAlreadySent, out.Reason)

	// a different user is unaffected
	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c3", "u2", "price"))
	require.NoError(t, err)
	assert.True(out.DMSent)
	assert.Equal(2, mock.DMCount())
}

func TestPriceScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", func(r *store.AutomationRule) {
		r.DailyLimit = 2
		r.DMOncePerUser = true
	})

	var got []string
	for i, text := range []string{"price?", "what's the price", "PRICE pls"} {
		out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent(fmt.Sprintf("c%d", i), "u1", text))
		require.NoError(t, err)
		if out.DMSent {
			got = append(got, string(out.Status))
		} else {
			got = append(got, out.Reason)
		}
	}
	assert.Equal([]string{"delivered", ReasonAlreadySent, ReasonAlreadySent}, got)
	assert.Equal(1, mock.DMCount())
	assert.Equal(1, getRule(t, eng, rule.ID).DMsSentToday)
}

func TestIdempotentRedelivery(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", func(r *store.AutomationRule) {
		r.ReplyVariants = []string{"check your DMs {{name}}"}
	})

	evt := FixtureCommentEvent("c1", "u1", "price")
	out, err := eng.ProcessCommentTrigger(ctx, evt)
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)

	out, err = eng.ProcessCommentTrigger(ctx, evt)
	require.NoError(t, err)
	assert.Equal(StatusBlocked, out.Status)
	assert.Equal(ReasonDuplicateEvent, out.Reason)

	assert.Equal(1, mock.DMCount())
	assert.Equal(1, mock.ReplyCount())
	got := getRule(t, eng, rule.ID)
	assert.Equal(1, got.DMsSentToday)
	assert.Equal(int64(1), got.TotalDMsSent)

	entries, err := eng.Store.ListLog(ctx, TestCreatorID, 10)
	require.NoError(t, err)
	delivered := 0
	for _, e := range entries {
		if e.DMSent {
			delivered++
		}
	}
	assert.Equal(1, delivered)
}

func TestReplyRotation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	createRule(t, eng, "price", func(r *store.AutomationRule) {
		r.ReplyVariants = []string{"zero {{name}}", "one {{name}}", "two {{name}}"}
	})

	for i := 0; i < 3; i++ {
		out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "price"))
		require.NoError(t, err)
		assert.True(out.ReplySent)
	}
	require.Equal(t, 3, mock.ReplyCount())
	assert.Equal("one @user_u0", mock.Replies[0].Text)
	assert.Equal("two @user_u1", mock.Replies[1].Text)
	assert.Equal("zero @user_u2", mock.Replies[2].Text)
	assert.Equal("c0", mock.Replies[0].Target)
}

func TestDMFailureReleasesSlot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	rule := createRule(t, eng, "price", func(r *store.AutomationRule) {
		r.DailyLimit = 1
		r.ReplyVariants = []string{"sent!"}
	})
	mock.SetFailDMs(true)

	events, unsub := eng.Notifier.(*notify.Hub).Subscribe(notify.ChannelKey(TestCreatorID))
	defer unsub()

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "price"))
	require.NoError(t, err)
	assert.Equal(StatusFailed, out.Status)
	assert.Equal(ReasonDMFailed, out.Reason)
	// the public reply is independent of the DM
	assert.True(out.ReplySent)

	got := getRule(t, eng, rule.ID)
	assert.Equal(0, got.DMsSentToday)
	assert.Equal(int64(0), got.TotalDMsSent)

	select {
	case evt := <-events:
		assert.Equal(notify.EventFailed, evt.Type)
		assert.Equal(ReasonDMFailed, evt.Status)
		assert.Equal("user_u1", evt.Username)
	default:
		t.Fatal("expected a notification")
	}

	// the slot is available again once the platform recovers
	mock.SetFailDMs(false)
	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c2", "u2", "price"))
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)
	evt := <-events
	assert.Equal(notify.EventSent, evt.Type)
}

func TestAccountCircuitBreaker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	eng.Config.AccountDMQuotaHour = 1
	rule := createRule(t, eng, "price", nil)

	out, err := eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c1", "u1", "price"))
	require.NoError(t, err)
	assert.Equal(StatusDelivered, out.Status)

	out, err = eng.ProcessCommentTrigger(ctx, FixtureCommentEvent("c2", "u2", "price"))
	require.NoError(t, err)
	assert.Equal(StatusBlocked, out.Status)
	assert.Equal(ReasonRateLimited, out.Reason)
	assert.Equal(1, mock.DMCount())
	assert.Equal(1, getRule(t, eng, rule.ID).DMsSentToday)
}

func TestIgnoredEvents(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture(t)
	createRule(t, eng, "price", nil)

	self := FixtureCommentEvent("c1", TestAccountID, "price")
	out, err := eng.ProcessCommentTrigger(ctx, self)
	require.NoError(t, err)
	assert.Equal(StatusIgnored, out.Status)
	assert.Equal(ReasonIgnoredSelf, out.Reason)

	other := FixtureCommentEvent("c2", "u1", "price")
	other.Platform = "myspace"
	out, err = eng.ProcessCommentTrigger(ctx, other)
	require.NoError(t, err)
	assert.Equal(ReasonUnsupportedPlatform, out.Reason)

	assert.Equal(0, mock.DMCount())
	entries, err := eng.Store.ListLog(ctx, TestCreatorID, 10)
	require.NoError(t, err)
	assert.Empty(entries)

	bad := FixtureCommentEvent("", "u1", "price")
	_, err = eng.ProcessCommentTrigger(ctx, bad)
	assert.Error(err)
}

func TestReserveSlotInactiveRule(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture(t)
	rule := createRule(t, eng, "price", nil)

	gs := eng.Store.(*store.GormStore)
	require.NoError(t, gs.DB().Model(&store.AutomationRule{}).Where("id = ?", rule.ID).Update("is_active", false).Error)

	reason, err := eng.reserveSlot(ctx, rule.ID)
	assert.NoError(err)
	assert.Equal(ReasonRuleInactive, reason)

	reason, err = eng.reserveSlot(ctx, 9999)
	assert.NoError(err)
	assert.Equal(ReasonRuleInactive, reason)
}
