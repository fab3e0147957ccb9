package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creatorkit/creatorkit/autodm/cachestore"
	"github.com/creatorkit/creatorkit/autodm/countstore"
	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultCallTimeout        = 10 * time.Second
	DefaultAccountDMQuotaHour = 200
	DefaultFollowGateHours    = 24
	DefaultSweepBatchSize     = 500
	DefaultSweepConcurrency   = 8
	DefaultSweepLease         = 2 * time.Minute
)

type EngineConfig struct {
	// bound on every individual platform API call
	CallTimeout time.Duration
	// per platform account; zero means DefaultAccountDMQuotaHour, negative disables the breaker
	AccountDMQuotaHour int
	// used when a follow-gated rule has no positive check duration
	DefaultFollowGateHours int
	SweepBatchSize         int
	SweepConcurrency       int
	// how long a sweeper owns a pending request it is working on
	SweepLease time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.AccountDMQuotaHour == 0 {
		c.AccountDMQuotaHour = DefaultAccountDMQuotaHour
	}
	if c.DefaultFollowGateHours <= 0 {
		c.DefaultFollowGateHours = DefaultFollowGateHours
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = DefaultSweepBatchSize
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = DefaultSweepConcurrency
	}
	if c.SweepLease <= 0 {
		c.SweepLease = DefaultSweepLease
	}
	return c
}

// Decision and delivery pipeline for comment events, plus the follow-gate reconciliation sweep.
//
// Store and Platforms are required. Counters, Cache and Notifier are optional: without Counters
// there is no account-level circuit breaker, and without Cache every follow check hits the
// platform.
type Engine struct {
	Logger    *slog.Logger
	Store     store.Store
	Platforms *platform.Registry
	Counters  countstore.CountStore
	Cache     cachestore.CacheStore
	Notifier  notify.Notifier
	Config    EngineConfig
	// defaults to time.Now
	Now func() time.Time
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now().UTC()
	}
	return time.Now().UTC()
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger == nil {
		return slog.Default()
	}
	return eng.Logger
}

func (eng *Engine) config() EngineConfig {
	return eng.Config.withDefaults()
}

// Runs one comment event through matching, quota and dedup policy, the follow gate, and delivery.
//
// Every policy or delivery result is returned as an Outcome with a nil error. An error means a
// persistence failure (or a panic), and the event is safe to redeliver.
func (eng *Engine) ProcessCommentTrigger(ctx context.Context, evt CommentEvent) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ProcessCommentTrigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("creator", evt.CreatorID),
		attribute.String("platform", evt.Platform),
		attribute.String("comment", evt.CommentID),
	)

	logger := eng.logger().With("creator", evt.CreatorID, "platform", evt.Platform, "comment", evt.CommentID, "subject", evt.SubjectUserID)

	// similar to an HTTP server, we want to recover any panics from processing
	defer func() {
		if r := recover(); r != nil {
			logger.Error("autodm event execution exception", "err", r)
			out = nil
			err = fmt.Errorf("processing comment %s: panic: %v", evt.CommentID, r)
		}
		eventProcessDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			eventErrorCount.Inc()
			span.SetStatus(codes.Error, err.Error())
			return
		}
		eventProcessCount.WithLabelValues(string(out.Status), out.Reason).Inc()
		span.SetAttributes(attribute.String("status", string(out.Status)), attribute.String("reason", out.Reason))
		out.CanonicalLogLine(logger)
	}()

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return eng.processComment(ctx, logger, &evt)
}

func (eng *Engine) processComment(ctx context.Context, logger *slog.Logger, evt *CommentEvent) (*Outcome, error) {
	// the creator's own replies come back as comments; answering them would loop
	if evt.SubjectUserID == evt.AccountID {
		return &Outcome{Status: StatusIgnored, Reason: ReasonIgnoredSelf}, nil
	}

	p, err := eng.Platforms.Get(evt.Platform)
	if err != nil {
		logger.Warn("dropping comment for unsupported platform")
		return &Outcome{Status: StatusIgnored, Reason: ReasonUnsupportedPlatform}, nil
	}

	if evt.AccessToken != "" {
		err := eng.Store.UpsertCreatorAccount(ctx, &store.CreatorAccount{
			CreatorID:   evt.CreatorID,
			Platform:    evt.Platform,
			AccountID:   evt.AccountID,
			AccessToken: evt.AccessToken,
		})
		if err != nil {
			return nil, err
		}
	}

	rules, err := eng.Store.ListActiveRules(ctx, evt.CreatorID, evt.Platform)
	if err != nil {
		return nil, err
	}
	rule := matchRule(rules, evt.PostID, evt.CommentText)
	if rule == nil {
		out := &Outcome{Status: StatusNoMatch, Reason: ReasonNoMatch}
		if err := eng.appendLog(ctx, commentLogEntry(evt, nil, ""), out); err != nil {
			return nil, err
		}
		return out, nil
	}
	logger = logger.With("rule", rule.ID)

	reason, err := eng.checkGuard(ctx, rule, evt.SubjectUserID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		out := &Outcome{Status: StatusBlocked, Reason: reason, RuleID: ruleRef(rule.ID), MatchedKeyword: rule.Keyword}
		if err := eng.appendLog(ctx, commentLogEntry(evt, rule, ""), out); err != nil {
			return nil, err
		}
		return out, nil
	}

	creds := platform.Credentials{AccountID: evt.AccountID, AccessToken: evt.AccessToken}
	gated := rule.FollowGate.Enabled
	if gated {
		if !eng.isFollowing(ctx, logger, p, creds, evt.SubjectUserID, true) {
			return eng.openFollowGate(ctx, logger, p, creds, rule, evt)
		}
		logger.Debug("follow gate passed")
	}

	return eng.deliverComment(ctx, logger, p, creds, rule, evt, gated)
}

// Publishes to the creator's channel; failures are only logged.
func (eng *Engine) notify(ctx context.Context, logger *slog.Logger, creatorID string, evt notify.Event) {
	if eng.Notifier == nil {
		return
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = eng.now()
	}
	if err := eng.Notifier.Publish(ctx, notify.ChannelKey(creatorID), evt); err != nil {
		logger.Warn("failed to publish notification", "type", evt.Type, "err", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
