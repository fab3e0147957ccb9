package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type SweepResult struct {
	Checked      int `json:"checked"`
	Fulfilled    int `json:"fulfilled"`
	Expired      int `json:"expired"`
	StillPending int `json:"stillPending"`
	Failed       int `json:"failed"`
}

type sweepTally struct {
	checked      atomic.Int64
	fulfilled    atomic.Int64
	stillPending atomic.Int64
	failed       atomic.Int64
}

// One pass over the follow-gate backlog: expire what has run out of time, then re-check every
// other pending request and deliver to those who have followed since.
//
// Per-request problems are logged and counted in the result. Only a failure to expire or list
// requests is returned as an error.
func (eng *Engine) RunReconciliationSweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RunReconciliationSweep")
	defer span.End()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	cfg := eng.config()
	logger := eng.logger().With("system", "sweeper")
	now := eng.now()

	expired, err := eng.Store.ExpirePendingFollows(ctx, now)
	if err != nil {
		return nil, err
	}
	followGateExpired.Add(float64(len(expired)))
	sweepEntryCount.WithLabelValues("expired").Add(float64(len(expired)))
	for i := range expired {
		eng.logExpired(ctx, logger, &expired[i])
	}

	due, err := eng.Store.ListDuePendingFollows(ctx, now, cfg.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	var tally sweepTally
	var g errgroup.Group
	g.SetLimit(cfg.SweepConcurrency)
	for i := range due {
		req := due[i]
		g.Go(func() error {
			eng.sweepEntry(ctx, logger.With("pending", req.ID, "rule", req.RuleID, "subject", req.SubjectUserID), &req, &tally)
			return nil
		})
	}
	// entries never return errors
	_ = g.Wait()

	res := &SweepResult{
		Checked:      int(tally.checked.Load()),
		Fulfilled:    int(tally.fulfilled.Load()),
		Expired:      len(expired),
		StillPending: int(tally.stillPending.Load()),
		Failed:       int(tally.failed.Load()),
	}
	span.SetAttributes(
		attribute.Int("checked", res.Checked),
		attribute.Int("fulfilled", res.Fulfilled),
		attribute.Int("expired", res.Expired),
	)
	logger.Info("reconciliation sweep complete", "checked", res.Checked, "fulfilled", res.Fulfilled, "expired", res.Expired, "stillPending", res.StillPending, "failed", res.Failed, "duration", time.Since(start))
	return res, nil
}

func (eng *Engine) sweepEntry(ctx context.Context, logger *slog.Logger, req *store.PendingFollowRequest, tally *sweepTally) {
	ctx, span := tracer.Start(ctx, "reconcilePending", trace.WithAttributes(
		attribute.Int64("pending", int64(req.ID)),
		attribute.Int64("rule", int64(req.RuleID)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("autodm sweep exception", "err", r)
			tally.failed.Add(1)
		}
	}()

	result, err := eng.reconcilePending(ctx, logger, req)
	if err != nil {
		logger.Error("failed to reconcile pending follow request", "err", err)
		result = "failed"
	}
	sweepEntryCount.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("result", result))
	switch result {
	case "skipped":
		return
	case "fulfilled":
		tally.fulfilled.Add(1)
	case "pending":
		tally.stillPending.Add(1)
	default:
		tally.failed.Add(1)
	}
	tally.checked.Add(1)
}

// The request is already expired in the store; this only records it. Failures are logged, since
// the expiry itself can't be retried.
func (eng *Engine) logExpired(ctx context.Context, logger *slog.Logger, req *store.PendingFollowRequest) {
	out := &Outcome{
		Status:         StatusBlocked,
		Reason:         ReasonFollowGateExpired,
		RuleID:         ruleRef(req.RuleID),
		MatchedKeyword: req.MatchedKeyword,
		FollowGateUsed: true,
	}
	if err := eng.appendLog(ctx, pendingLogEntry(req), out); err != nil {
		logger.Error("failed to record expired follow gate", "pending", req.ID, "err", err)
	}
}

// Returns one of "skipped" (another sweeper holds it), "pending", "fulfilled" or "failed".
func (eng *Engine) reconcilePending(ctx context.Context, logger *slog.Logger, req *store.PendingFollowRequest) (string, error) {
	cfg := eng.config()
	token := uuid.NewString()
	now := eng.now()
	claimed, err := eng.Store.ClaimPendingFollow(ctx, req.ID, token, now, now.Add(cfg.SweepLease))
	if err != nil {
		return "", err
	}
	if !claimed {
		return "skipped", nil
	}
	release := func(result string) (string, error) {
		if err := eng.Store.ReleasePendingFollow(ctx, req.ID, token); err != nil {
			return "", err
		}
		return result, nil
	}

	rule, err := eng.Store.GetRule(ctx, req.RuleID)
	if isNotFound(err) || (err == nil && !rule.IsActive) {
		// left to expire
		logger.Info("rule for pending follow request is no longer active")
		return release("pending")
	} else if err != nil {
		release("failed")
		return "", err
	}

	p, err := eng.Platforms.Get(req.Platform)
	if err != nil {
		logger.Warn("pending follow request for unsupported platform", "platform", req.Platform)
		return release("failed")
	}
	acct, err := eng.Store.GetCreatorAccount(ctx, req.Platform, req.AccountID)
	if err != nil {
		release("failed")
		return "", fmt.Errorf("loading credentials for %s/%s: %w", req.Platform, req.AccountID, err)
	}
	creds := platform.Credentials{AccountID: acct.AccountID, AccessToken: acct.AccessToken}

	if !eng.isFollowing(ctx, logger, p, creds, req.SubjectUserID, false) {
		return release("pending")
	}

	if rule.DMOncePerUser {
		sent, err := eng.Store.HasSentTo(ctx, rule.ID, req.SubjectUserID)
		if err != nil {
			release("failed")
			return "", err
		}
		if sent {
			// delivered through another comment since the gate opened
			logger.Info("subject already received this rule's DM, closing pending request")
			if _, err := eng.Store.FulfillPendingFollow(ctx, req.ID, token, eng.now()); err != nil {
				return "", err
			}
			return "fulfilled", nil
		}
	}

	if eng.accountCircuitOpen(ctx, logger, req.Platform, req.AccountID) {
		return release("pending")
	}

	if !eng.sendDM(ctx, logger, p, creds, req.SubjectUserID, req.PendingMessage, "follow_gate") {
		out := &Outcome{
			Status:         StatusFailed,
			Reason:         ReasonDMFailed,
			RuleID:         ruleRef(rule.ID),
			MatchedKeyword: req.MatchedKeyword,
			FollowGateUsed: true,
		}
		if err := eng.appendLog(ctx, pendingLogEntry(req), out); err != nil {
			release("failed")
			return "", err
		}
		eng.notifyDelivery(ctx, logger, req.CreatorID, req.SubjectUsername, rule, out)
		return release("failed")
	}

	// the gate already counted the trigger; the daily slot was never reserved on this path
	if err := eng.Store.RecordDelivery(ctx, rule.ID, eng.now(), store.DeliveryCounters{CountDailySlot: true}); err != nil {
		logger.Error("failed to record delivery counters", "err", err)
	}
	eng.countAccountDM(ctx, logger, req.Platform, req.AccountID)

	ok, err := eng.Store.FulfillPendingFollow(ctx, req.ID, token, eng.now())
	if err != nil {
		return "", err
	}
	if !ok {
		logger.Error("lost lease on pending follow request after sending DM")
	}

	out := &Outcome{
		Status:         StatusDelivered,
		RuleID:         ruleRef(rule.ID),
		MatchedKeyword: req.MatchedKeyword,
		DMSent:         true,
		FollowGateUsed: true,
	}
	if err := eng.appendLog(ctx, pendingLogEntry(req), out); err != nil {
		return "", err
	}
	eng.notifyDelivery(ctx, logger, req.CreatorID, req.SubjectUsername, rule, out)
	logger.Info("follow gate fulfilled")
	return "fulfilled", nil
}
