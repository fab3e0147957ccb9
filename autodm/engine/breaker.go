package engine

import (
	"context"
	"log/slog"

	"github.com/creatorkit/creatorkit/autodm/countstore"
)

const accountDMCounter = "autodm-account-dm"

func accountCounterKey(platformName, accountID string) string {
	return platformName + "/" + accountID
}

// Whether the platform account has exhausted its hourly DM budget. Counter read errors fail open.
func (eng *Engine) accountCircuitOpen(ctx context.Context, logger *slog.Logger, platformName, accountID string) bool {
	quota := eng.config().AccountDMQuotaHour
	if eng.Counters == nil || quota < 0 {
		return false
	}
	c, err := eng.Counters.GetCount(ctx, accountDMCounter, accountCounterKey(platformName, accountID), countstore.PeriodHour)
	if err != nil {
		logger.Warn("failed to read account DM counter", "err", err)
		return false
	}
	if c >= quota {
		circuitBreakCount.Inc()
		logger.Warn("CIRCUIT BREAKER: account hourly DM quota", "account", accountID, "count", c, "quota", quota)
		return true
	}
	return false
}

func (eng *Engine) countAccountDM(ctx context.Context, logger *slog.Logger, platformName, accountID string) {
	if eng.Counters == nil {
		return
	}
	if err := eng.Counters.Increment(ctx, accountDMCounter, accountCounterKey(platformName, accountID)); err != nil {
		logger.Warn("failed to increment account DM counter", "err", err)
	}
}
