// Period counters backing the account-level circuit breaker.
//
// Counts are kept per (name, value) and bucketed by UTC hour and UTC day, plus an all-time total.
// The in-memory implementation is for tests and single-process deployments; the redis
// implementation is shared by every daemon talking to the same redis.
package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/creatorkit/creatorkit/util"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	// Increments the hour, day and total buckets together.
	Increment(ctx context.Context, name, val string) error
}

func periodBucket(name, val, period string, now time.Time) string {
	now = now.UTC()
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, val, util.DayKey(now))
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, val, util.HourKey(now))
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}
