package countstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type MemCountStore struct {
	// defaults to time.Now; tests move the clock across bucket boundaries
	Now func() time.Time

	counts *xsync.MapOf[string, *xsync.Counter]
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Now:    time.Now,
		counts: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	c, ok := s.counts.Load(periodBucket(name, val, period, s.now()))
	if !ok {
		return 0, nil
	}
	return int(c.Value()), nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	now := s.now()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		c, _ := s.counts.LoadOrCompute(periodBucket(name, val, p, now), xsync.NewCounter)
		c.Inc()
	}
	return nil
}
