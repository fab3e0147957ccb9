package engine

import (
	"log/slog"
	"testing"
	"time"

	"github.com/creatorkit/creatorkit/autodm/cachestore"
	"github.com/creatorkit/creatorkit/autodm/countstore"
	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
)

const (
	TestCreatorID = "creator1"
	TestAccountID = "acct1"
	TestPlatform  = "instagram"
)

// Engine over a temp sqlite store, in-memory counters, cache and hub, and a mock "instagram"
// platform. The clock is fixed; tests move it by replacing eng.Now.
func EngineTestFixture(t *testing.T) (*Engine, *platform.MockPlatform) {
	t.Helper()
	mock := platform.NewMockPlatform()
	reg := platform.NewRegistry()
	reg.Register(TestPlatform, mock)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	eng := &Engine{
		Logger:    slog.Default(),
		Store:     store.TestStore(t),
		Platforms: reg,
		Counters:  countstore.NewMemCountStore(),
		Cache:     cachestore.NewMemCacheStore(100, time.Hour),
		Notifier:  notify.NewHub(nil),
		Config: EngineConfig{
			CallTimeout:      time.Second,
			SweepConcurrency: 4,
		},
		Now: func() time.Time { return now },
	}
	return eng, mock
}

func FixtureCommentEvent(commentID, subjectUserID, text string) CommentEvent {
	return CommentEvent{
		CreatorID:       TestCreatorID,
		Platform:        TestPlatform,
		AccountID:       TestAccountID,
		AccessToken:     "token1",
		PostID:          "post1",
		CommentID:       commentID,
		CommentText:     text,
		SubjectUserID:   subjectUserID,
		SubjectUsername: "user_" + subjectUserID,
	}
}
