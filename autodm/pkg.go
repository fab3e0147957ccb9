package autodm

import (
	"github.com/creatorkit/creatorkit/autodm/countstore"
	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
)

type Engine = engine.Engine
type EngineConfig = engine.EngineConfig
type CommentEvent = engine.CommentEvent
type Outcome = engine.Outcome
type SweepResult = engine.SweepResult
type Sweeper = engine.Sweeper

type AutomationRule = store.AutomationRule
type FollowGate = store.FollowGate
type MatchType = store.MatchType

type Platform = platform.Platform
type Credentials = platform.Credentials

type Notifier = notify.Notifier
type NotifyEvent = notify.Event

var (
	MatchExact      = store.MatchExact
	MatchContains   = store.MatchContains
	MatchStartsWith = store.MatchStartsWith

	PeriodTotal = countstore.PeriodTotal
	PeriodDay   = countstore.PeriodDay
	PeriodHour  = countstore.PeriodHour
)
