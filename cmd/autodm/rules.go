package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/creatorkit/creatorkit/autodm/store"

	cli "github.com/urfave/cli/v2"
)

var rulesCmd = &cli.Command{
	Name:  "rules",
	Usage: "manage automation rules and inspect the delivery log",
	Subcommands: []*cli.Command{
		rulesSeedCmd,
		rulesLogCmd,
	},
}

// On-disk format for seeding rules in development and tests.
type ruleSeed struct {
	CreatorID     string   `json:"creatorId"`
	Platform      string   `json:"platform"`
	Scope         string   `json:"scope"`
	Keyword       string   `json:"keyword"`
	CaseSensitive bool     `json:"caseSensitive"`
	MatchType     string   `json:"matchType"`
	DMMessage     string   `json:"dmMessage"`
	Link          string   `json:"link"`
	ReplyVariants []string `json:"replyVariants"`
	DailyLimit    int      `json:"dailyLimit"`
	DMOncePerUser bool     `json:"dmOncePerUser"`
	IsActive      *bool    `json:"isActive"`
	FollowGate    *struct {
		Enabled            bool   `json:"enabled"`
		ReplyToNonFollower string `json:"replyToNonFollower"`
		DMAfterFollow      string `json:"dmAfterFollow"`
		CheckDurationHours int    `json:"checkDurationHours"`
	} `json:"followGate"`
}

func (rs *ruleSeed) toRule() (*store.AutomationRule, error) {
	if rs.CreatorID == "" || rs.Keyword == "" {
		return nil, fmt.Errorf("rule requires creatorId and keyword")
	}
	rule := &store.AutomationRule{
		CreatorID:     rs.CreatorID,
		Platform:      rs.Platform,
		Scope:         rs.Scope,
		Keyword:       rs.Keyword,
		CaseSensitive: rs.CaseSensitive,
		MatchType:     store.MatchType(rs.MatchType),
		DMMessage:     rs.DMMessage,
		Link:          rs.Link,
		ReplyVariants: rs.ReplyVariants,
		DailyLimit:    rs.DailyLimit,
		DMOncePerUser: rs.DMOncePerUser,
		IsActive:      true,
	}
	if rule.Platform == "" {
		rule.Platform = "instagram"
	}
	switch rule.MatchType {
	case "":
		rule.MatchType = store.MatchContains
	case store.MatchExact, store.MatchContains, store.MatchStartsWith:
	default:
		return nil, fmt.Errorf("unknown matchType: %q", rs.MatchType)
	}
	if rs.IsActive != nil {
		rule.IsActive = *rs.IsActive
	}
	if rs.FollowGate != nil {
		rule.FollowGate = store.FollowGate{
			Enabled:            rs.FollowGate.Enabled,
			ReplyToNonFollower: rs.FollowGate.ReplyToNonFollower,
			DMAfterFollow:      rs.FollowGate.DMAfterFollow,
			CheckDurationHours: rs.FollowGate.CheckDurationHours,
		}
	}
	return rule, nil
}

var rulesSeedCmd = &cli.Command{
	Name:  "seed",
	Usage: "create rules from a JSON file (an array of rule objects)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		b, err := os.ReadFile(cctx.String("file"))
		if err != nil {
			return err
		}
		var seeds []ruleSeed
		if err := json.Unmarshal(b, &seeds); err != nil {
			return fmt.Errorf("parsing rule file: %w", err)
		}

		st, err := openStore(cctx)
		if err != nil {
			return err
		}
		for i := range seeds {
			rule, err := seeds[i].toRule()
			if err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
			if err := st.CreateRule(cctx.Context, rule); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
			fmt.Printf("created rule %d (creator=%s keyword=%q)\n", rule.ID, rule.CreatorID, rule.Keyword)
		}
		return nil
	},
}

var rulesLogCmd = &cli.Command{
	Name:      "log",
	Usage:     "print recent delivery log entries for a creator, as JSON lines",
	ArgsUsage: "<creatorId>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Value: 50,
		},
	},
	Action: func(cctx *cli.Context) error {
		creatorID := cctx.Args().First()
		if creatorID == "" {
			return fmt.Errorf("need to provide creatorId as an argument")
		}
		st, err := openStore(cctx)
		if err != nil {
			return err
		}
		entries, err := st.ListLog(cctx.Context, creatorID, cctx.Int("limit"))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}
