package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "autodm",
		Usage:   "comment-triggered auto-reply and DM daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "sqlite or postgres database connection string",
			Value:   "sqlite://data/autodm/autodm.db",
			EnvVars: []string{"AUTODM_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"AUTODM_MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for shared counters, follow cache and dashboard pub/sub (eg, 'redis://localhost:6379/0'); in-process if empty",
			EnvVars: []string{"AUTODM_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"AUTODM_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"AUTODM_LOG_FMT"},
		},
		&cli.BoolFlag{
			Name:    "platform-mock",
			Usage:   "use an in-memory mock platform instead of the real messaging API (local development only)",
			EnvVars: []string{"AUTODM_PLATFORM_MOCK"},
		},
		&cli.StringFlag{
			Name:    "graph-host",
			Usage:   "base URL of the Graph-style messaging API, including version",
			Value:   "https://graph.instagram.com/v21.0",
			EnvVars: []string{"AUTODM_GRAPH_HOST"},
		},
		&cli.Float64Flag{
			Name:    "graph-rate-limit",
			Usage:   "max requests per second to the messaging API",
			Value:   20,
			EnvVars: []string{"AUTODM_GRAPH_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "call-timeout",
			Usage:   "timeout for each individual platform API call",
			Value:   engine.DefaultCallTimeout,
			EnvVars: []string{"AUTODM_CALL_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "account-dm-quota-hour",
			Usage:   "circuit breaker: max DMs per platform account per hour (-1 to disable)",
			Value:   engine.DefaultAccountDMQuotaHour,
			EnvVars: []string{"AUTODM_ACCOUNT_DM_QUOTA_HOUR"},
		},
		&cli.DurationFlag{
			Name:    "follow-cache-ttl",
			Usage:   "how long a confirmed follow is remembered",
			Value:   10 * time.Minute,
			EnvVars: []string{"AUTODM_FOLLOW_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "optional slack incoming webhook for delivery failures",
			EnvVars: []string{"AUTODM_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "sweep-batch-size",
			Value:   engine.DefaultSweepBatchSize,
			EnvVars: []string{"AUTODM_SWEEP_BATCH_SIZE"},
		},
		&cli.IntFlag{
			Name:    "sweep-concurrency",
			Value:   engine.DefaultSweepConcurrency,
			EnvVars: []string{"AUTODM_SWEEP_CONCURRENCY"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		sweepCmd,
		rulesCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the webhook server and follow-gate sweeper",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3300",
			EnvVars: []string{"AUTODM_BIND"},
		},
		&cli.StringFlag{
			Name:    "admin-password",
			Usage:   "password for admin routes and dashboard event streams (disabled if empty)",
			EnvVars: []string{"AUTODM_ADMIN_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "shared secret expected in the X-Autodm-Secret header of webhook requests (not checked if empty)",
			EnvVars: []string{"AUTODM_WEBHOOK_SECRET"},
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "how often to re-check pending follow-gate requests",
			Value:   engine.DefaultSweepInterval,
			EnvVars: []string{"AUTODM_SWEEP_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:    "disable-sweeper",
			Usage:   "don't run the follow-gate sweeper in this process",
			EnvVars: []string{"AUTODM_DISABLE_SWEEPER"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL("autodm")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		deps, err := setupDeps(cctx, logger)
		if err != nil {
			return err
		}
		defer deps.Close()

		if deps.RedisNotifier != nil {
			go func() {
				if err := deps.RedisNotifier.RunRelay(ctx, deps.Hub, logger); err != nil {
					logger.Error("dashboard event relay failed", "err", err)
				}
			}()
		}

		if !cctx.Bool("disable-sweeper") {
			sweeper := engine.Sweeper{
				Engine:   deps.Engine,
				Interval: cctx.Duration("sweep-interval"),
				Logger:   logger,
			}
			go sweeper.Run(ctx)
		}

		srv := NewServer(deps.Engine, deps.Hub, Config{
			Logger:        logger,
			Bind:          cctx.String("bind"),
			AdminPassword: cctx.String("admin-password"),
			WebhookSecret: cctx.String("webhook-secret"),
		})
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run autodm service: %w", err)
		}
		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "run a single follow-gate reconciliation sweep and exit",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		deps, err := setupDeps(cctx, logger)
		if err != nil {
			return err
		}
		defer deps.Close()

		res, err := deps.Engine.RunReconciliationSweep(cctx.Context)
		if err != nil {
			return err
		}
		b, err := json.Marshal(res)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}
