package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sertus/internal/config"
	"github.com/hamed0406/sertus/internal/logging"
	"github.com/hamed0406/sertus/internal/metrics"
	"github.com/hamed0406/sertus/internal/notify"
	"github.com/hamed0406/sertus/internal/scheduler"
)

func newDaemonCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run all configured flows and export their metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.env.ConfigPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Options{
				Dir:     c.env.LogDir,
				Level:   c.env.LogLevel,
				Console: c.env.LogConsole,
			})
			if err != nil {
				return err
			}
			defer logger.Sync()

			d, err := newDaemon(logger, cfg)
			if err != nil {
				logger.Error("daemon_config_error", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info("daemon_started",
				zap.String("config", c.env.ConfigPath),
				zap.String("sink", cfg.Metrics.Mode()),
				zap.Int("flows", len(d.flows)),
			)
			err = d.run(ctx)
			logger.Info("daemon_stopped", zap.Error(err))
			return err
		},
	}
}

type daemon struct {
	logger   *zap.Logger
	registry *metrics.Registry
	sink     func(context.Context) error
	flows    []*scheduler.Flow
}

func newDaemon(logger *zap.Logger, cfg *config.Config) (*daemon, error) {
	d := &daemon{logger: logger}

	switch cfg.Metrics.Mode() {
	case config.ModePushGateway:
		pg := cfg.Metrics.PushGateway
		idle := pg.IdleTimeout.Std()
		if idle == 0 {
			idle = metrics.DefaultIdleTimeout
		}
		d.registry = metrics.NewRegistry(cfg.Metrics.Namespace, idle)
		d.sink = metrics.NewPusher(logger, d.registry, pg.URL, pg.Job, pg.Grouping, pg.Interval.Std()).Run
	default:
		d.registry = metrics.NewRegistry(cfg.Metrics.Namespace, 0)
		srv := metrics.NewServer(logger, d.registry, "", "")
		if s := cfg.Metrics.Server; s != nil {
			srv = metrics.NewServer(logger, d.registry, s.Addr, s.Path)
			srv.Tokens = s.Tokens
			srv.ScrapeRPM = s.ScrapeRPM
		}
		d.sink = srv.Run
	}
	d.registry.Logger = logger

	alerter := newAlerter(logger, cfg.Notify)
	for _, fc := range cfg.Flows {
		tasks := make([]scheduler.Task, 0, len(fc.Tasks))
		for _, tc := range fc.Tasks {
			chk, err := tc.Checker.Checker()
			if err != nil {
				return nil, fmt.Errorf("flow %q task %q: %w", fc.Name, tc.Name, err)
			}
			t := scheduler.NewTask(tc.Name, chk)
			t.Timeout = tc.Timeout.Std()
			tasks = append(tasks, t)
		}
		f := scheduler.NewFlow(logger, d.registry, fc.Name, fc.Interval.Std(), tasks)
		f.Alerter = alerter
		d.flows = append(d.flows, f)
	}
	return d, nil
}

// newAlerter returns nil when no notifier is configured.
func newAlerter(logger *zap.Logger, n config.Notify) *scheduler.Alerter {
	var targets notify.Multi
	if s := notify.NewSlack(n.SlackWebhook); s != nil {
		targets = append(targets, s)
	}
	if targets.Len() == 0 {
		return nil
	}
	return scheduler.NewAlerter(logger, targets, scheduler.AlerterConfig{
		AlertOnRecovery: n.AlertOnRecovery,
		Cooldown:        n.Cooldown.Std(),
	})
}

// run blocks until ctx is cancelled or the sink fails. Flows never fail on
// their own.
func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sink(gctx) })
	for _, f := range d.flows {
		f := f
		g.Go(func() error {
			f.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
