package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/xwalk"
	"github.com/zoobzio/xwalk/internal/config"
	"github.com/zoobzio/xwalk/internal/store"
)

func newRunCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise the analysis engine until interrupted",
		Long: `Launches the configured engine, restarts it after every exit, and stores
an alert for each dangerous detection it reports. Stops on SIGINT/SIGTERM.

With --watch, edits to the restart section of the config file are applied
without restarting xwalk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSupervisor(cmd.Context(), xwalk.ExecLauncher{}, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the restart policy when the config file changes")
	return cmd
}

func (a *app) runSupervisor(ctx context.Context, launcher xwalk.Launcher, watch bool) error {
	sink, err := store.Open(ctx, a.cfg.Store.Path, a.logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	router := xwalk.NewRouter(sink, a.cfg.Alerts, nil, a.logger.Named("router"))
	sup := xwalk.NewSupervisor(launcher, router, xwalk.SupervisorConfig{
		Command:      a.cfg.Command(),
		Policy:       a.cfg.Restart,
		MaxLineBytes: a.cfg.Engine.MaxLineBytes,
		Logger:       a.logger.Named("supervisor"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	if watch {
		g.Go(func() error {
			return config.Watch(gctx, a.configPath, a.logger.Named("config"), func(cfg *config.Config) {
				if err := sup.SetPolicy(cfg.Restart); err != nil {
					a.logger.Warn("restart policy rejected", zap.Error(err))
				}
			})
		})
	}

	err = g.Wait()
	a.logger.Info("supervisor finished",
		zap.Int("restarts", sup.Restarts()),
		zap.Int("alerts", sup.Alerts()),
		zap.Int("alerts_lost", sup.Lost()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
