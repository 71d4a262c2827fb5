package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/readmesync/internal/agent"
	"github.com/openmined/readmesync/internal/controlplane"
	"github.com/openmined/readmesync/internal/version"
	"github.com/openmined/readmesync/internal/workspace"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Watch for installs, publish readmes and serve the control plane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := setupLogging(cfg, true); err != nil {
				return err
			}
			slog.Info("readmesync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			slog.Info("daemon using config", "path", cfg.Path)

			ws, err := workspace.New(cfg.InstallRoot, cfg.StateDir)
			if err != nil {
				return err
			}
			if err := ws.Setup(); err != nil {
				return err
			}
			defer ws.Unlock()

			rt, err := newRuntime(cfg, installRootPinned(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []agent.Option{}
			if cfg.WatchRoot {
				opts = append(opts, agent.WithRootWatch(rt.watcher, rt.root))
			}
			a := rt.agent(opts...)
			a.AddService(controlplane.New(&controlplane.Config{
				Addr:      cfg.HTTP.Addr,
				Token:     cfg.HTTP.Token,
				RateLimit: cfg.HTTP.RateLimit,
			}, a))

			defer slog.Info("Bye!")
			if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringP("http-addr", "a", "", "address to bind the control plane (default from config)")
	cmd.Flags().StringP("http-token", "t", "", "bearer token for the control plane")
	return cmd
}
