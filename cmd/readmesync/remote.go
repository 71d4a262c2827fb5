package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/openmined/readmesync/internal/config"
	"github.com/openmined/readmesync/internal/controlplane"
	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <item-id>",
		Short: "Tell the running daemon an item has started installing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := daemonClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if resp.Started {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: sync started\n", green("OK"), resp.Item)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: sync already running\n", yellow("OK"), resp.Item)
			}
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := daemonClient(cmd)
			if err != nil {
				return err
			}

			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s readmesync %s, up %s (since %s)\n", green("RUNNING"), st.Version, st.Uptime, humanize.Time(st.Started))
			if len(st.InFlight) == 0 {
				fmt.Fprintln(out, "in flight: none")
			} else {
				fmt.Fprintf(out, "in flight: %s\n", cyan(strings.Join(st.InFlight, ", ")))
			}
			if p := st.Process; p != nil {
				fmt.Fprintf(out, "pid %d, cpu %.1f%%, rss %s, %d goroutines\n", p.PID, p.CPUPercent, p.RSSHuman, p.NumGoroutines)
			}
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("http-addr", "", "control plane address of the running daemon (default from config)")
	cmd.Flags().String("http-token", "", "bearer token for the control plane")
}

func daemonClient(cmd *cobra.Command) (*controlplane.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	if err := setupLogging(cfg, false); err != nil {
		return nil, err
	}
	return controlplane.NewClient(dialAddr(cfg), cfg.HTTP.Token), nil
}

// dialAddr turns a listen address into one a local client can reach.
func dialAddr(cfg *config.Config) string {
	addr := cfg.HTTP.Addr
	if strings.Contains(addr, "://") {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
