package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <item-id>",
		Short: "Run one content sync for an item in the foreground",
		Long: "Register the item, wait for its qualifying file and publish the content. Blocks until the file appears or the retry policy gives up.\n" +
			"With --scan-existing a file already present is published when the item has no recorded readme.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			if err := setupLogging(cfg, false); err != nil {
				return err
			}

			rt, err := newRuntime(cfg, installRootPinned(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			a := rt.agent()
			defer a.Close()

			res, err := a.Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: published %s (%s, %d attempt(s))\n",
				green("OK"), res.ItemID, cyan(res.File), humanize.Bytes(uint64(len(res.Content))), res.Attempts)
			return nil
		},
	}

	cmd.Flags().Bool("scan-existing", false, "publish a qualifying file already present when nothing is recorded")
	return cmd
}
