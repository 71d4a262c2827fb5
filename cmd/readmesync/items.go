package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newItemsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List tracked items and their recorded readme",
		Args:  cobra.NoArgs,
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

			entries, err := a.Entries(cmd.Context(), all)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ITEM\tSTATUS\tREADME\tUPDATED")
			for _, e := range entries {
				readme := e.Value.String()
				if e.Value.IsNotFound() {
					readme = yellow(readme)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Item.ID, e.Item.Status, readme, humanize.Time(e.Item.UpdatedAt))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include installing and disabled items")
	return cmd
}
