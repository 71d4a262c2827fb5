package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Print the recorded readme of an item",
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

			e, err := a.Attribute(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("item %q: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if raw {
				_, err := fmt.Fprint(out, e.Value.Text)
				return err
			}
			fmt.Fprintf(out, "Item:    %s\n", cyan(e.Item.ID))
			fmt.Fprintf(out, "Status:  %s\n", e.Item.Status)
			fmt.Fprintf(out, "%s\n", e.Value.Display())
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print only the recorded text")
	return cmd
}
