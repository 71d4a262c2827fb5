package main

import (
	"fmt"

	"github.com/openmined/readmesync/internal/config"
	"github.com/openmined/readmesync/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path, _ := cmd.Flags().GetString("config")
			path, err := utils.ResolvePath(path)
			if err != nil {
				return err
			}

			if existing, err := config.LoadFromFile(path); err == nil && !force {
				fmt.Fprintln(out, "readmesync already initialized")
				printConfig(cmd, existing)
				return nil
			}

			cfg := config.Default()
			cfg.Path = path
			cfg.InstallRoot, _ = cmd.Flags().GetString("install-root")
			cfg.StateDir, _ = cmd.Flags().GetString("state-dir")
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w (pass --install-root)", err)
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintln(out, "readmesync initialized")
			printConfig(cmd, cfg)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config Path:  %s\n", green(cfg.Path))
	fmt.Fprintf(out, "Install Root: %s\n", cyan(cfg.InstallRoot))
	fmt.Fprintf(out, "State Dir:    %s\n", cyan(cfg.StateDir))
	fmt.Fprintf(out, "Pattern:      %s\n", cyan(cfg.Pattern))
}
