package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/openmined/readmesync/internal/validate"
	"github.com/spf13/cobra"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [item-id...]",
		Short: "Compare recorded readmes with the files on disk",
		Long:  "Validate the named items, or every installed and enabled item. Exits with status 1 on the first finding.",
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

			var report validate.Report
			if len(args) > 0 {
				err := rt.validator.ValidateIDs(cmd.Context(), args...)
				report = validate.Report{OK: err == nil, Checked: len(args), Err: err}
				if err != nil {
					report.Code, report.ItemID = validate.Classify(err)
					report.Checked = 0
				}
			} else {
				report = rt.validator.Run(cmd.Context())
			}

			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func printReport(w io.Writer, r validate.Report) error {
	if r.OK {
		fmt.Fprintf(w, "%s %d item(s) match their recorded readme\n", green("OK"), r.Checked)
		return nil
	}

	label := red("FAIL")
	if !validate.IsFinding(r.Err) {
		label = yellow("ERROR")
	}
	fmt.Fprintf(w, "%s %v\n", label, r.Err)
	return fmt.Errorf("%w: %w", errValidationFailed, r.Err)
}
