package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tillpoint/internal/devices"
	"tillpoint/internal/preflight"
	"tillpoint/internal/settings"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the API address, and the selected scale port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var scale *devices.Descriptor
			if prefs, err := settings.Open(cfg.SettingsPath()); err == nil {
				if desc, ok := prefs.ScaleDevice(); ok {
					scale = &desc
				}
			}

			results := preflight.RunAll(commandCtx(cmd), cfg, devices.NewDirectory(nil), scale)
			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderPreflight(results))
			}
			if preflight.Failed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}

func renderPreflight(results []preflight.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "ok"
		if !r.Passed {
			state = "FAIL"
		}
		rows = append(rows, []string{r.Name, state, r.Detail})
	}
	return renderTable([]string{"Check", "Result", "Detail"}, rows, nil)
}
