package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/ipc"
)

func newScaleCommand(ctx *commandContext) *cobra.Command {
	scaleCmd := &cobra.Command{
		Use:   "scale",
		Short: "Inspect and control the scale session",
	}
	scaleCmd.AddCommand(newScaleStatusCommand(ctx))
	scaleCmd.AddCommand(newScaleReadCommand(ctx))
	scaleCmd.AddCommand(newScaleWatchCommand(ctx))
	scaleCmd.AddCommand(newScaleReconnectCommand(ctx))
	return scaleCmd
}

func newScaleStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scale session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				status, err := client.ScaleStatus(rpcCtx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				for _, line := range scaleStatusLines(*status, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	return cmd
}

func newScaleReadCommand(ctx *commandContext) *cobra.Command {
	var asOfFlag string
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the current weight",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := api.ParseTime(strings.TrimSpace(asOfFlag))
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				reading, err := client.ScaleRead(rpcCtx, asOf)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", reading.Weight)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Reading instant (RFC3339 or unix milliseconds); default now")
	return cmd
}

func newScaleWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print connectivity and weight changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			client, err := ctx.dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			runCtx := commandCtx(cmd)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var last watchState
			first := true
			for {
				status, err := client.ScaleStatus(runCtx)
				if err != nil {
					if runCtx.Err() != nil {
						return nil
					}
					return err
				}
				next := watchStateOf(*status)
				if first || next != last {
					fmt.Fprintf(out, "%s %s\n", time.Now().Format("15:04:05"), next.describe())
					last, first = next, false
				}
				select {
				case <-runCtx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "Polling interval")
	return cmd
}

type watchState struct {
	connected bool
	hasWeight bool
	weight    float64
}

func watchStateOf(status api.ScaleStatus) watchState {
	state := watchState{connected: status.Connected}
	if status.Weight != nil {
		state.hasWeight = true
		state.weight = *status.Weight
	}
	return state
}

func (w watchState) describe() string {
	if !w.connected {
		return "disconnected"
	}
	if !w.hasWeight {
		return "connected, no reading yet"
	}
	return fmt.Sprintf("connected, %.2f kg", w.weight)
}

func newScaleReconnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Close and reopen the configured scale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				status, err := client.ScaleReconnect(rpcCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scale connected on %s\n", status.Port)
				return nil
			})
		},
	}
}
