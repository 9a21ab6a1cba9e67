package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/daemonctl"
	"tillpoint/internal/daemonrun"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newServeCommand(ctx),
		newStartCommand(ctx),
		newStopCommand(ctx),
		newStatusCommand(ctx),
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(commandCtx(cmd), cfg, daemonrun.Options{
				LogLevel:    strings.TrimSpace(logLevel),
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(commandCtx(cmd), ctx.socketPath(), exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath(),
				LogLevel:   logLevel,
			}, 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level for the launched daemon")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pid, err := daemonctl.Stop(commandCtx(cmd), ctx.socketPath(), cfg, 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if pid == 0 {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			fmt.Fprintf(out, "Daemon stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and scale status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(commandCtx(cmd), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			renderDaemonStatus(out, *status, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	return cmd
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	if status.Running {
		hotplug := statusOK
		if !status.HotplugActive {
			hotplug = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Hotplug", hotplug, yesNo(status.HotplugActive), colorize))
	}
	for _, line := range scaleStatusLines(status.Scale, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Settings", statusInfo, status.SettingsPath, colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Events", statusInfo,
			fmt.Sprintf("%d published, %d dropped", status.EventsPublished, status.EventsDropped), colorize))
	}
}

func scaleStatusLines(scale api.ScaleStatus, colorize bool) []string {
	lines := make([]string, 0, 3)
	switch {
	case !scale.Configured:
		lines = append(lines, renderStatusLine("Scale", statusWarn, "no scale selected", colorize))
	case scale.Connected:
		lines = append(lines, renderStatusLine("Scale", statusOK, "connected on "+scale.Port, colorize))
	default:
		lines = append(lines, renderStatusLine("Scale", statusError, "disconnected ("+scale.State+")", colorize))
	}
	if scale.Device != nil {
		label := scale.Device.ID()
		if name := strings.TrimSpace(scale.Device.Name); name != "" {
			label = fmt.Sprintf("%s (%s)", name, label)
		}
		lines = append(lines, renderStatusLine("Device", statusInfo, label, colorize))
	}
	if scale.Weight != nil {
		lines = append(lines, renderStatusLine("Weight", statusInfo,
			fmt.Sprintf("%.2f kg at %s", *scale.Weight, scale.UpdatedAt), colorize))
	}
	return lines
}
