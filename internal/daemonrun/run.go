// Package daemonrun hosts the tillpoint daemon process: logging, IPC, and
// the long-lived daemon, torn down together on SIGINT or SIGTERM.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"tillpoint/internal/config"
	"tillpoint/internal/daemon"
	"tillpoint/internal/devices"
	"tillpoint/internal/ipc"
	"tillpoint/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daemon and blocks until cmdCtx ends or a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tillpoint-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", filepath.Base(cfg.LogPath()), err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, "tillpoint-*.log", logPath, cfg.Logging.RetentionDays)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logDeviceSnapshot(signalCtx, logger, d)

	<-signalCtx.Done()
	logger.Info("tillpoint daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// PIDPath is where a running daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "tillpoint.pid")
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDeviceSnapshot records what the daemon saw at startup so support can
// tell a missing scale from a misconfigured one.
func logDeviceSnapshot(ctx context.Context, logger *slog.Logger, d *daemon.Daemon) {
	status := d.ScaleStatus()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "device_snapshot"),
		logging.Bool("scale_configured", status.Configured),
		logging.Bool("scale_connected", status.Connected),
		logging.Bool("hotplug_active", d.Status().HotplugActive),
	}
	if status.Device != nil {
		attrs = append(attrs, logging.String(logging.FieldDevice, status.Device.ID()))
	}
	if list, err := d.SerialDevices(ctx); err == nil {
		attrs = append(attrs, logging.Int("serial_devices", len(list)))
		if status.Device != nil {
			attrs = append(attrs, logging.Int("matching_ports", countMatches(list, *status.Device)))
		}
	} else {
		attrs = append(attrs, logging.String("serial_devices_error", err.Error()))
	}
	logger.Info("device snapshot", logging.Args(attrs...)...)
}

func countMatches(list []devices.SerialDevice, desc devices.Descriptor) int {
	n := 0
	for _, dev := range list {
		if desc.Matches(dev.VendorID, dev.ProductID) {
			n++
		}
	}
	return n
}
