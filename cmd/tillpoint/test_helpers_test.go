package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"tillpoint/internal/config"
	"tillpoint/internal/daemon"
	"tillpoint/internal/devices"
	"tillpoint/internal/ipc"
	"tillpoint/internal/lifecycle"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
	"tillpoint/internal/testsupport"
)

type idleSource struct{}

func (idleSource) Start(context.Context, func(lifecycle.HotplugEvent)) error { return nil }
func (idleSource) Stop()                                                   {}
func (idleSource) Running() bool                                           { return false }

type usbNames struct{}

func (usbNames) Resolve(context.Context, uint16, uint16) (devices.USBStrings, error) {
	return devices.USBStrings{Manufacturer: "Toledo", Product: "Prix 4 Uno"}, nil
}

type pipeOpener struct {
	mu     sync.Mutex
	writer *io.PipeWriter
}

func (o *pipeOpener) Open(string, *serial.Mode) (scale.Port, error) {
	pr, pw := io.Pipe()
	o.mu.Lock()
	o.writer = pw
	o.mu.Unlock()
	return pr, nil
}

func (o *pipeOpener) write(t *testing.T, data string) {
	t.Helper()
	o.mu.Lock()
	w := o.writer
	o.mu.Unlock()
	if w == nil {
		t.Fatal("no port opened")
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	opener     *pipeOpener
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithoutHTTP())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	opener := &pipeOpener{}
	d, err := daemon.New(cfg, logger,
		daemon.WithOpener(opener),
		daemon.WithHotplugSource(idleSource{}),
		daemon.WithDirectoryOptions(
			devices.WithPortLister(devices.PortListerFunc(func() ([]*enumerator.PortDetails, error) {
				return []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1"}}, nil
			})),
			devices.WithDescriptorResolver(usbNames{}),
			devices.WithAccessCheck(func(string) bool { return true }),
		),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		_ = d.Close()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		opener:     opener,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
