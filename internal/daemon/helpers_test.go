package daemon

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"tillpoint/internal/config"
	"tillpoint/internal/devices"
	"tillpoint/internal/lifecycle"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
	"tillpoint/internal/testsupport"
)

var prix = devices.Descriptor{
	Name:      "Prix 4 Uno",
	VendorID:  0x0403,
	ProductID: 0x6001,
	BaudRate:  9600,
	DataBits:  8,
}

type namedResolver struct{}

func (namedResolver) Resolve(context.Context, uint16, uint16) (devices.USBStrings, error) {
	return devices.USBStrings{Manufacturer: "Toledo", Product: "Prix 4 Uno"}, nil
}

type pipeOpener struct {
	mu      sync.Mutex
	calls   atomic.Int32
	writers []*io.PipeWriter
}

func (o *pipeOpener) Open(string, *serial.Mode) (scale.Port, error) {
	o.calls.Add(1)
	pr, pw := io.Pipe()
	o.mu.Lock()
	o.writers = append(o.writers, pw)
	o.mu.Unlock()
	return pr, nil
}

func (o *pipeOpener) write(t *testing.T, data string) {
	t.Helper()
	o.mu.Lock()
	if len(o.writers) == 0 {
		o.mu.Unlock()
		t.Fatal("no port opened")
	}
	w := o.writers[len(o.writers)-1]
	o.mu.Unlock()
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatalf("write to port: %v", err)
	}
}

type quietSource struct {
	running atomic.Bool
}

func (s *quietSource) Start(context.Context, func(lifecycle.HotplugEvent)) error {
	s.running.Store(true)
	return nil
}

func (s *quietSource) Stop() { s.running.Store(false) }

func (s *quietSource) Running() bool { return s.running.Load() }

type harness struct {
	cfg    *config.Config
	daemon *Daemon
	opener *pipeOpener
}

func newHarness(t *testing.T, withScale bool, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if withScale {
		prefs := testsupport.MustOpenSettings(t, cfg)
		desc := prix
		if err := prefs.SetScaleDevice(&desc); err != nil {
			t.Fatalf("configure scale: %v", err)
		}
	}

	opener := &pipeOpener{}
	ports := devices.PortListerFunc(func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		}, nil
	})
	d, err := New(cfg, logging.NewNop(),
		WithOpener(opener),
		WithHotplugSource(&quietSource{}),
		WithDirectoryOptions(
			devices.WithPortLister(ports),
			devices.WithDescriptorResolver(namedResolver{}),
			devices.WithAccessCheck(func(string) bool { return true }),
		),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &harness{cfg: cfg, daemon: d, opener: opener}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
