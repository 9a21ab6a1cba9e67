package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tillpoint/internal/devices"
	"tillpoint/internal/lifecycle"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
)

var scaleDesc = devices.Descriptor{Name: "Prix", VendorID: 0x0403, ProductID: 0x6001, BaudRate: 9600, DataBits: 8}

type staticSettings struct {
	desc devices.Descriptor
	ok   bool
}

func (s staticSettings) ScaleDevice() (devices.Descriptor, bool) { return s.desc, s.ok }

type fakeSession struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	failures int
	openErr  error
}

func (f *fakeSession) Open(context.Context, devices.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.failures > 0 {
		f.failures--
		return devices.ErrDeviceUnavailable
	}
	if f.openErr != nil {
		return f.openErr
	}
	if f.open {
		return scale.ErrSessionBusy
	}
	f.open = true
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.closes++
	}
	f.open = false
	return nil
}

func (f *fakeSession) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSession) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

func newController(settings lifecycle.ScaleSettings, session lifecycle.Session, attempts int) *lifecycle.Controller {
	return lifecycle.NewController(lifecycle.Options{
		Settings: settings,
		Session:  session,
		Logger:   logging.NewNop(),
		Attempts: attempts,
		Delay:    time.Millisecond,
	})
}

func TestAttachOpensConfiguredScale(t *testing.T) {
	session := &fakeSession{}
	c := newController(staticSettings{desc: scaleDesc, ok: true}, session, 3)

	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionAttach, VendorID: 0x0403, ProductID: 0x6001})
	if !session.IsOpen() {
		t.Fatal("expected session open after attach")
	}

	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionAttach, VendorID: 0x0403, ProductID: 0x6001})
	opens, closes := session.counts()
	if opens != 2 || closes != 1 {
		t.Fatalf("re-attach should close then reopen; opens=%d closes=%d", opens, closes)
	}
	if !session.IsOpen() {
		t.Fatal("expected session open after second attach")
	}
}

func TestDetachClosesOnlyMatchingDevice(t *testing.T) {
	session := &fakeSession{open: true}
	c := newController(staticSettings{desc: scaleDesc, ok: true}, session, 1)

	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionDetach, VendorID: 0x1a86, ProductID: 0x7523})
	if !session.IsOpen() {
		t.Fatal("detach of another device must not close the scale")
	}

	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionDetach, VendorID: 0x0403, ProductID: 0x6001})
	if session.IsOpen() {
		t.Fatal("expected scale closed after its detach")
	}
}

func TestEventsIgnoredWithoutConfiguredScale(t *testing.T) {
	session := &fakeSession{}
	c := newController(staticSettings{}, session, 1)
	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionAttach, VendorID: 0x0403, ProductID: 0x6001})
	if opens, _ := session.counts(); opens != 0 {
		t.Fatalf("expected no open attempts, got %d", opens)
	}
	if err := c.Reconnect(context.Background()); !errors.Is(err, lifecycle.ErrNoScaleConfigured) {
		t.Fatalf("expected ErrNoScaleConfigured, got %v", err)
	}
}

func TestAttachRetriesUntilPortAppears(t *testing.T) {
	session := &fakeSession{failures: 2}
	c := newController(staticSettings{desc: scaleDesc, ok: true}, session, 5)

	c.HandleEvent(context.Background(), lifecycle.HotplugEvent{Action: lifecycle.ActionAttach, VendorID: 0x0403, ProductID: 0x6001})
	opens, _ := session.counts()
	if opens != 3 || !session.IsOpen() {
		t.Fatalf("expected success on third attempt; opens=%d open=%v", opens, session.IsOpen())
	}
}

func TestReconnectGivesUpAfterAttempts(t *testing.T) {
	session := &fakeSession{openErr: errors.New("permission denied")}
	c := newController(staticSettings{desc: scaleDesc, ok: true}, session, 3)

	err := c.Reconnect(context.Background())
	if err == nil {
		t.Fatal("expected reconnect failure")
	}
	if opens, _ := session.counts(); opens != 3 {
		t.Fatalf("expected 3 attempts, got %d", opens)
	}
}

func TestReconnectStopsOnContextCancel(t *testing.T) {
	session := &fakeSession{openErr: errors.New("busy")}
	c := lifecycle.NewController(lifecycle.Options{
		Settings: staticSettings{desc: scaleDesc, ok: true},
		Session:  session,
		Logger:   logging.NewNop(),
		Attempts: 10,
		Delay:    time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Reconnect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeSource struct {
	mu      sync.Mutex
	deliver func(lifecycle.HotplugEvent)
	running bool
}

func (s *fakeSource) Start(_ context.Context, deliver func(lifecycle.HotplugEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = deliver
	s.running = true
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *fakeSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSource) emit(ev lifecycle.HotplugEvent) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	deliver(ev)
}

func TestStartOpensAndConsumesEvents(t *testing.T) {
	session := &fakeSession{}
	source := &fakeSource{}
	c := lifecycle.NewController(lifecycle.Options{
		Settings: staticSettings{desc: scaleDesc, ok: true},
		Session:  session,
		Source:   source,
		Logger:   logging.NewNop(),
		Attempts: 1,
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() || !source.Running() {
		t.Fatal("expected controller and source running")
	}
	if !session.IsOpen() {
		t.Fatal("expected initial open for configured scale")
	}

	source.emit(lifecycle.HotplugEvent{Action: lifecycle.ActionDetach, VendorID: 0x0403, ProductID: 0x6001})
	deadline := time.Now().Add(2 * time.Second)
	for session.IsOpen() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if session.IsOpen() {
		t.Fatal("expected detach delivered through the source to close the session")
	}

	c.Stop()
	c.Stop()
	if c.Running() || source.Running() {
		t.Fatal("expected everything stopped")
	}
	// Deliveries after stop are ignored rather than blocking.
	source.emit(lifecycle.HotplugEvent{Action: lifecycle.ActionAttach, VendorID: 0x0403, ProductID: 0x6001})
}

func TestNilControllerRunning(t *testing.T) {
	var c *lifecycle.Controller
	if c.Running() {
		t.Fatal("nil controller must report not running")
	}
}
