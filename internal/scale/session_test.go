package scale_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.bug.st/serial"

	"tillpoint/internal/devices"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
)

var testDescriptor = devices.Descriptor{
	Name:      "Prix",
	VendorID:  0x0403,
	ProductID: 0x6001,
	BaudRate:  9600,
	DataBits:  8,
}

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) Resolve(context.Context, devices.Descriptor) (string, error) {
	return r.path, r.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) Publish(connected bool) {
	r.mu.Lock()
	r.events = append(r.events, connected)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

type pipeOpener struct {
	mu      sync.Mutex
	calls   atomic.Int32
	writers []*io.PipeWriter
	modes   []*serial.Mode
	block   chan struct{}
}

func (o *pipeOpener) Open(path string, mode *serial.Mode) (scale.Port, error) {
	o.calls.Add(1)
	if o.block != nil {
		<-o.block
	}
	pr, pw := io.Pipe()
	o.mu.Lock()
	o.writers = append(o.writers, pw)
	o.modes = append(o.modes, mode)
	o.mu.Unlock()
	return pr, nil
}

func (o *pipeOpener) writer(t *testing.T) *io.PipeWriter {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.writers) == 0 {
		t.Fatal("no port opened")
	}
	return o.writers[len(o.writers)-1]
}

type fixture struct {
	session  *scale.Session
	opener   *pipeOpener
	clock    *clock
	notifier *recorder
}

func newFixture(t *testing.T, freshness time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		opener:   &pipeOpener{},
		clock:    &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		notifier: &recorder{},
	}
	f.session = scale.NewSession(scale.Options{
		Resolver:  staticResolver{path: "/dev/ttyUSB0"},
		Opener:    f.opener,
		Notifier:  f.notifier,
		Logger:    logging.NewNop(),
		Freshness: freshness,
		Now:       f.clock.Now,
	})
	t.Cleanup(func() { _ = f.session.Close() })
	return f
}

func waitForWeight(t *testing.T, s *scale.Session, asOf func() time.Time, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.CurrentWeight(asOf())
		if err == nil && got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, err := s.CurrentWeight(asOf())
	t.Fatalf("weight never reached %v; last = %v, %v", want, got, err)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClosedSessionIsUnavailable(t *testing.T) {
	f := newFixture(t, time.Second)
	if _, err := f.session.CurrentWeight(time.Time{}); !errors.Is(err, scale.ErrScaleUnavailable) {
		t.Fatalf("expected ErrScaleUnavailable, got %v", err)
	}
	if f.session.IsOpen() {
		t.Fatal("new session should be closed")
	}
}

func TestOpenReadsLatestWeight(t *testing.T) {
	f := newFixture(t, 1500*time.Millisecond)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !f.session.IsOpen() {
		t.Fatal("expected open session")
	}

	if _, err := f.session.CurrentWeight(f.clock.Now()); !errors.Is(err, scale.ErrStaleReading) {
		t.Fatalf("expected ErrStaleReading before first line, got %v", err)
	}

	w := f.opener.writer(t)
	if _, err := w.Write([]byte("S  12.340\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForWeight(t, f.session, f.clock.Now, 12.34)

	if _, err := w.Write([]byte("garbage\rS   0.500\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForWeight(t, f.session, f.clock.Now, 0.5)

	mode := f.opener.modes[0]
	if mode.BaudRate != 9600 || mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Fatalf("unexpected serial mode %+v", mode)
	}

	snap := f.session.Snapshot()
	if snap.State != scale.StateOpen || snap.Path != "/dev/ttyUSB0" || snap.Reading == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestMalformedLineKeepsPreviousReading(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	w := f.opener.writer(t)
	_, _ = w.Write([]byte("S 2.25\r"))
	waitForWeight(t, f.session, f.clock.Now, 2.25)

	_, _ = w.Write([]byte("S?\rSNaN\r\r"))
	// The reader handles chunks in order, so once this write returns the
	// previous chunk has been parsed.
	_, _ = w.Write([]byte("Sxx\r"))
	got, err := f.session.CurrentWeight(f.clock.Now())
	if err != nil || got != 2.25 {
		t.Fatalf("CurrentWeight = %v, %v", got, err)
	}
}

func TestReadingGoesStaleAfterFreshnessWindow(t *testing.T) {
	f := newFixture(t, 1500*time.Millisecond)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = f.opener.writer(t).Write([]byte("S 1.00\r"))
	waitForWeight(t, f.session, f.clock.Now, 1)

	if _, err := f.session.CurrentWeight(f.clock.Now().Add(1500 * time.Millisecond)); err != nil {
		t.Fatalf("reading at the window edge should be fresh: %v", err)
	}
	f.clock.Advance(2 * time.Second)
	if _, err := f.session.CurrentWeight(f.clock.Now()); !errors.Is(err, scale.ErrStaleReading) {
		t.Fatalf("expected ErrStaleReading, got %v", err)
	}
}

func TestZeroFreshnessDisablesAgeCheck(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = f.opener.writer(t).Write([]byte("S 3.00\r"))
	waitForWeight(t, f.session, f.clock.Now, 3)
	f.clock.Advance(time.Hour)
	if got, err := f.session.CurrentWeight(f.clock.Now()); err != nil || got != 3 {
		t.Fatalf("CurrentWeight = %v, %v", got, err)
	}
}

func TestOpenWhileOpenIsBusy(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.session.Open(context.Background(), testDescriptor); !errors.Is(err, scale.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if calls := f.opener.calls.Load(); calls != 1 {
		t.Fatalf("expected a single port open, got %d", calls)
	}
}

func TestConcurrentOpensYieldOneSession(t *testing.T) {
	f := newFixture(t, time.Second)
	f.opener.block = make(chan struct{})

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- f.session.Open(context.Background(), testDescriptor) }()
	}
	waitFor(t, func() bool { return f.opener.calls.Load() == 1 })
	first := <-errs
	if !errors.Is(first, scale.ErrSessionBusy) {
		t.Fatalf("expected the second open to report busy, got %v", first)
	}
	close(f.opener.block)
	if err := <-errs; err != nil {
		t.Fatalf("winning open failed: %v", err)
	}
	if calls := f.opener.calls.Load(); calls != 1 {
		t.Fatalf("expected one port open, got %d", calls)
	}
}

func TestCloseReleasesPortAndNotifies(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	w := f.opener.writer(t)
	_, _ = w.Write([]byte("S 5.00\r"))
	waitForWeight(t, f.session, f.clock.Now, 5)

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.session.IsOpen() {
		t.Fatal("expected closed session")
	}
	if _, err := f.session.CurrentWeight(f.clock.Now()); !errors.Is(err, scale.ErrScaleUnavailable) {
		t.Fatalf("expected ErrScaleUnavailable after close, got %v", err)
	}
	if _, err := w.Write([]byte("S 9.00\r")); err == nil {
		t.Fatal("expected write to closed port to fail")
	}
	if err := f.session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	events := f.notifier.snapshot()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("unexpected notifications %v", events)
	}

	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.session.CurrentWeight(f.clock.Now()); !errors.Is(err, scale.ErrStaleReading) {
		t.Fatalf("reopened session must not reuse old reading, got %v", err)
	}
}

func TestTransportFailureClosesSession(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.session.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = f.opener.writer(t).CloseWithError(errors.New("device unplugged"))

	waitFor(t, func() bool { return !f.session.IsOpen() })
	if _, err := f.session.CurrentWeight(f.clock.Now()); !errors.Is(err, scale.ErrScaleUnavailable) {
		t.Fatalf("expected ErrScaleUnavailable, got %v", err)
	}
	waitFor(t, func() bool {
		events := f.notifier.snapshot()
		return len(events) == 2 && !events[1]
	})
}

func TestOpenResolutionFailure(t *testing.T) {
	notifier := &recorder{}
	s := scale.NewSession(scale.Options{
		Resolver: staticResolver{err: devices.ErrDeviceUnavailable},
		Opener:   &pipeOpener{},
		Notifier: notifier,
		Logger:   logging.NewNop(),
	})
	if err := s.Open(context.Background(), testDescriptor); !errors.Is(err, devices.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.IsOpen() {
		t.Fatal("session should remain closed")
	}
	if events := notifier.snapshot(); len(events) != 1 || events[0] {
		t.Fatalf("expected one disconnected notification, got %v", events)
	}
	// A failed open leaves the session reusable.
	if err := s.Open(context.Background(), testDescriptor); !errors.Is(err, devices.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable on retry, got %v", err)
	}
}

func TestCloseDuringOpenAborts(t *testing.T) {
	f := newFixture(t, time.Second)
	f.opener.block = make(chan struct{})

	errs := make(chan error, 1)
	go func() { errs <- f.session.Open(context.Background(), testDescriptor) }()
	waitFor(t, func() bool { return f.opener.calls.Load() == 1 })

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(f.opener.block)
	if err := <-errs; !errors.Is(err, scale.ErrOpenAborted) {
		t.Fatalf("expected ErrOpenAborted, got %v", err)
	}
	if f.session.IsOpen() {
		t.Fatal("aborted open must not leave the session open")
	}
}

func TestInvalidDescriptorRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.session.Open(context.Background(), devices.Descriptor{VendorID: 1, ProductID: 2}); err == nil {
		t.Fatal("expected validation error")
	}
	if f.opener.calls.Load() != 0 {
		t.Fatal("opener should not be called for invalid descriptor")
	}
}

// gatedOpener holds its first call until gate closes and then fails it;
// later calls open a pipe immediately.
type gatedOpener struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (o *gatedOpener) Open(string, *serial.Mode) (scale.Port, error) {
	if o.calls.Add(1) == 1 {
		<-o.gate
		return nil, errors.New("port vanished")
	}
	pr, _ := io.Pipe()
	return pr, nil
}

func TestSupersededOpenFailureKeepsNewSession(t *testing.T) {
	opener := &gatedOpener{gate: make(chan struct{})}
	notifier := &recorder{}
	s := scale.NewSession(scale.Options{
		Resolver: staticResolver{path: "/dev/ttyUSB0"},
		Opener:   opener,
		Notifier: notifier,
		Logger:   logging.NewNop(),
	})
	t.Cleanup(func() { _ = s.Close() })

	errs := make(chan error, 1)
	go func() { errs <- s.Open(context.Background(), testDescriptor) }()
	waitFor(t, func() bool { return opener.calls.Load() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Open(context.Background(), testDescriptor); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	close(opener.gate)
	if err := <-errs; err == nil {
		t.Fatal("expected the first open to fail")
	}
	if !s.IsOpen() {
		t.Fatal("late failure of a superseded open closed the newer session")
	}
	if events := notifier.snapshot(); len(events) != 1 || !events[0] {
		t.Fatalf("expected a single connected notification, got %v", events)
	}
}
