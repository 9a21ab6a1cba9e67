package scale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tillpoint/internal/devices"
	"tillpoint/internal/logging"
)

var (
	// ErrScaleUnavailable reports that no session is open.
	ErrScaleUnavailable = errors.New("scale unavailable")
	// ErrStaleReading reports that the latest reading is missing or too old.
	ErrStaleReading = errors.New("no recent weight data")
	// ErrSessionBusy reports an open attempt while another is in progress or open.
	ErrSessionBusy = errors.New("scale session busy")
	// ErrOpenAborted reports that Close ran while an open was in flight.
	ErrOpenAborted = errors.New("scale open aborted")
)

const closeWaitTimeout = 2 * time.Second

// State is the session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reading is the most recent parsed weight.
type Reading struct {
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot describes the session for status displays.
type Snapshot struct {
	State      State
	Path       string
	Descriptor devices.Descriptor
	Reading    *Reading
	Generation uint64
}

// Notifier receives connectivity transitions.
type Notifier interface {
	Publish(connected bool)
}

// Options configures a Session.
type Options struct {
	Resolver  PortResolver
	Opener    Opener
	Notifier  Notifier
	Logger    *slog.Logger
	Freshness time.Duration
	Now       func() time.Time
}

// Session holds at most one open scale connection and its latest reading.
type Session struct {
	resolver  PortResolver
	opener    Opener
	notifier  Notifier
	logger    *slog.Logger
	freshness time.Duration
	now       func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	port       Port
	path       string
	descriptor devices.Descriptor
	reading    Reading
	hasReading bool
	done       chan struct{}
}

// NewSession builds a closed session.
func NewSession(opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		resolver:  opts.Resolver,
		opener:    opts.Opener,
		notifier:  opts.Notifier,
		logger:    logging.NewComponentLogger(opts.Logger, "scale-session"),
		freshness: opts.Freshness,
		now:       now,
	}
}

// Open resolves desc to a port and starts reading from it. Only one open
// may be in progress or established at a time.
func (s *Session) Open(ctx context.Context, desc devices.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateClosed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrSessionBusy, state)
	}
	s.state = StateOpening
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	path, err := s.resolver.Resolve(ctx, desc)
	if err != nil {
		s.abandonOpen(gen)
		return err
	}

	port, err := s.opener.Open(path, ModeFor(desc))
	if err != nil {
		s.abandonOpen(gen)
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateOpening {
		s.mu.Unlock()
		_ = port.Close()
		return ErrOpenAborted
	}
	done := make(chan struct{})
	s.state = StateOpen
	s.port = port
	s.path = path
	s.descriptor = desc
	s.reading = Reading{}
	s.hasReading = false
	s.done = done
	s.mu.Unlock()

	go s.readLoop(gen, port, done)

	s.logger.Info("scale session opened",
		logging.String(logging.FieldEventType, "scale_opened"),
		logging.String(logging.FieldPort, path),
		logging.String(logging.FieldDevice, desc.ID()),
		logging.Int("baud_rate", desc.BaudRate),
		logging.Uint64(logging.FieldGeneration, gen),
	)
	s.publish(true)
	return nil
}

// abandonOpen rolls back a failed open. A superseded generation leaves the
// state and the subscriber alone since a newer open or close owns them.
func (s *Session) abandonOpen(gen uint64) {
	s.mu.Lock()
	current := s.generation == gen && s.state == StateOpening
	if current {
		s.state = StateClosed
	}
	s.mu.Unlock()
	if current {
		s.publish(false)
	}
}

// Close releases the port. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return nil
	case StateOpening:
		s.generation++
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}

	s.state = StateClosing
	s.generation++
	port := s.port
	done := s.done
	path := s.path
	s.mu.Unlock()

	closeErr := port.Close()
	select {
	case <-done:
	case <-time.After(closeWaitTimeout):
		logging.WarnWithContext(s.logger, "scale reader did not exit after close", "scale_reader_stuck",
			logging.String(logging.FieldPort, path),
			logging.String(logging.FieldErrorHint, "the serial driver may not support interrupting reads"),
			logging.String(logging.FieldImpact, "a reader goroutine may linger until the device is unplugged"),
		)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.port = nil
	s.done = nil
	s.hasReading = false
	s.mu.Unlock()

	s.logger.Info("scale session closed",
		logging.String(logging.FieldEventType, "scale_closed"),
		logging.String(logging.FieldPort, path),
	)
	s.publish(false)

	if closeErr != nil {
		return fmt.Errorf("close scale port %s: %w", path, closeErr)
	}
	return nil
}

// Reconnect closes any open session and opens desc.
func (s *Session) Reconnect(ctx context.Context, desc devices.Descriptor) error {
	if err := s.Close(); err != nil {
		s.logger.Debug("close before reconnect failed", logging.Error(err))
	}
	return s.Open(ctx, desc)
}

// CurrentWeight returns the latest weight if the session is open and the
// reading is no older than the freshness window at asOf. A zero asOf means now.
func (s *Session) CurrentWeight(asOf time.Time) (float64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return 0, ErrScaleUnavailable
	}
	if !s.hasReading {
		return 0, ErrStaleReading
	}
	if s.freshness > 0 {
		if age := asOf.Sub(s.reading.UpdatedAt); age > s.freshness {
			return 0, fmt.Errorf("%w: last reading %s old", ErrStaleReading, age.Round(time.Millisecond))
		}
	}
	return s.reading.Weight, nil
}

// IsOpen reports whether a port is currently open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// Snapshot returns the current state, port, and latest reading.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:      s.state,
		Generation: s.generation,
	}
	if s.state == StateOpen {
		snap.Path = s.path
		snap.Descriptor = s.descriptor
		if s.hasReading {
			reading := s.reading
			snap.Reading = &reading
		}
	}
	return snap
}

func (s *Session) readLoop(gen uint64, port Port, done chan struct{}) {
	defer close(done)

	var splitter lineSplitter
	buf := make([]byte, 128)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			for _, line := range splitter.feed(buf[:n]) {
				s.handleLine(gen, line)
			}
		}
		if err != nil {
			s.readFailed(gen, err)
			return
		}
		if n == 0 && !s.current(gen) {
			return
		}
	}
}

func (s *Session) handleLine(gen uint64, line string) {
	weight, ok := ParseWeight(line)
	if !ok {
		s.logger.Debug("discarding malformed scale line",
			logging.String("line", line),
			logging.Uint64(logging.FieldGeneration, gen),
		)
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != StateOpen {
		return
	}
	s.reading = Reading{Weight: weight, UpdatedAt: now}
	s.hasReading = true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.state == StateOpen
}

// readFailed tears down the session when the transport fails on its own.
// Errors after a deliberate Close belong to an older generation and are ignored.
func (s *Session) readFailed(gen uint64, readErr error) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.state = StateClosed
	port := s.port
	path := s.path
	s.port = nil
	s.done = nil
	s.hasReading = false
	s.mu.Unlock()

	_ = port.Close()
	logging.WarnWithContext(s.logger, "scale connection lost", "scale_disconnected",
		logging.String(logging.FieldPort, path),
		logging.Error(readErr),
		logging.String(logging.FieldErrorHint, "check the scale cable and power"),
		logging.String(logging.FieldImpact, "weighed items cannot be added until the scale reconnects"),
	)
	s.publish(false)
}

func (s *Session) publish(connected bool) {
	if s.notifier != nil {
		s.notifier.Publish(connected)
	}
}
