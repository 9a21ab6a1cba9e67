// Package lifecycle reacts to USB hotplug events by opening and closing the
// scale session for the configured device.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tillpoint/internal/devices"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
)

// ErrNoScaleConfigured reports a reconnect request with no descriptor set.
var ErrNoScaleConfigured = errors.New("no scale configured")

// Action is the kind of hotplug transition.
type Action string

const (
	ActionAttach Action = "attach"
	ActionDetach Action = "detach"
)

// HotplugEvent is a USB device arriving or leaving.
type HotplugEvent struct {
	Action    Action
	VendorID  uint16
	ProductID uint16
}

// ID renders the device as vvvv:pppp.
func (e HotplugEvent) ID() string {
	return devices.FormatID(e.VendorID, e.ProductID)
}

// ScaleSettings exposes the configured scale descriptor.
type ScaleSettings interface {
	ScaleDevice() (devices.Descriptor, bool)
}

// Session is the part of the scale session the controller drives.
type Session interface {
	Open(ctx context.Context, desc devices.Descriptor) error
	Close() error
	IsOpen() bool
}

// EventSource delivers hotplug events until stopped.
type EventSource interface {
	Start(ctx context.Context, deliver func(HotplugEvent)) error
	Stop()
	Running() bool
}

// Options configures a Controller.
type Options struct {
	Settings ScaleSettings
	Session  Session
	Source   EventSource
	Logger   *slog.Logger
	// Attempts is how many times an attach tries to open the port.
	Attempts int
	// Delay separates open attempts; the kernel often announces a device
	// before its tty node is ready.
	Delay time.Duration
}

// Controller serializes hotplug handling and explicit reconnects.
type Controller struct {
	settings ScaleSettings
	session  Session
	source   EventSource
	logger   *slog.Logger
	attempts int
	delay    time.Duration

	opMu sync.Mutex

	mu      sync.Mutex
	events  chan HotplugEvent
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewController builds an idle controller.
func NewController(opts Options) *Controller {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Controller{
		settings: opts.Settings,
		session:  opts.Session,
		source:   opts.Source,
		logger:   logging.NewComponentLogger(opts.Logger, "scale-lifecycle"),
		attempts: attempts,
		delay:    opts.Delay,
	}
}

// Start begins consuming hotplug events and attempts an initial open when a
// scale is configured. A failed initial open is logged, not returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.events = make(chan HotplugEvent, 16)
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true
	events, quit, done := c.events, c.quit, c.done
	c.mu.Unlock()

	go c.loop(ctx, events, quit, done)

	if c.source != nil {
		if err := c.source.Start(ctx, c.Deliver); err != nil {
			c.Stop()
			return fmt.Errorf("start hotplug source: %w", err)
		}
	}

	if _, ok := c.configured(); ok {
		if err := c.Reconnect(ctx); err != nil {
			logging.WarnWithContext(c.logger, "initial scale open failed", "scale_initial_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "plug in the scale or select it again in settings"),
				logging.String(logging.FieldImpact, "weighed items unavailable until the scale attaches"),
			)
		}
	}
	return nil
}

// Stop halts event handling and closes the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.quit)
	done := c.done
	c.mu.Unlock()

	if c.source != nil {
		c.source.Stop()
	}
	<-done

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.session.Close(); err != nil {
		c.logger.Debug("close scale on stop failed", logging.Error(err))
	}
}

// Running reports whether the controller is consuming events.
func (c *Controller) Running() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Deliver queues an event for sequential handling. Events arriving while
// the queue is full are dropped with a warning.
func (c *Controller) Deliver(ev HotplugEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	select {
	case c.events <- ev:
	default:
		logging.WarnWithContext(c.logger, "hotplug queue full; event dropped", "hotplug_event_dropped",
			logging.String(logging.FieldDevice, ev.ID()),
			logging.String("action", string(ev.Action)),
			logging.String(logging.FieldErrorHint, "use scale reconnect if the scale state looks wrong"),
			logging.String(logging.FieldImpact, "scale may stay in its previous connection state"),
		)
	}
}

func (c *Controller) loop(ctx context.Context, events <-chan HotplugEvent, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case ev := <-events:
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one hotplug event. Events for other devices, or with
// no scale configured, are ignored.
func (c *Controller) HandleEvent(ctx context.Context, ev HotplugEvent) {
	desc, ok := c.configured()
	if !ok {
		c.logger.Debug("ignoring hotplug event; no scale configured",
			logging.String(logging.FieldDevice, ev.ID()),
			logging.String("action", string(ev.Action)),
		)
		return
	}
	if !desc.Matches(ev.VendorID, ev.ProductID) {
		c.logger.Debug("ignoring hotplug event for other device",
			logging.String(logging.FieldDevice, ev.ID()),
			logging.String("configured_device", desc.ID()),
		)
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch ev.Action {
	case ActionAttach:
		c.logger.Info("scale attached",
			logging.String(logging.FieldEventType, "scale_attached"),
			logging.String(logging.FieldDevice, ev.ID()),
		)
		if err := c.reopen(ctx, desc); err != nil {
			logging.WarnWithContext(c.logger, "scale open after attach failed", "scale_attach_open_failed",
				logging.String(logging.FieldDevice, ev.ID()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check port permissions (dialout group) and cabling"),
				logging.String(logging.FieldImpact, "weighed items unavailable"),
			)
		}
	case ActionDetach:
		c.logger.Info("scale detached",
			logging.String(logging.FieldEventType, "scale_detached"),
			logging.String(logging.FieldDevice, ev.ID()),
		)
		if err := c.session.Close(); err != nil {
			c.logger.Debug("close after detach failed", logging.Error(err))
		}
	default:
		c.logger.Debug("ignoring unknown hotplug action", logging.String("action", string(ev.Action)))
	}
}

// Reconnect closes any open session and opens the configured scale.
func (c *Controller) Reconnect(ctx context.Context) error {
	desc, ok := c.configured()
	if !ok {
		return ErrNoScaleConfigured
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.reopen(ctx, desc)
}

// Disconnect closes the session without reopening it.
func (c *Controller) Disconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.session.Close()
}

func (c *Controller) reopen(ctx context.Context, desc devices.Descriptor) error {
	if c.session.IsOpen() {
		if err := c.session.Close(); err != nil {
			c.logger.Debug("close before reopen failed", logging.Error(err))
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := c.session.Open(ctx, desc)
		if err == nil {
			return nil
		}
		if errors.Is(err, scale.ErrSessionBusy) {
			return nil
		}
		lastErr = err
		c.logger.Debug("scale open attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("attempts", c.attempts),
			logging.String(logging.FieldDevice, desc.ID()),
			logging.Error(err),
		)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	}
	return fmt.Errorf("open scale %s after %d attempts: %w", desc.ID(), c.attempts, lastErr)
}

func (c *Controller) configured() (devices.Descriptor, bool) {
	if c.settings == nil {
		return devices.Descriptor{}, false
	}
	return c.settings.ScaleDevice()
}
