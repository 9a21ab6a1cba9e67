package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tillpoint/internal/api"
	"tillpoint/internal/config"
	"tillpoint/internal/devices"
	"tillpoint/internal/lifecycle"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
	"tillpoint/internal/settings"
	"tillpoint/internal/status"
	"tillpoint/internal/store"
)

// ErrAlreadyRunning reports a second daemon instance on the same data dir.
var ErrAlreadyRunning = errors.New("another tillpoint daemon instance is already running")

// Daemon owns every long-lived component and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	settings   *settings.Store
	directory  *devices.Directory
	status     *status.Channel
	session    *scale.Session
	controller *lifecycle.Controller
	hotplug    lifecycle.EventSource
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option overrides a hardware-facing dependency.
type Option func(*options)

type options struct {
	opener     scale.Opener
	dirOptions []devices.Option
	hotplug    lifecycle.EventSource
	now        func() time.Time
}

// WithOpener replaces the serial port opener.
func WithOpener(opener scale.Opener) Option {
	return func(o *options) { o.opener = opener }
}

// WithDirectoryOptions customizes the device directory.
func WithDirectoryOptions(opts ...devices.Option) Option {
	return func(o *options) { o.dirOptions = append(o.dirOptions, opts...) }
}

// WithHotplugSource replaces the udev netlink monitor.
func WithHotplugSource(source lifecycle.EventSource) Option {
	return func(o *options) { o.hotplug = source }
}

// WithClock replaces the session clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.opener == nil {
		o.opener = scale.SerialOpener(cfg.ReadTimeout())
	}
	if o.hotplug == nil {
		o.hotplug = lifecycle.NewHotplugSource(logger)
	}
	if o.now == nil {
		o.now = time.Now
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	prefs, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open settings: %w", err)
	}

	directory := devices.NewDirectory(logger, o.dirOptions...)
	channel := status.New()
	session := scale.NewSession(scale.Options{
		Resolver:  directory,
		Opener:    o.opener,
		Notifier:  channel,
		Logger:    logger,
		Freshness: cfg.FreshnessWindow(),
		Now:       o.now,
	})
	controller := lifecycle.NewController(lifecycle.Options{
		Settings: prefs,
		Session:  session,
		Source:   o.hotplug,
		Logger:   logger,
		Attempts: cfg.Scale.ReconnectAttempts,
		Delay:    cfg.ReconnectDelay(),
	})

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		settings:   prefs,
		directory:  directory,
		status:     channel,
		session:    session,
		controller: controller,
		hotplug:    o.hotplug,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts hotplug handling, and serves HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.mu.Unlock()

	if err := d.controller.Start(runCtx); err != nil {
		d.abortStart()
		return fmt.Errorf("start scale lifecycle: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.controller.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("tillpoint daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("hotplug", d.hotplug.Running()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx, d.cancel = nil, nil
	d.mu.Unlock()
	_ = d.lock.Unlock()
}

// Stop halts hotplug handling and HTTP, closes the scale, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx, d.cancel = nil, nil
	d.mu.Unlock()

	d.api.stop()
	d.wg.Wait()
	d.controller.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("tillpoint daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the HTTP listener address, or empty when HTTP is disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns aggregated runtime information.
func (d *Daemon) Status() api.DaemonStatus {
	published, dropped := d.status.Stats()
	return api.DaemonStatus{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		DatabasePath:    d.store.Path(),
		SettingsPath:    d.settings.Path(),
		LockFilePath:    d.lockPath,
		SocketPath:      d.cfg.SocketPath(),
		HotplugActive:   d.hotplug.Running(),
		Scale:           d.ScaleStatus(),
		EventsPublished: published,
		EventsDropped:   dropped,
	}
}

// ScaleStatus reports the scale session and configured device.
func (d *Daemon) ScaleStatus() api.ScaleStatus {
	var configured *devices.Descriptor
	if desc, ok := d.settings.ScaleDevice(); ok {
		configured = &desc
	}
	return api.FromSnapshot(d.session.Snapshot(), configured)
}

// ReadScale returns the weight current as of asOf (zero means now).
func (d *Daemon) ReadScale(asOf time.Time) (api.ScaleReading, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	weight, err := d.session.CurrentWeight(asOf)
	if err != nil {
		return api.ScaleReading{}, err
	}
	return api.ScaleReading{Weight: weight, AsOf: api.FormatTime(asOf)}, nil
}

// ReconnectScale closes and reopens the configured scale.
func (d *Daemon) ReconnectScale(ctx context.Context) error {
	return d.controller.Reconnect(ctx)
}

// SubscribeScaleEvents replaces the connectivity listener.
func (d *Daemon) SubscribeScaleEvents() (<-chan status.Event, func()) {
	return d.status.Subscribe()
}

// SerialDevices lists attached serial devices.
func (d *Daemon) SerialDevices(ctx context.Context) ([]devices.SerialDevice, error) {
	return d.directory.List(ctx)
}

// Setting returns one settings value.
func (d *Daemon) Setting(key string) (any, error) {
	return d.settings.Get(key)
}

// Settings returns the whole settings document.
func (d *Daemon) Settings() settings.Settings {
	return d.settings.GetAll()
}

// SetSetting stores one JSON-encoded value. Changing the scale descriptor
// reconnects in the background.
func (d *Daemon) SetSetting(key string, value json.RawMessage) error {
	before, hadScale := d.settings.ScaleDevice()
	if err := d.settings.Set(key, value); err != nil {
		return err
	}
	d.scaleSettingChanged(before, hadScale)
	return nil
}

// SetSettings replaces the settings document.
func (d *Daemon) SetSettings(doc settings.Settings) error {
	before, hadScale := d.settings.ScaleDevice()
	if err := d.settings.SetAll(doc); err != nil {
		return err
	}
	d.scaleSettingChanged(before, hadScale)
	return nil
}

func (d *Daemon) scaleSettingChanged(before devices.Descriptor, hadScale bool) {
	after, hasScale := d.settings.ScaleDevice()
	if hadScale == hasScale && before == after {
		return
	}
	if !hasScale {
		if err := d.controller.Disconnect(); err != nil {
			d.logger.Debug("close after scale cleared failed", logging.Error(err))
		}
		return
	}

	// Add under mu so Stop, which clears ctx under mu before Wait, either
	// sees this reconnect or prevents it.
	d.mu.Lock()
	ctx := d.ctx
	if ctx == nil {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		if err := d.controller.Reconnect(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "scale reconnect after settings change failed", "scale_settings_reconnect_failed",
				logging.String(logging.FieldDevice, after.ID()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "confirm the selected device is plugged in"),
				logging.String(logging.FieldImpact, "weighed items unavailable until the scale attaches"),
			)
		}
	}()
}
