//go:build linux

package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"tillpoint/internal/devices"
	"tillpoint/internal/logging"
)

// NetlinkSource listens for udev usb_device add/remove events.
type NetlinkSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugSource returns the platform hotplug source.
func NewHotplugSource(logger *slog.Logger) EventSource {
	return &NetlinkSource{logger: logging.NewComponentLogger(logger, "netlink-monitor")}
}

// Start connects to the udev netlink socket. Connection failure is logged and
// leaves the source idle so the daemon keeps running with manual reconnects.
func (m *NetlinkSource) Start(ctx context.Context, deliver func(HotplugEvent)) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; scale hotplug disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "replugged scales need a manual reconnect"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit, deliver)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *NetlinkSource) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *NetlinkSource) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *NetlinkSource) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, deliver func(HotplugEvent)) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			ev, ok := toHotplugEvent(uevent)
			if !ok {
				m.logger.Debug("ignoring usb event without product id",
					logging.String("action", string(uevent.Action)),
					logging.String("kobj", uevent.KObj),
				)
				continue
			}
			if deliver != nil {
				deliver(ev)
			}
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "scale hotplug may be missed"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=usb, DEVTYPE=usb_device, ACTION=add|remove.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVTYPE":   "usb_device",
		},
	})
	return rules
}

// toHotplugEvent maps a uevent to an attach or detach. The vendor/product
// pair comes from PRODUCT, falling back to the udev ID_ properties.
func toHotplugEvent(uevent netlink.UEvent) (HotplugEvent, bool) {
	var action Action
	switch uevent.Action {
	case netlink.ADD:
		action = ActionAttach
	case netlink.REMOVE:
		action = ActionDetach
	default:
		return HotplugEvent{}, false
	}

	if vid, pid, ok := devices.ParseProductEnv(uevent.Env["PRODUCT"]); ok {
		return HotplugEvent{Action: action, VendorID: vid, ProductID: pid}, true
	}

	vendor := strings.TrimSpace(uevent.Env["ID_VENDOR_ID"])
	model := strings.TrimSpace(uevent.Env["ID_MODEL_ID"])
	if vendor == "" || model == "" {
		return HotplugEvent{}, false
	}
	vid, err := devices.ParseHexID(vendor)
	if err != nil {
		return HotplugEvent{}, false
	}
	pid, err := devices.ParseHexID(model)
	if err != nil {
		return HotplugEvent{}, false
	}
	return HotplugEvent{Action: action, VendorID: vid, ProductID: pid}, true
}
