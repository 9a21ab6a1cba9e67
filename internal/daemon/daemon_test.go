package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tillpoint/internal/lifecycle"
	"tillpoint/internal/logging"
	"tillpoint/internal/scale"
	"tillpoint/internal/testsupport"
)

func TestStartOpensConfiguredScale(t *testing.T) {
	h := newHarness(t, true, testsupport.WithoutHTTP())
	h.start(t)

	status := h.daemon.ScaleStatus()
	if !status.Connected || status.Port != "/dev/ttyUSB0" {
		t.Fatalf("expected connected scale on /dev/ttyUSB0, got %+v", status)
	}
	if !status.Configured || status.Device == nil || status.Device.ID() != "0403:6001" {
		t.Fatalf("expected configured descriptor, got %+v", status.Device)
	}

	h.opener.write(t, "S 1.25\r")
	waitFor(t, "weight", func() bool {
		reading, err := h.daemon.ReadScale(time.Time{})
		return err == nil && reading.Weight == 1.25
	})

	h.daemon.Stop()
	if h.daemon.Running() {
		t.Fatal("daemon still running after Stop")
	}
	if _, err := h.daemon.ReadScale(time.Time{}); !errors.Is(err, scale.ErrScaleUnavailable) {
		t.Fatalf("expected ErrScaleUnavailable after Stop, got %v", err)
	}
}

func TestStartWithoutScaleStaysClosed(t *testing.T) {
	h := newHarness(t, false, testsupport.WithoutHTTP())
	h.start(t)

	if h.daemon.ScaleStatus().Connected {
		t.Fatal("expected no session without a configured scale")
	}
	if err := h.daemon.ReconnectScale(context.Background()); !errors.Is(err, lifecycle.ErrNoScaleConfigured) {
		t.Fatalf("expected ErrNoScaleConfigured, got %v", err)
	}
	if h.opener.calls.Load() != 0 {
		t.Fatalf("expected no open attempts, got %d", h.opener.calls.Load())
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	h := newHarness(t, false, testsupport.WithoutHTTP())
	h.start(t)

	other, err := New(h.cfg, logging.NewNop(), WithHotplugSource(&quietSource{}))
	if err != nil {
		t.Fatalf("New second daemon: %v", err)
	}
	defer other.Close()

	if err := other.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestScaleSettingChangeReconnects(t *testing.T) {
	h := newHarness(t, false, testsupport.WithoutHTTP())
	h.start(t)

	raw, err := json.Marshal(prix)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	if err := h.daemon.SetSetting("devices.scale", raw); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	waitFor(t, "scale to connect", func() bool { return h.daemon.ScaleStatus().Connected })

	if err := h.daemon.SetSetting("devices.scale", json.RawMessage("null")); err != nil {
		t.Fatalf("clear scale: %v", err)
	}
	if h.daemon.ScaleStatus().Connected {
		t.Fatal("expected scale closed after clearing the setting")
	}
}

func TestStopWaitsForSettingsReconnect(t *testing.T) {
	h := newHarness(t, false, testsupport.WithoutHTTP())
	h.start(t)

	raw, err := json.Marshal(prix)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			value := raw
			if i%2 == 1 {
				value = json.RawMessage("null")
			}
			_ = h.daemon.SetSetting("devices.scale", value)
		}
	}()
	time.Sleep(time.Millisecond)
	h.daemon.Stop()
	<-done

	calls := h.opener.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := h.opener.calls.Load(); got != calls {
		t.Fatalf("port opened after Stop returned: %d -> %d", calls, got)
	}
	if h.daemon.ScaleStatus().Connected {
		t.Fatal("expected scale closed after Stop")
	}
}

func TestThemeChangeLeavesSessionAlone(t *testing.T) {
	h := newHarness(t, true, testsupport.WithoutHTTP())
	h.start(t)

	before := h.opener.calls.Load()
	if err := h.daemon.SetSetting("theme", json.RawMessage(`"light"`)); err != nil {
		t.Fatalf("SetSetting theme: %v", err)
	}
	if got := h.opener.calls.Load(); got != before {
		t.Fatalf("theme change reopened the port: %d -> %d", before, got)
	}
	theme, err := h.daemon.Setting("theme")
	if err != nil || theme != "light" {
		t.Fatalf("expected light theme, got %v (%v)", theme, err)
	}
}

func TestStatusReportsPaths(t *testing.T) {
	h := newHarness(t, false, testsupport.WithoutHTTP())
	h.start(t)

	status := h.daemon.Status()
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.DatabasePath != h.cfg.DatabasePath() || status.LockFilePath != h.cfg.LockPath() {
		t.Fatalf("unexpected paths: %+v", status)
	}
	if !status.HotplugActive {
		t.Fatal("expected hotplug source to be running")
	}
	if h.daemon.APIAddr() != "" {
		t.Fatalf("expected no API listener, got %q", h.daemon.APIAddr())
	}
}
