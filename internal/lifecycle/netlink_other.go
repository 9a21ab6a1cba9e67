//go:build !linux

package lifecycle

import (
	"context"
	"log/slog"
)

type noopSource struct{}

// NewHotplugSource returns the platform hotplug source. Without udev there
// is nothing to watch; reconnects are manual.
func NewHotplugSource(*slog.Logger) EventSource {
	return noopSource{}
}

func (noopSource) Start(context.Context, func(HotplugEvent)) error { return nil }

func (noopSource) Stop() {}

func (noopSource) Running() bool { return false }
