package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"tillpoint/internal/devices"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBindAvailable verifies that the HTTP API address can be bound.
// An empty bind means the API is disabled and always passes.
func CheckBindAvailable(bind string) Result {
	const name = "HTTP API"

	bind = strings.TrimSpace(bind)
	if bind == "" {
		return Result{Name: name, Passed: true, Detail: "disabled"}
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: address in use; is the daemon already running?)", bind)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", bind)}
}

// CheckScalePort verifies that the selected scale resolves to exactly one
// attached port and that the port can be opened read/write.
func CheckScalePort(ctx context.Context, dir *devices.Directory, scale *devices.Descriptor) Result {
	const name = "Scale port"

	if scale == nil {
		return Result{Name: name, Passed: true, Detail: "no scale selected"}
	}
	path, err := dir.Resolve(ctx, *scale)
	if err != nil {
		switch {
		case errors.Is(err, devices.ErrDeviceUnavailable):
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not attached)", scale.ID())}
		case errors.Is(err, devices.ErrAmbiguousDevice):
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: more than one matching port)", scale.ID())}
		default:
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", scale.ID(), err)}
		}
	}

	list, err := dir.List(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: list devices: %v)", path, err)}
	}
	for _, dev := range list {
		if dev.Path != path {
			continue
		}
		if !dev.Writable {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not writable; add the user to the dialout group)", path)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s (read/write ok)", path, scale.ID())}
	}
	// Port enumerated but its USB descriptors were unreadable.
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s (descriptors unavailable)", path, scale.ID())}
}
