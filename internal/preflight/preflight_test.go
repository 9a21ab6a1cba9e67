package preflight

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.bug.st/serial/enumerator"

	"tillpoint/internal/config"
	"tillpoint/internal/devices"
	"tillpoint/internal/logging"
)

type namedResolver struct{}

func (namedResolver) Resolve(context.Context, uint16, uint16) (devices.USBStrings, error) {
	return devices.USBStrings{Manufacturer: "Toledo", Product: "Prix 4 Uno"}, nil
}

func directoryWith(writable bool, ports ...*enumerator.PortDetails) *devices.Directory {
	return devices.NewDirectory(logging.NewNop(),
		devices.WithPortLister(devices.PortListerFunc(func() ([]*enumerator.PortDetails, error) {
			return ports, nil
		})),
		devices.WithDescriptorResolver(namedResolver{}),
		devices.WithAccessCheck(func(string) bool { return writable }),
	)
}

var prix = devices.Descriptor{Name: "Prix", VendorID: 0x0403, ProductID: 0x6001, BaudRate: 9600, DataBits: 8}

func usbPort(name string) *enumerator.PortDetails {
	return &enumerator.PortDetails{Name: name, IsUSB: true, VID: "0403", PID: "6001"}
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBindAvailable(t *testing.T) {
	if r := CheckBindAvailable(""); !r.Passed || r.Detail != "disabled" {
		t.Fatalf("expected disabled pass, got %+v", r)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	r := CheckBindAvailable(ln.Addr().String())
	if r.Passed {
		t.Fatalf("expected failure for bound address, got %+v", r)
	}
	if !strings.Contains(r.Detail, "in use") {
		t.Fatalf("expected in-use detail, got %q", r.Detail)
	}

	if r := CheckBindAvailable("127.0.0.1:0"); !r.Passed {
		t.Fatalf("expected ephemeral bind to pass, got %+v", r)
	}
}

func TestCheckScalePort(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		dir      *devices.Directory
		scale    *devices.Descriptor
		passed   bool
		contains string
	}{
		{"not selected", directoryWith(true), nil, true, "no scale selected"},
		{"attached", directoryWith(true, usbPort("/dev/ttyUSB0")), &prix, true, "read/write ok"},
		{"detached", directoryWith(true), &prix, false, "not attached"},
		{"ambiguous", directoryWith(true, usbPort("/dev/ttyUSB0"), usbPort("/dev/ttyUSB1")), &prix, false, "more than one"},
		{"no permission", directoryWith(false, usbPort("/dev/ttyUSB0")), &prix, false, "dialout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := CheckScalePort(ctx, tc.dir, tc.scale)
			if r.Passed != tc.passed {
				t.Fatalf("passed = %v, want %v (%s)", r.Passed, tc.passed, r.Detail)
			}
			if !strings.Contains(r.Detail, tc.contains) {
				t.Fatalf("detail %q missing %q", r.Detail, tc.contains)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")
	cfg.Paths.APIBind = ""

	results := RunAll(context.Background(), &cfg, directoryWith(true), nil)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !Failed(results) {
		t.Fatal("expected missing log dir to fail the run")
	}
	if results[0].Name != "Data directory" || !results[0].Passed {
		t.Fatalf("unexpected data dir result: %+v", results[0])
	}
	if results[1].Passed {
		t.Fatalf("expected log dir failure: %+v", results[1])
	}
	if RunAll(context.Background(), nil, nil, nil) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
