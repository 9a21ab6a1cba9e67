package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"tillpoint/internal/logging"
)

// SerialDevice is one entry of the device listing shown in settings.
type SerialDevice struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vid"`
	ProductID    uint16 `json:"pid"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Writable     bool   `json:"writable"`
}

// ID renders the vendor/product pair as vvvv:pppp.
func (d SerialDevice) ID() string {
	return FormatID(d.VendorID, d.ProductID)
}

// USBStrings holds the string descriptors of a USB device. Either field may
// be empty when the device does not publish it.
type USBStrings struct {
	Manufacturer string
	Product      string
}

// PortLister enumerates serial ports.
type PortLister interface {
	ListPorts() ([]*enumerator.PortDetails, error)
}

// PortListerFunc adapts a function to PortLister.
type PortListerFunc func() ([]*enumerator.PortDetails, error)

// ListPorts calls f.
func (f PortListerFunc) ListPorts() ([]*enumerator.PortDetails, error) { return f() }

// DescriptorResolver reads USB string descriptors for a vendor/product pair.
type DescriptorResolver interface {
	Resolve(ctx context.Context, vendorID, productID uint16) (USBStrings, error)
}

// Directory lists serial devices and resolves descriptors to port paths.
type Directory struct {
	ports    PortLister
	resolver DescriptorResolver
	writable func(path string) bool
	logger   *slog.Logger
}

// Option customizes a Directory.
type Option func(*Directory)

// WithPortLister overrides the serial port enumerator.
func WithPortLister(lister PortLister) Option {
	return func(d *Directory) {
		if lister != nil {
			d.ports = lister
		}
	}
}

// WithDescriptorResolver overrides the USB string descriptor source.
func WithDescriptorResolver(resolver DescriptorResolver) Option {
	return func(d *Directory) {
		if resolver != nil {
			d.resolver = resolver
		}
	}
}

// WithAccessCheck overrides the read/write permission probe.
func WithAccessCheck(fn func(path string) bool) Option {
	return func(d *Directory) {
		if fn != nil {
			d.writable = fn
		}
	}
}

// NewDirectory builds a Directory backed by the OS serial enumerator.
func NewDirectory(logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		ports:    PortListerFunc(enumerator.GetDetailedPortsList),
		resolver: NewSystemResolver(),
		writable: canReadWrite,
		logger:   logging.NewComponentLogger(logger, "device-directory"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type usbPort struct {
	path      string
	vendorID  uint16
	productID uint16
	details   *enumerator.PortDetails
}

func (d *Directory) usbPorts() ([]usbPort, error) {
	details, err := d.ports.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]usbPort, 0, len(details))
	for _, port := range details {
		if port == nil || strings.TrimSpace(port.PID) == "" {
			continue
		}
		vid, err := ParseHexID(port.VID)
		if err != nil {
			d.logger.Debug("skipping port with unreadable vendor id",
				logging.String(logging.FieldPort, port.Name),
				logging.Error(err),
			)
			continue
		}
		pid, err := ParseHexID(port.PID)
		if err != nil {
			d.logger.Debug("skipping port with unreadable product id",
				logging.String(logging.FieldPort, port.Name),
				logging.Error(err),
			)
			continue
		}
		ports = append(ports, usbPort{path: port.Name, vendorID: vid, productID: pid, details: port})
	}
	return ports, nil
}

// List returns the serial devices currently attached. A device whose USB
// descriptors cannot be read is left out; only enumeration failure is an error.
func (d *Directory) List(ctx context.Context) ([]SerialDevice, error) {
	ports, err := d.usbPorts()
	if err != nil {
		return nil, err
	}

	devices := make([]SerialDevice, 0, len(ports))
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		device, ok := d.describe(ctx, port)
		if !ok {
			continue
		}
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

func (d *Directory) describe(ctx context.Context, port usbPort) (device SerialDevice, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("usb descriptor probe panicked; device omitted",
				logging.String(logging.FieldPort, port.path),
				logging.String(logging.FieldDevice, FormatID(port.vendorID, port.productID)),
				logging.Any("panic", r),
			)
			ok = false
		}
	}()

	strs, err := d.resolver.Resolve(ctx, port.vendorID, port.productID)
	if err != nil {
		d.logger.Debug("usb descriptor unavailable; device omitted",
			logging.String(logging.FieldPort, port.path),
			logging.String(logging.FieldDevice, FormatID(port.vendorID, port.productID)),
			logging.Error(err),
		)
		return SerialDevice{}, false
	}

	name := strings.TrimSpace(strs.Product)
	if name == "" {
		name = strings.TrimSpace(port.details.Product)
	}
	return SerialDevice{
		Path:         port.path,
		VendorID:     port.vendorID,
		ProductID:    port.productID,
		Name:         name,
		Manufacturer: strings.TrimSpace(strs.Manufacturer),
		SerialNumber: strings.TrimSpace(port.details.SerialNumber),
		Writable:     d.writable(port.path),
	}, true
}

// Resolve returns the single port path whose VID/PID matches desc.
func (d *Directory) Resolve(ctx context.Context, desc Descriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ports, err := d.usbPorts()
	if err != nil {
		return "", err
	}

	var matches []string
	for _, port := range ports {
		if desc.Matches(port.vendorID, port.productID) {
			matches = append(matches, port.path)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no serial port for %s", ErrDeviceUnavailable, desc.ID())
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguousDevice, desc.ID(), strings.Join(matches, ", "))
	}
}

// IsUnavailable reports whether err means the descriptor could not be resolved to one port.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrAmbiguousDevice)
}
