package devices

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrDeviceUnavailable reports that no enumerated port matches a descriptor.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrAmbiguousDevice reports that several enumerated ports match a descriptor.
	ErrAmbiguousDevice = errors.New("ambiguous device")
)

// Descriptor identifies the physical scale chosen by the operator.
type Descriptor struct {
	Name      string `json:"name" toml:"name"`
	VendorID  uint16 `json:"vid" toml:"vid"`
	ProductID uint16 `json:"pid" toml:"pid"`
	// Path is the port seen when the device was selected. The OS may
	// reassign it, so sessions always re-resolve by VID/PID.
	Path     string `json:"path,omitempty" toml:"path,omitempty"`
	BaudRate int    `json:"baudRate" toml:"baud_rate"`
	DataBits int    `json:"databits" toml:"data_bits"`
}

// Matches reports whether the vendor/product pair identifies this descriptor.
func (d Descriptor) Matches(vendorID, productID uint16) bool {
	return d.VendorID == vendorID && d.ProductID == productID
}

// ID renders the vendor/product pair as vvvv:pppp.
func (d Descriptor) ID() string {
	return FormatID(d.VendorID, d.ProductID)
}

// Validate checks that the descriptor can be used to open a port.
func (d Descriptor) Validate() error {
	if d.VendorID == 0 && d.ProductID == 0 {
		return errors.New("descriptor requires vendor and product id")
	}
	if d.BaudRate <= 0 {
		return fmt.Errorf("descriptor %s: baud rate must be positive", d.ID())
	}
	switch d.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("descriptor %s: data bits must be 5-8, got %d", d.ID(), d.DataBits)
	}
	return nil
}

// FormatID renders a vendor/product pair as lowercase vvvv:pppp.
func FormatID(vendorID, productID uint16) string {
	return fmt.Sprintf("%04x:%04x", vendorID, productID)
}

// ParseHexID parses a USB id in hex, with or without 0x prefix or padding.
func ParseHexID(value string) (uint16, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return 0, errors.New("empty usb id")
	}
	parsed, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse usb id %q: %w", value, err)
	}
	return uint16(parsed), nil
}

// ParseProductEnv splits a udev PRODUCT value into vendor and product ids.
func ParseProductEnv(product string) (uint16, uint16, bool) {
	parts := strings.Split(strings.TrimSpace(product), "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	vendorID, err := ParseHexID(parts[0])
	if err != nil {
		return 0, 0, false
	}
	productID, err := ParseHexID(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return vendorID, productID, true
}
