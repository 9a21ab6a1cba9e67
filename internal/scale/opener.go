package scale

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"tillpoint/internal/devices"
)

// Port is the byte stream of an open serial connection.
type Port = io.ReadCloser

// Opener opens a serial port with the given framing.
type Opener interface {
	Open(path string, mode *serial.Mode) (Port, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string, mode *serial.Mode) (Port, error)

// Open calls f.
func (f OpenerFunc) Open(path string, mode *serial.Mode) (Port, error) { return f(path, mode) }

// PortResolver maps a descriptor to the port path it currently occupies.
type PortResolver interface {
	Resolve(ctx context.Context, desc devices.Descriptor) (string, error)
}

// SerialOpener opens real serial ports. A positive read timeout makes reads
// return periodically so the reader can notice a close.
func SerialOpener(readTimeout time.Duration) Opener {
	return OpenerFunc(func(path string, mode *serial.Mode) (Port, error) {
		port, err := serial.Open(path, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", path, err)
		}
		if readTimeout > 0 {
			if err := port.SetReadTimeout(readTimeout); err != nil {
				_ = port.Close()
				return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
			}
		}
		return port, nil
	})
}

// ModeFor builds the 8N1-style serial mode from a descriptor.
func ModeFor(desc devices.Descriptor) *serial.Mode {
	return &serial.Mode{
		BaudRate: desc.BaudRate,
		DataBits: desc.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
