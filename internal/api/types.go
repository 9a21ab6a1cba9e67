package api

import (
	"tillpoint/internal/devices"
	"tillpoint/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ScaleStatus reports the scale session for status indicators.
type ScaleStatus struct {
	Connected  bool                `json:"connected"`
	State      string              `json:"state"`
	Port       string              `json:"port,omitempty"`
	Device     *devices.Descriptor `json:"device,omitempty"`
	Configured bool                `json:"configured"`
	Weight     *float64            `json:"weight,omitempty"`
	UpdatedAt  string              `json:"updatedAt,omitempty"`
	Generation uint64              `json:"generation"`
}

// ScaleReading is a weight answered for an as-of instant.
type ScaleReading struct {
	Weight float64 `json:"weight"`
	AsOf   string  `json:"asOf"`
}

// ScaleEvent is one connectivity change pushed to the UI.
type ScaleEvent struct {
	Connected bool   `json:"connected"`
	At        string `json:"at"`
}

// SerialDevice is one entry of the device picker.
type SerialDevice = devices.SerialDevice

// Product is a catalog entry.
type Product = store.Product

// Sale is a completed checkout.
type Sale = store.Sale

// DaemonStatus aggregates runtime information.
type DaemonStatus struct {
	Running         bool        `json:"running"`
	PID             int         `json:"pid"`
	DatabasePath    string      `json:"databasePath"`
	SettingsPath    string      `json:"settingsPath"`
	LockFilePath    string      `json:"lockFilePath"`
	SocketPath      string      `json:"socketPath"`
	HotplugActive   bool        `json:"hotplugActive"`
	Scale           ScaleStatus `json:"scale"`
	EventsPublished uint64      `json:"eventsPublished"`
	EventsDropped   uint64      `json:"eventsDropped"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
