// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates scale sessions, settings, and catalog models into
// transport-friendly DTOs that the till UI and the CLI render without
// coupling to internal types.
//
// # Key Types
//
// ScaleStatus: connectivity, port, configured device, and latest reading.
//
// ScaleReading: a weight answered for an as-of instant.
//
// DaemonStatus: aggregated runtime information for `tillpoint status`.
//
// # Errors
//
// Sentinel errors cross process boundaries as stable codes. ErrorCode maps an
// error to its code, HTTPStatus maps a code to a response status, and
// DecodeError rebuilds an error that still satisfies errors.Is against the
// original sentinel.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers.
// Timestamps use RFC3339 with milliseconds.
package api
