// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// Errors cross the wire as "code: message" strings; the client rebuilds
// them so callers can still match sentinels with errors.Is.
package ipc
