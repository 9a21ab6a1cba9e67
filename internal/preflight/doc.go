// Package preflight provides readiness checks for the paths, serial port,
// and listen address the tillpoint daemon depends on.
//
// The CLI "tillpoint preflight" command runs them before the daemon is
// started so permission problems (dialout group, unwritable data dir) show up
// with a readable hint instead of a failed scale open.
package preflight
