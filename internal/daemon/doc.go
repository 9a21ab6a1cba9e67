// Package daemon wires the scale session, hotplug controller, settings, and
// catalog store into one long-running process and exposes them over a local
// HTTP API.
//
// New builds every component in dependency order: store, settings, device
// directory, status channel, scale session, lifecycle controller. Start takes
// the single-instance lock, starts hotplug handling (including the initial
// scale open), and begins serving HTTP. The IPC server in package ipc calls
// the same Daemon methods, so both transports observe identical semantics.
//
// Peripheral failures never stop the daemon: a missing scale, a netlink
// socket that cannot be opened, or a port that refuses to open are logged
// with event_type/error_hint/impact and surfaced through ScaleStatus.
package daemon
