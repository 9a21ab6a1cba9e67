// Package config loads, normalizes, and validates tillpoint configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes the knobs the
// daemon and CLI need: where data and logs live, how the HTTP API binds, how
// eagerly the scale session reconnects, and how checkout retries scale reads.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
// Operator-editable device selection lives in the settings package instead.
package config
