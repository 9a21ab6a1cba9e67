// Package logging assembles structured slog loggers and formatting helpers used
// across tillpoint services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes component loggers so the scale session, lifecycle
// controller, and API servers tag their lines consistently. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so warnings keep the
// event_type / error_hint / impact shape operators grep for.
package logging
