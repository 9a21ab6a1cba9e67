// Package scale owns the serial connection to the weighing scale.
//
// A Session opens the port resolved from the configured descriptor, runs a
// reader goroutine that parses the scale's carriage-return framed weight
// lines, and keeps only the latest reading. Consumers ask for the current
// weight as of some instant; stale or missing data is reported as an error
// rather than a zero weight.
package scale
