// Package devices enumerates serial-capable USB devices and resolves the
// persisted scale descriptor to a concrete port path.
//
// The Directory combines the serial enumerator (port path, VID/PID) with USB
// string descriptors (manufacturer, product) so operators can pick a scale by
// name. Devices whose descriptors cannot be read are dropped from the listing
// instead of failing the whole call.
package devices
