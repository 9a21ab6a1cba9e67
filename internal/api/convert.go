package api

import (
	"fmt"
	"strconv"
	"time"

	"tillpoint/internal/devices"
	"tillpoint/internal/scale"
	"tillpoint/internal/status"
)

// FromSnapshot converts a session snapshot to its API representation.
// configured is the descriptor from settings and is reported even while
// the scale is disconnected.
func FromSnapshot(snap scale.Snapshot, configured *devices.Descriptor) ScaleStatus {
	dto := ScaleStatus{
		Connected:  snap.State == scale.StateOpen,
		State:      snap.State.String(),
		Port:       snap.Path,
		Generation: snap.Generation,
	}
	switch {
	case configured != nil:
		desc := *configured
		dto.Device = &desc
		dto.Configured = true
	case snap.State == scale.StateOpen:
		desc := snap.Descriptor
		dto.Device = &desc
	}
	if snap.Reading != nil {
		weight := snap.Reading.Weight
		dto.Weight = &weight
		dto.UpdatedAt = FormatTime(snap.Reading.UpdatedAt)
	}
	return dto
}

// FromStatusEvent converts a status channel event.
func FromStatusEvent(ev status.Event) ScaleEvent {
	return ScaleEvent{Connected: ev.Connected, At: FormatTime(ev.At)}
}

// FormatTime renders t in the API timestamp format; zero renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime accepts RFC3339 (with or without fractional seconds) or Unix
// milliseconds, the two forms UIs send for as-of timestamps. Empty means zero.
func ParseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: as-of %q is neither RFC3339 nor unix milliseconds", ErrBadRequest, raw)
	}
	return time.UnixMilli(millis), nil
}
