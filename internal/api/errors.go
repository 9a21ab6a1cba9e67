package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tillpoint/internal/checkout"
	"tillpoint/internal/devices"
	"tillpoint/internal/lifecycle"
	"tillpoint/internal/scale"
	"tillpoint/internal/settings"
	"tillpoint/internal/store"
)

// ErrBadRequest reports malformed transport input.
var ErrBadRequest = errors.New("bad request")

// Error codes shared by IPC and HTTP.
const (
	CodeScaleUnavailable  = "scale_unavailable"
	CodeStaleReading      = "stale_reading"
	CodeDeviceUnavailable = "device_unavailable"
	CodeAmbiguousDevice   = "ambiguous_device"
	CodeSessionBusy       = "session_busy"
	CodeNoScaleConfigured = "no_scale_configured"
	CodeUnknownKey        = "unknown_key"
	CodeNotFound          = "not_found"
	CodeInvalid           = "invalid"
	CodeInvalidSetting    = "invalid_setting"
	CodeEmptyCart         = "empty_cart"
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

// codeSentinels holds one entry per code so DecodeError can restore the
// sentinel unambiguously.
var codeSentinels = []struct {
	code string
	err  error
}{
	{CodeScaleUnavailable, scale.ErrScaleUnavailable},
	{CodeStaleReading, scale.ErrStaleReading},
	{CodeDeviceUnavailable, devices.ErrDeviceUnavailable},
	{CodeAmbiguousDevice, devices.ErrAmbiguousDevice},
	{CodeSessionBusy, scale.ErrSessionBusy},
	{CodeNoScaleConfigured, lifecycle.ErrNoScaleConfigured},
	{CodeUnknownKey, settings.ErrUnknownKey},
	{CodeNotFound, store.ErrNotFound},
	{CodeInvalid, store.ErrInvalid},
	{CodeInvalidSetting, settings.ErrInvalid},
	{CodeEmptyCart, checkout.ErrEmptyCart},
	{CodeBadRequest, ErrBadRequest},
}

// ErrorCode classifies err into a stable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range codeSentinels {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps a code to a response status.
func HTTPStatus(code string) int {
	switch code {
	case CodeDeviceUnavailable, CodeNotFound, CodeNoScaleConfigured:
		return http.StatusNotFound
	case CodeStaleReading, CodeAmbiguousDevice, CodeSessionBusy:
		return http.StatusConflict
	case CodeScaleUnavailable:
		return http.StatusServiceUnavailable
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeUnknownKey, CodeInvalid, CodeInvalidSetting, CodeEmptyCart, CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// EncodeError renders err as "code: message" for transports that only carry strings.
func EncodeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", ErrorCode(err), err.Error())
}

// CodedError is an error rebuilt from its transport form.
type CodedError struct {
	Code    string
	Message string
	base    error
}

func (e *CodedError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel matching Code.
func (e *CodedError) Unwrap() error {
	return e.base
}

// DecodeError parses a "code: message" string. Strings without a known code
// become a CodedError with CodeInternal.
func DecodeError(raw string) error {
	code, message, ok := strings.Cut(raw, ": ")
	if !ok {
		return &CodedError{Code: CodeInternal, Message: raw}
	}
	for _, entry := range codeSentinels {
		if entry.code == code {
			return &CodedError{Code: code, Message: message, base: entry.err}
		}
	}
	if code == CodeInternal {
		return &CodedError{Code: code, Message: message}
	}
	return &CodedError{Code: CodeInternal, Message: raw}
}
