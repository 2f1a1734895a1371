package geo

import (
	"context"
	"strings"
)

type Code string

const (
	CodePermissionDenied Code = "permission_denied"
	CodeUnavailable      Code = "position_unavailable"
	CodeTimeout          Code = "timeout"
	CodeUnknown          Code = "unknown"
)

var messages = map[Code]string{
	CodePermissionDenied: "Location access was denied. Allow location access in your browser settings to check in from the office.",
	CodeUnavailable:      "Your location is currently unavailable. Check that location services are turned on and try again.",
	CodeTimeout:          "Getting your location took too long. Move to an open area and try again.",
	CodeUnknown:          "An unknown error occurred while getting your location.",
}

type LocationError struct {
	Code    Code
	Message string
	Err     error
}

func (e *LocationError) Error() string {
	return e.Message
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

func NewLocationError(code Code) *LocationError {
	msg, ok := messages[code]
	if !ok {
		code = CodeUnknown
		msg = messages[CodeUnknown]
	}
	return &LocationError{Code: code, Message: msg}
}

// ClassifyCode maps the numeric GeolocationPositionError codes reported by
// browsers (1 permission denied, 2 unavailable, 3 timeout).
func ClassifyCode(code int) *LocationError {
	switch code {
	case 1:
		return NewLocationError(CodePermissionDenied)
	case 2:
		return NewLocationError(CodeUnavailable)
	case 3:
		return NewLocationError(CodeTimeout)
	default:
		return NewLocationError(CodeUnknown)
	}
}

// ParseCode accepts either the symbolic or the numeric form.
func ParseCode(raw string) *LocationError {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", string(CodePermissionDenied):
		return NewLocationError(CodePermissionDenied)
	case "2", string(CodeUnavailable):
		return NewLocationError(CodeUnavailable)
	case "3", string(CodeTimeout):
		return NewLocationError(CodeTimeout)
	default:
		return NewLocationError(CodeUnknown)
	}
}

// StaticLocator always returns the same sample.
type StaticLocator struct {
	Sample Sample
}

func (l StaticLocator) Locate(ctx context.Context, _ Options) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return l.Sample, nil
}

// ReportedLocator replays a fix (or a failure) reported by a presentation
// layer that owns the device geolocation API.
type ReportedLocator struct {
	Sample *Sample
	Err    *LocationError
}

func (l ReportedLocator) Locate(ctx context.Context, _ Options) (Sample, error) {
	if l.Err != nil {
		return Sample{}, l.Err
	}
	if l.Sample == nil {
		return Sample{}, NewLocationError(CodeUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return *l.Sample, nil
}
