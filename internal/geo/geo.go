package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

type Sample struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy"`
}

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// DefaultOptions asks for a fresh, high-accuracy fix within 15 seconds.
func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: 0}
}

// Locator acquires a single position fix.
type Locator interface {
	Locate(ctx context.Context, opts Options) (Sample, error)
}

// Distance returns the great-circle distance in meters between two
// coordinates given in degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

type Fence struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

type FenceResult struct {
	DistanceMeters float64
	Within         bool
}

func (f Fence) Check(sample Sample) FenceResult {
	distance := Distance(sample.Latitude, sample.Longitude, f.Latitude, f.Longitude)
	return FenceResult{DistanceMeters: distance, Within: distance <= f.RadiusMeters}
}

// OutsideFenceMessage renders the rejection shown when a sample is too far away.
func OutsideFenceMessage(result FenceResult, radius float64) string {
	return fmt.Sprintf("You are %.0f meters from the office. Office check-in is only allowed within %.0f meters.", result.DistanceMeters, radius)
}

// Locate runs the locator with opts.Timeout applied to ctx. The bound holds
// even for a locator that ignores its context: an overrun reports a timeout
// failure and the late result is dropped.
func Locate(ctx context.Context, locator Locator, opts Options) (Sample, error) {
	if locator == nil {
		return Sample{}, NewLocationError(CodeUnavailable)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type fix struct {
		sample Sample
		err    error
	}
	done := make(chan fix, 1)
	go func() {
		sample, err := locator.Locate(ctx, opts)
		done <- fix{sample: sample, err: err}
	}()

	var result fix
	select {
	case result = <-done:
	case <-ctx.Done():
		result = fix{err: ctx.Err()}
	}
	if result.err != nil {
		return Sample{}, locateError(result.err)
	}
	if !validCoordinate(result.sample) {
		return Sample{}, NewLocationError(CodeUnavailable)
	}
	return result.sample, nil
}

func locateError(err error) error {
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLocationError(CodeTimeout)
	}
	return &LocationError{Code: CodeUnknown, Message: messages[CodeUnknown], Err: err}
}

func validCoordinate(s Sample) bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}
