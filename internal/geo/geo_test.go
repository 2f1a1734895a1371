package geo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

var office = Fence{Latitude: 5.767477, Longitude: -0.180019, RadiusMeters: 50}

func TestDistanceSamePointIsZero(t *testing.T) {
	if d := Distance(5.767477, -0.180019, 5.767477, -0.180019); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
	result := office.Check(Sample{Latitude: 5.767477, Longitude: -0.180019})
	if !result.Within || result.DistanceMeters != 0 {
		t.Fatalf("expected office coordinate to pass, got %+v", result)
	}
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	result := office.Check(Sample{Latitude: 6.767477, Longitude: -0.180019})
	if result.Within {
		t.Fatalf("expected 1 degree away to fail a 50m fence")
	}
	if math.Abs(result.DistanceMeters-111195) > 100 {
		t.Fatalf("expected ~111km, got %v", result.DistanceMeters)
	}
}

func TestFenceBoundary(t *testing.T) {
	// ~0.0004 degrees of latitude is roughly 44 meters.
	near := office.Check(Sample{Latitude: 5.767877, Longitude: -0.180019})
	if !near.Within {
		t.Fatalf("expected %vm to be within 50m", near.DistanceMeters)
	}
	far := office.Check(Sample{Latitude: 5.768077, Longitude: -0.180019})
	if far.Within {
		t.Fatalf("expected %vm to be outside 50m", far.DistanceMeters)
	}
}

func TestClassifyCode(t *testing.T) {
	cases := map[int]Code{
		1: CodePermissionDenied,
		2: CodeUnavailable,
		3: CodeTimeout,
		0: CodeUnknown,
		9: CodeUnknown,
	}
	seen := map[string]bool{}
	for input, expected := range cases {
		got := ClassifyCode(input)
		if got.Code != expected {
			t.Fatalf("code %d expected %s got %s", input, expected, got.Code)
		}
		seen[got.Message] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected four distinct messages, got %d", len(seen))
	}
	if ParseCode("permission_denied").Code != CodePermissionDenied || ParseCode("3").Code != CodeTimeout {
		t.Fatalf("unexpected ParseCode mapping")
	}
}

type slowLocator struct{}

func (slowLocator) Locate(ctx context.Context, _ Options) (Sample, error) {
	<-ctx.Done()
	return Sample{}, ctx.Err()
}

func TestLocateTimeout(t *testing.T) {
	_, err := Locate(context.Background(), slowLocator{}, Options{Timeout: 10 * time.Millisecond})
	var locErr *LocationError
	if !errors.As(err, &locErr) || locErr.Code != CodeTimeout {
		t.Fatalf("expected timeout location error, got %v", err)
	}
}

type stuckLocator struct{ release chan struct{} }

func (l stuckLocator) Locate(context.Context, Options) (Sample, error) {
	<-l.release
	return Sample{Latitude: 5.7, Longitude: -0.18}, nil
}

func TestLocateTimeoutIgnoredContext(t *testing.T) {
	locator := stuckLocator{release: make(chan struct{})}
	defer close(locator.release)

	start := time.Now()
	_, err := Locate(context.Background(), locator, Options{Timeout: 20 * time.Millisecond})
	var locErr *LocationError
	if !errors.As(err, &locErr) || locErr.Code != CodeTimeout {
		t.Fatalf("expected timeout location error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("locate overran its bound: %s", elapsed)
	}
}

func TestLocateReported(t *testing.T) {
	sample := Sample{Latitude: 5.7, Longitude: -0.18, AccuracyMeters: 12}
	got, err := Locate(context.Background(), ReportedLocator{Sample: &sample}, DefaultOptions())
	if err != nil || got != sample {
		t.Fatalf("expected reported sample, got %+v err=%v", got, err)
	}

	_, err = Locate(context.Background(), ReportedLocator{Err: ClassifyCode(1)}, DefaultOptions())
	var locErr *LocationError
	if !errors.As(err, &locErr) || locErr.Code != CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}

	_, err = Locate(context.Background(), StaticLocator{Sample: Sample{Latitude: 200}}, DefaultOptions())
	if !errors.As(err, &locErr) || locErr.Code != CodeUnavailable {
		t.Fatalf("expected invalid coordinate to be unavailable, got %v", err)
	}
}
