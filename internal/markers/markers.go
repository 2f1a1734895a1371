package markers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindCheckIn  Kind = "checkin"
	KindCheckOut Kind = "checkout"
)

type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

const permissionKey = "attendance:location_permission"

// Marker is the advisory local record that a check-in or checkout happened
// on a given calendar day. The server record stays authoritative.
type Marker struct {
	Date            string    `json:"date"`
	Kind            Kind      `json:"kind"`
	Completed       bool      `json:"completed"`
	Timestamp       time.Time `json:"timestamp"`
	WorkingLocation string    `json:"workingLocation,omitempty"`
	ForceCheckout   bool      `json:"forceCheckout,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	AttemptID       string    `json:"attemptId,omitempty"`
	Migrated        bool      `json:"migrated,omitempty"`
}

type Store struct {
	storage Storage
	loc     *time.Location
}

// NewStore scopes markers to calendar days in loc. A nil loc means UTC.
func NewStore(storage Storage, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{storage: storage, loc: loc}
}

func (s *Store) Storage() Storage {
	return s.storage
}

// DayKey is the canonical YYYY-MM-DD date for day in the store's location.
func (s *Store) DayKey(day time.Time) string {
	return day.In(s.loc).Format("2006-01-02")
}

func canonicalKey(kind Kind, date string) string {
	return fmt.Sprintf("attendance:%s:%s", kind, date)
}

func (s *Store) RecordCheckIn(ctx context.Context, day time.Time, m Marker) error {
	return s.record(ctx, KindCheckIn, day, m)
}

func (s *Store) RecordCheckOut(ctx context.Context, day time.Time, m Marker) error {
	return s.record(ctx, KindCheckOut, day, m)
}

func (s *Store) record(ctx context.Context, kind Kind, day time.Time, m Marker) error {
	m.Kind = kind
	m.Date = s.DayKey(day)
	if m.Timestamp.IsZero() {
		m.Timestamp = day
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, canonicalKey(kind, m.Date), string(data))
}

func (s *Store) CheckIn(ctx context.Context, day time.Time) (Marker, bool, error) {
	return s.lookup(ctx, KindCheckIn, day)
}

func (s *Store) CheckOut(ctx context.Context, day time.Time) (Marker, bool, error) {
	return s.lookup(ctx, KindCheckOut, day)
}

// AlreadyCheckedOut reports whether any recognised checkout marker exists
// for day, canonical or legacy.
func (s *Store) AlreadyCheckedOut(ctx context.Context, day time.Time) (bool, error) {
	_, ok, err := s.CheckOut(ctx, day)
	return ok, err
}

func (s *Store) lookup(ctx context.Context, kind Kind, day time.Time) (Marker, bool, error) {
	date := s.DayKey(day)
	raw, ok, err := s.storage.Get(ctx, canonicalKey(kind, date))
	if err != nil {
		return Marker{}, false, err
	}
	if ok {
		var m Marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return Marker{}, false, fmt.Errorf("decode %s marker: %w", kind, err)
		}
		return m, m.Completed, nil
	}
	return s.migrate(ctx, kind, day)
}

// migrate scans the legacy key variants once. A hit is consolidated into the
// canonical key and the legacy entries for that kind are removed.
func (s *Store) migrate(ctx context.Context, kind Kind, day time.Time) (Marker, bool, error) {
	var (
		found  Marker
		hit    bool
		legacy []string
	)
	for _, key := range LegacyKeys(kind, day, s.loc) {
		raw, ok, err := s.storage.Get(ctx, key)
		if err != nil {
			return Marker{}, false, err
		}
		if !ok {
			continue
		}
		if !strings.HasPrefix(key, "attendance_") {
			legacy = append(legacy, key)
		}
		if hit {
			continue
		}
		if m, ok := parseLegacy(kind, raw); ok {
			found = m
			hit = true
		}
	}
	if !hit {
		return Marker{}, false, nil
	}

	found.Migrated = true
	if err := s.record(ctx, kind, day, found); err != nil {
		return Marker{}, false, err
	}
	for _, key := range legacy {
		if err := s.storage.Delete(ctx, key); err != nil {
			return Marker{}, false, err
		}
	}
	found.Kind = kind
	found.Date = s.DayKey(day)
	return found, true, nil
}

// DateVariants lists the date spellings older clients used for day:
// YYYY-MM-DD, Date.toDateString(), the UTC ISO date and the en-US locale date.
func DateVariants(day time.Time, loc *time.Location) []string {
	local := day.In(loc)
	candidates := []string{
		local.Format("2006-01-02"),
		local.Format("Mon Jan 02 2006"),
		day.UTC().Format("2006-01-02"),
		local.Format("1/2/2006"),
	}
	seen := map[string]bool{}
	variants := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		variants = append(variants, c)
	}
	return variants
}

// LegacyKeys lists every key an older client may have written for kind on day.
func LegacyKeys(kind Kind, day time.Time, loc *time.Location) []string {
	prefixes := []string{string(kind) + "_", string(kind) + "_info_", "attendance_"}
	var keys []string
	for _, date := range DateVariants(day, loc) {
		for _, prefix := range prefixes {
			keys = append(keys, prefix+date)
		}
	}
	return keys
}

type legacyRecord struct {
	Completed       *bool  `json:"completed"`
	Timestamp       string `json:"timestamp"`
	CheckInTime     string `json:"checkInTime"`
	CheckOutTime    string `json:"checkOutTime"`
	CheckedIn       *bool  `json:"checkedIn"`
	CheckedOut      *bool  `json:"checkedOut"`
	WorkingLocation string `json:"workingLocation"`
	ForceCheckout   bool   `json:"forceCheckout"`
	Reason          string `json:"reason"`
}

func parseLegacy(kind Kind, raw string) (Marker, bool) {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "", "false", "0", "null", "undefined":
		return Marker{}, false
	case "true", "1", "yes":
		return Marker{Completed: true}, true
	}

	var rec legacyRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		// Bare timestamps were stored by some screens.
		if ts, ok := parseTimestamp(value); ok {
			return Marker{Completed: true, Timestamp: ts}, true
		}
		return Marker{}, false
	}

	m := Marker{
		WorkingLocation: rec.WorkingLocation,
		ForceCheckout:   rec.ForceCheckout,
		Reason:          rec.Reason,
	}
	stamp := rec.Timestamp
	present := false
	switch kind {
	case KindCheckIn:
		present = isTrue(rec.CheckedIn) || rec.CheckInTime != ""
		if rec.CheckInTime != "" {
			stamp = rec.CheckInTime
		}
	case KindCheckOut:
		present = isTrue(rec.CheckedOut) || rec.CheckOutTime != ""
		if rec.CheckOutTime != "" {
			stamp = rec.CheckOutTime
		}
	}
	if !present && rec.CheckedIn == nil && rec.CheckedOut == nil {
		if rec.Completed != nil {
			present = *rec.Completed
		} else {
			present = rec.Timestamp != "" || rec.WorkingLocation != ""
		}
	}
	if !present {
		return Marker{}, false
	}
	m.Completed = true
	if ts, ok := parseTimestamp(stamp); ok {
		m.Timestamp = ts
	}
	return m, true
}

func isTrue(v *bool) bool {
	return v != nil && *v
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (s *Store) LocationPermission(ctx context.Context) (PermissionStatus, error) {
	raw, ok, err := s.storage.Get(ctx, permissionKey)
	if err != nil {
		return PermissionUnknown, err
	}
	if !ok {
		return PermissionUnknown, nil
	}
	switch PermissionStatus(raw) {
	case PermissionGranted, PermissionDenied:
		return PermissionStatus(raw), nil
	default:
		return PermissionUnknown, nil
	}
}

func (s *Store) SetLocationPermission(ctx context.Context, status PermissionStatus) error {
	return s.storage.Set(ctx, permissionKey, string(status))
}
