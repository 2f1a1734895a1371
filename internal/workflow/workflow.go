package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"vireworkplace/attendance/internal/api"
	"vireworkplace/attendance/internal/config"
	"vireworkplace/attendance/internal/geo"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/metrics"
)

type State string

const (
	StateNotCheckedIn      State = "not_checked_in"
	StateCheckingIn        State = "checking_in"
	StateCheckedIn         State = "checked_in"
	StateCheckingOut       State = "checking_out"
	StateCheckedOut        State = "checked_out"
	StateLocationError     State = "location_error"
	StateAlreadyCheckedOut State = "already_checked_out"
	StateOvertime          State = "overtime"
	StateBackendSyncIssue  State = "backend_sync_issue"
	StateError             State = "error"
	StateSessionExpired    State = "session_expired"
)

// resting states are the ones the workflow returns to after a dialog closes.
func (s State) resting() bool {
	return s == StateNotCheckedIn || s == StateCheckedIn || s == StateCheckedOut
}

type WorkingLocation string

const (
	Office WorkingLocation = "office"
	Remote WorkingLocation = "remote"
)

func ParseWorkingLocation(raw string) (WorkingLocation, error) {
	switch WorkingLocation(strings.ToLower(strings.TrimSpace(raw))) {
	case Office:
		return Office, nil
	case Remote:
		return Remote, nil
	default:
		return "", ErrInvalidWorkingLocation
	}
}

type Operation string

const (
	OpCheckIn  Operation = "checkin"
	OpCheckOut Operation = "checkout"
)

var (
	ErrBusy                   = errors.New("request_in_progress")
	ErrSummaryRequired        = errors.New("daily_summary_required")
	ErrNoCheckIn              = errors.New("no_checkin_found")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrInvalidWorkingLocation = errors.New("invalid_working_location")
)

// Snapshot is the externally visible state of a workflow. Only the fields
// relevant to State are populated.
type Snapshot struct {
	State                  State           `json:"state"`
	Operation              Operation       `json:"operation,omitempty"`
	WorkingLocation        WorkingLocation `json:"workingLocation,omitempty"`
	Message                string          `json:"message,omitempty"`
	LocationErrorCode      geo.Code        `json:"locationErrorCode,omitempty"`
	DistanceMeters         *float64        `json:"distanceMeters,omitempty"`
	Attendance             *api.Attendance `json:"attendance,omitempty"`
	Late                   bool            `json:"late,omitempty"`
	OvertimeHours          float64         `json:"overtimeHours,omitempty"`
	PendingSummary         string          `json:"pendingSummary,omitempty"`
	ForceCheckoutAvailable bool            `json:"forceCheckoutAvailable,omitempty"`
	ForcedCheckout         bool            `json:"forcedCheckout,omitempty"`
	Retryable              bool            `json:"retryable,omitempty"`
	AttemptID              string          `json:"attemptId,omitempty"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// API is the subset of the remote attendance API the workflow drives.
type API interface {
	Status(ctx context.Context) (api.Status, error)
	CheckIn(ctx context.Context, req api.CheckInRequest) (api.CheckInResult, error)
	CheckOut(ctx context.Context, dailySummary string) (api.CheckOutResult, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Options struct {
	Fence        geo.Fence
	Locate       geo.Options
	Locator      geo.Locator
	Location     *time.Location
	CutoffHour   int
	CutoffMinute int
	DismissDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Fence:        geo.Fence{Latitude: 5.767477, Longitude: -0.180019, RadiusMeters: 50},
		Locate:       geo.DefaultOptions(),
		Location:     time.UTC,
		CutoffHour:   17,
		DismissDelay: 2 * time.Second,
	}
}

// OptionsFromConfig builds workflow options for the configured office.
func OptionsFromConfig(cfg config.Config) Options {
	hour, minute := cfg.CutoffClock()
	locate := geo.DefaultOptions()
	if cfg.LocationTimeout > 0 {
		locate.Timeout = cfg.LocationTimeout
	}
	return Options{
		Fence:        geo.Fence{Latitude: cfg.OfficeLatitude, Longitude: cfg.OfficeLongitude, RadiusMeters: cfg.OfficeRadiusMeters},
		Locate:       locate,
		Location:     cfg.OfficeLocation(),
		CutoffHour:   hour,
		CutoffMinute: minute,
		DismissDelay: cfg.SuccessDismissDelay,
	}
}

type Workflow struct {
	api       API
	markers   *markers.Store
	presenter Presenter
	clock     Clock
	opts      Options

	mu         sync.Mutex
	snap       Snapshot
	resting    State
	busy       bool
	generation uint64
}

func New(client API, store *markers.Store, presenter Presenter, clock Clock, opts Options) *Workflow {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	w := &Workflow{
		api:       client,
		markers:   store,
		presenter: presenter,
		clock:     clock,
		opts:      opts,
		resting:   StateNotCheckedIn,
	}
	w.snap = Snapshot{State: StateNotCheckedIn, UpdatedAt: clock.Now()}
	return w
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Busy reports whether a transition is in flight.
func (w *Workflow) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// acquire marks the workflow busy after check accepts the current snapshot.
func (w *Workflow) acquire(check func(Snapshot) error) (uint64, Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return 0, w.snap, ErrBusy
	}
	if check != nil {
		if err := check(w.snap); err != nil {
			return 0, w.snap, err
		}
	}
	w.busy = true
	return w.generation, w.snap, nil
}

func (w *Workflow) release(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen == w.generation {
		w.busy = false
	}
}

// enter replaces the snapshot unless the workflow was discarded since gen
// was taken; stale outcomes are dropped.
func (w *Workflow) enter(gen uint64, snap Snapshot) bool {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return false
	}
	snap.UpdatedAt = w.clock.Now()
	w.snap = snap
	if snap.State.resting() {
		w.resting = snap.State
	}
	w.mu.Unlock()
	metrics.ObserveTransition(string(snap.State))
	return true
}

func (w *Workflow) notify(ok bool, n Notice) {
	if ok {
		w.presenter.Notify(n)
	}
}

// pastCutoff reports whether now is at or after the overtime cutoff on the
// office's wall clock.
func (w *Workflow) pastCutoff(now time.Time) bool {
	local := now.In(w.opts.Location)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), w.opts.CutoffHour, w.opts.CutoffMinute, 0, 0, w.opts.Location)
	return !local.Before(cutoff)
}

func (w *Workflow) dismissMs() int64 {
	d := w.opts.DismissDelay
	if d <= 0 {
		d = 2 * time.Second
	}
	return int64(d / time.Millisecond)
}

func floatPtr(v float64) *float64 {
	return &v
}
