package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"vireworkplace/attendance/internal/api"
	"vireworkplace/attendance/internal/geo"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/metrics"
)

const (
	checkInFallback       = "Failed to check in. Please try again."
	checkOutFallback      = "Failed to check out. Please try again."
	sessionExpiredMessage = "Your session has expired. Please log in again."
	forceCheckoutReason   = "The server could not find today's attendance record; checkout was recorded locally."
)

var retryActions = []string{"retry", "discard"}

type CheckInRequest struct {
	WorkingLocation WorkingLocation
	// Locator overrides the workflow's default locator for this attempt.
	Locator geo.Locator
}

// CheckIn runs the check-in transition. Outcomes (including location and
// server failures) are reported through the returned snapshot; the error is
// reserved for local rejections.
func (w *Workflow) CheckIn(ctx context.Context, req CheckInRequest) (Snapshot, error) {
	location, err := ParseWorkingLocation(string(req.WorkingLocation))
	if err != nil {
		return w.Snapshot(), err
	}

	gen, current, err := w.acquire(nil)
	if err != nil {
		return current, err
	}
	defer w.release(gen)

	switch current.State {
	case StateCheckedIn, StateCheckingOut:
		w.presenter.Notify(Notice{Kind: NoticeInfo, Title: "Already checked in", Message: "You have already checked in today.", AutoDismissMs: w.dismissMs()})
		return current, nil
	case StateCheckedOut, StateAlreadyCheckedOut, StateOvertime:
		w.presenter.Notify(Notice{Kind: NoticeInfo, Title: "Attendance complete", Message: "You have already checked out for today.", AutoDismissMs: w.dismissMs()})
		return current, nil
	}
	if snap, done, err := w.checkInFromMarkers(ctx, gen, current); err != nil || done {
		return snap, err
	}

	attemptID := uuid.NewString()
	pending := Snapshot{State: StateCheckingIn, Operation: OpCheckIn, WorkingLocation: location, AttemptID: attemptID}
	w.enter(gen, pending)

	checkIn := api.CheckInRequest{WorkingLocation: string(location)}
	if location == Office {
		locator := req.Locator
		if locator == nil {
			locator = w.opts.Locator
		}
		sample, err := geo.Locate(ctx, locator, w.opts.Locate)
		if err != nil {
			return w.locationFailure(ctx, gen, pending, err), nil
		}
		if w.markers != nil {
			if err := w.markers.SetLocationPermission(ctx, markers.PermissionGranted); err != nil {
				log.Printf("location permission store error: %v", err)
			}
		}
		result := w.opts.Fence.Check(sample)
		if !result.Within {
			metrics.ObserveLocationRejection("outside_fence")
			snap := pending
			snap.State = StateLocationError
			snap.Message = geo.OutsideFenceMessage(result, w.opts.Fence.RadiusMeters)
			snap.DistanceMeters = floatPtr(result.DistanceMeters)
			snap.Retryable = true
			ok := w.enter(gen, snap)
			w.notify(ok, Notice{Kind: NoticeError, Title: "Too far from the office", Message: snap.Message, RequiresAck: true, Actions: retryActions})
			return w.Snapshot(), nil
		}
		checkIn.Latitude = &sample.Latitude
		checkIn.Longitude = &sample.Longitude
	}

	now := w.clock.Now()
	res, err := w.api.CheckIn(ctx, checkIn)
	if err != nil {
		switch {
		case api.IsAuth(err):
			return w.sessionExpired(gen, pending), nil
		case api.IsAlreadyCheckedIn(err):
			w.recordCheckIn(ctx, now, location, attemptID, now)
			snap := Snapshot{State: StateCheckedIn, WorkingLocation: location, AttemptID: attemptID, Message: api.Message(err, "You have already checked in today.")}
			ok := w.enter(gen, snap)
			w.notify(ok, Notice{Kind: NoticeInfo, Title: "Already checked in", Message: snap.Message, AutoDismissMs: w.dismissMs()})
			return w.Snapshot(), nil
		default:
			snap := pending
			snap.State = StateError
			snap.Message = api.Message(err, checkInFallback)
			snap.Retryable = true
			ok := w.enter(gen, snap)
			w.notify(ok, Notice{Kind: NoticeError, Title: "Check-in failed", Message: snap.Message, RequiresAck: true, Actions: retryActions})
			return w.Snapshot(), nil
		}
	}

	stamp := now
	if res.Attendance.CheckInTime != nil {
		stamp = *res.Attendance.CheckInTime
	}
	w.recordCheckIn(ctx, now, location, attemptID, stamp)

	att := res.Attendance
	snap := Snapshot{State: StateCheckedIn, WorkingLocation: location, Attendance: &att, Late: res.Late, AttemptID: attemptID}
	message := fmt.Sprintf("You have checked in (%s).", location)
	if res.Late {
		message += " You are late today."
	}
	snap.Message = message
	ok := w.enter(gen, snap)
	w.notify(ok, Notice{Kind: NoticeSuccess, Title: "Checked in", Message: message, AutoDismissMs: w.dismissMs()})
	return w.Snapshot(), nil
}

// checkInFromMarkers answers a repeat check-in from today's local markers
// when the in-memory state has lost track of the day.
func (w *Workflow) checkInFromMarkers(ctx context.Context, gen uint64, current Snapshot) (Snapshot, bool, error) {
	if w.markers == nil {
		return current, false, nil
	}
	now := w.clock.Now()
	done, err := w.markers.AlreadyCheckedOut(ctx, now)
	if err != nil {
		return current, false, err
	}
	if done {
		snap := Snapshot{State: StateCheckedOut, WorkingLocation: current.WorkingLocation, Message: "You have already checked out for today."}
		ok := w.enter(gen, snap)
		w.notify(ok, Notice{Kind: NoticeInfo, Title: "Attendance complete", Message: snap.Message, AutoDismissMs: w.dismissMs()})
		return w.Snapshot(), true, nil
	}
	marker, found, err := w.markers.CheckIn(ctx, now)
	if err != nil {
		return current, false, err
	}
	if !found {
		return current, false, nil
	}
	snap := Snapshot{State: StateCheckedIn, WorkingLocation: WorkingLocation(marker.WorkingLocation), AttemptID: marker.AttemptID, Message: "You have already checked in today."}
	ok := w.enter(gen, snap)
	w.notify(ok, Notice{Kind: NoticeInfo, Title: "Already checked in", Message: snap.Message, AutoDismissMs: w.dismissMs()})
	return w.Snapshot(), true, nil
}

func (w *Workflow) locationFailure(ctx context.Context, gen uint64, pending Snapshot, err error) Snapshot {
	var locErr *geo.LocationError
	if !errors.As(err, &locErr) {
		locErr = geo.NewLocationError(geo.CodeUnknown)
	}
	if locErr.Code == geo.CodePermissionDenied && w.markers != nil {
		if err := w.markers.SetLocationPermission(ctx, markers.PermissionDenied); err != nil {
			log.Printf("location permission store error: %v", err)
		}
	}
	metrics.ObserveLocationRejection(string(locErr.Code))

	snap := pending
	snap.State = StateLocationError
	snap.LocationErrorCode = locErr.Code
	snap.Message = locErr.Message
	snap.Retryable = true
	ok := w.enter(gen, snap)
	w.notify(ok, Notice{Kind: NoticeError, Title: "Location error", Message: snap.Message, RequiresAck: true, Actions: retryActions})
	return w.Snapshot()
}

func (w *Workflow) recordCheckIn(ctx context.Context, day time.Time, location WorkingLocation, attemptID string, stamp time.Time) {
	if w.markers == nil {
		return
	}
	err := w.markers.RecordCheckIn(ctx, day, markers.Marker{
		Completed:       true,
		Timestamp:       stamp,
		WorkingLocation: string(location),
		AttemptID:       attemptID,
	})
	if err != nil {
		log.Printf("check-in marker write error: %v", err)
	}
}

func (w *Workflow) recordCheckOut(ctx context.Context, day time.Time, m markers.Marker) {
	if w.markers == nil {
		return
	}
	m.Completed = true
	if m.Timestamp.IsZero() {
		m.Timestamp = day
	}
	if err := w.markers.RecordCheckOut(ctx, day, m); err != nil {
		log.Printf("checkout marker write error: %v", err)
	}
}

func (w *Workflow) sessionExpired(gen uint64, pending Snapshot) Snapshot {
	snap := pending
	snap.State = StateSessionExpired
	snap.Message = sessionExpiredMessage
	snap.Retryable = false
	if w.enter(gen, snap) {
		w.presenter.RequireLogin()
	}
	return w.Snapshot()
}

// CheckOut runs the checkout transition for today.
func (w *Workflow) CheckOut(ctx context.Context, dailySummary string) (Snapshot, error) {
	summary := strings.TrimSpace(dailySummary)
	if summary == "" {
		return w.Snapshot(), ErrSummaryRequired
	}

	gen, current, err := w.acquire(nil)
	if err != nil {
		return current, err
	}
	defer w.release(gen)

	now := w.clock.Now()
	attemptID := uuid.NewString()
	base := Snapshot{Operation: OpCheckOut, WorkingLocation: current.WorkingLocation, Attendance: current.Attendance, PendingSummary: summary, AttemptID: attemptID}

	if w.markers != nil {
		done, err := w.markers.AlreadyCheckedOut(ctx, now)
		if err != nil {
			return current, err
		}
		if done {
			return w.alreadyCheckedOut(ctx, gen, base, now, "You have already checked out for today.", false), nil
		}
		if _, ok, err := w.markers.CheckIn(ctx, now); err != nil {
			return current, err
		} else if !ok {
			return current, ErrNoCheckIn
		}
	}

	pending := base
	pending.State = StateCheckingOut
	w.enter(gen, pending)

	res, err := w.api.CheckOut(ctx, summary)
	if err != nil {
		switch {
		case api.IsAuth(err):
			return w.sessionExpired(gen, pending), nil
		case api.IsAlreadyCheckedOut(err):
			return w.alreadyCheckedOut(ctx, gen, base, now, api.Message(err, "You have already checked out for today."), true), nil
		case api.IsNotFound(err):
			snap := pending
			snap.State = StateBackendSyncIssue
			snap.ForceCheckoutAvailable = true
			snap.Retryable = true
			snap.Message = "We found your check-in on this device, but the server has no matching attendance record. You can retry, or record your checkout on this device."
			ok := w.enter(gen, snap)
			w.notify(ok, Notice{Kind: NoticeWarning, Title: "Attendance record not found", Message: snap.Message, RequiresAck: true, Actions: []string{"force_checkout", "retry", "discard"}})
			return w.Snapshot(), nil
		default:
			snap := pending
			snap.State = StateError
			snap.Message = api.Message(err, checkOutFallback)
			snap.Retryable = true
			ok := w.enter(gen, snap)
			w.notify(ok, Notice{Kind: NoticeError, Title: "Checkout failed", Message: snap.Message, RequiresAck: true, Actions: retryActions})
			return w.Snapshot(), nil
		}
	}

	stamp := now
	if res.Attendance.CheckOutTime != nil {
		stamp = *res.Attendance.CheckOutTime
	}
	w.recordCheckOut(ctx, now, markers.Marker{Timestamp: stamp, WorkingLocation: string(base.WorkingLocation), AttemptID: attemptID})

	att := res.Attendance
	snap := Snapshot{Operation: OpCheckOut, WorkingLocation: base.WorkingLocation, Attendance: &att, OvertimeHours: res.OvertimeHours, AttemptID: attemptID}
	return w.completeCheckout(gen, snap, res.OvertimeHours > 0 || w.pastCutoff(now)), nil
}

func (w *Workflow) alreadyCheckedOut(ctx context.Context, gen uint64, base Snapshot, now time.Time, message string, record bool) Snapshot {
	if record {
		w.recordCheckOut(ctx, now, markers.Marker{WorkingLocation: string(base.WorkingLocation), AttemptID: base.AttemptID})
	}
	snap := base
	snap.State = StateAlreadyCheckedOut
	snap.PendingSummary = ""
	snap.Message = message
	ok := w.enter(gen, snap)
	w.notify(ok, Notice{Kind: NoticeInfo, Title: "Already checked out", Message: message, RequiresAck: true, Actions: []string{"acknowledge"}})
	return w.Snapshot()
}

// completeCheckout routes a finished checkout either to the overtime
// acknowledgement or straight to checked_out.
func (w *Workflow) completeCheckout(gen uint64, snap Snapshot, overtime bool) Snapshot {
	snap.PendingSummary = ""
	if overtime {
		snap.State = StateOvertime
		snap.Message = "You worked past closing time today. Your overtime has been recorded."
		if snap.OvertimeHours > 0 {
			snap.Message = fmt.Sprintf("You worked %.2f overtime hours today.", snap.OvertimeHours)
		}
		ok := w.enter(gen, snap)
		w.notify(ok, Notice{Kind: NoticeInfo, Title: "Overtime recorded", Message: snap.Message, RequiresAck: true, Actions: []string{"acknowledge"}})
		return w.Snapshot()
	}
	snap.State = StateCheckedOut
	if snap.Message == "" {
		snap.Message = "You have checked out. Have a good evening!"
	}
	ok := w.enter(gen, snap)
	w.notify(ok, Notice{Kind: NoticeSuccess, Title: "Checked out", Message: snap.Message, AutoDismissMs: w.dismissMs()})
	return w.Snapshot()
}

// ForceCheckout records today's checkout locally after the server could not
// find the session. It is only offered from backend_sync_issue.
func (w *Workflow) ForceCheckout(ctx context.Context) (Snapshot, error) {
	gen, current, err := w.acquire(func(s Snapshot) error {
		if s.State != StateBackendSyncIssue || !s.ForceCheckoutAvailable {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return current, err
	}
	defer w.release(gen)

	now := w.clock.Now()
	w.recordCheckOut(ctx, now, markers.Marker{
		Timestamp:       now,
		WorkingLocation: string(current.WorkingLocation),
		ForceCheckout:   true,
		Reason:          forceCheckoutReason,
		AttemptID:       current.AttemptID,
	})
	metrics.ObserveForcedCheckout()
	log.Printf("forced checkout recorded locally attempt=%s", current.AttemptID)

	snap := Snapshot{
		Operation:       OpCheckOut,
		WorkingLocation: current.WorkingLocation,
		Attendance:      current.Attendance,
		ForcedCheckout:  true,
		AttemptID:       current.AttemptID,
		Message:         "Your checkout was recorded on this device. It will be reconciled with the server later.",
	}
	return w.completeCheckout(gen, snap, w.pastCutoff(now)), nil
}

// Acknowledge closes a dialog that needs explicit dismissal.
func (w *Workflow) Acknowledge() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return w.snap, ErrBusy
	}
	var next State
	switch w.snap.State {
	case StateOvertime, StateAlreadyCheckedOut:
		next = StateCheckedOut
	case StateLocationError, StateSessionExpired:
		next = StateNotCheckedIn
	case StateError, StateBackendSyncIssue:
		next = w.resting
	default:
		return w.snap, ErrInvalidTransition
	}
	w.snap = Snapshot{State: next, WorkingLocation: w.snap.WorkingLocation, Attendance: w.snap.Attendance, UpdatedAt: w.clock.Now()}
	w.resting = next
	metrics.ObserveTransition(string(next))
	return w.snap, nil
}

// Retry returns a failed attempt to its form, keeping the selected working
// location and any typed summary.
func (w *Workflow) Retry() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return w.snap, ErrBusy
	}
	switch w.snap.State {
	case StateError, StateLocationError, StateBackendSyncIssue:
	default:
		return w.snap, ErrInvalidTransition
	}
	next := Snapshot{WorkingLocation: w.snap.WorkingLocation, Attendance: w.snap.Attendance, Operation: w.snap.Operation, UpdatedAt: w.clock.Now()}
	if w.snap.Operation == OpCheckOut {
		next.State = StateCheckedIn
		next.PendingSummary = w.snap.PendingSummary
	} else {
		next.State = StateNotCheckedIn
	}
	w.snap = next
	w.resting = next.State
	metrics.ObserveTransition(string(next.State))
	return w.snap, nil
}

// Discard abandons the current attempt. An in-flight request keeps running
// but its outcome no longer changes the workflow.
func (w *Workflow) Discard() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.busy = false
	w.snap = Snapshot{State: w.resting, WorkingLocation: w.snap.WorkingLocation, UpdatedAt: w.clock.Now()}
	metrics.ObserveTransition(string(w.resting))
	return w.snap
}

// Refresh pulls the server status. The server wins: resting state and local
// markers are rewritten from it. Open dialogs and in-flight attempts are left
// alone.
func (w *Workflow) Refresh(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	gen := w.generation
	w.mu.Unlock()

	status, err := w.api.Status(ctx)
	if err != nil {
		if api.IsAuth(err) && w.expireIdle(gen) {
			w.presenter.RequireLogin()
			return w.Snapshot(), nil
		}
		return w.Snapshot(), err
	}

	now := w.clock.Now()
	next := StateNotCheckedIn
	if status.CheckedIn {
		next = StateCheckedIn
	}
	if status.CheckedOut {
		next = StateCheckedOut
	}
	w.reconcileMarkers(ctx, now, status)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return w.snap, nil
	}
	w.resting = next
	if w.busy || !w.snap.State.resting() {
		return w.snap, nil
	}
	snap := Snapshot{State: next, Attendance: status.Attendance, UpdatedAt: now}
	if status.Attendance != nil {
		snap.WorkingLocation = WorkingLocation(status.Attendance.WorkingLocation)
		snap.Late = status.Attendance.IsLate
		snap.OvertimeHours = status.Attendance.OvertimeHours
	}
	if snap.State != w.snap.State {
		metrics.ObserveTransition(string(snap.State))
	}
	w.snap = snap
	return w.snap, nil
}

// expireIdle moves an idle workflow to session_expired. The busy check and the
// state change share one lock hold so a transition starting in between keeps
// its own snapshot.
func (w *Workflow) expireIdle(gen uint64) bool {
	w.mu.Lock()
	if w.busy || gen != w.generation {
		w.mu.Unlock()
		return false
	}
	snap := w.snap
	snap.State = StateSessionExpired
	snap.Message = sessionExpiredMessage
	snap.Retryable = false
	snap.UpdatedAt = w.clock.Now()
	w.snap = snap
	w.mu.Unlock()
	metrics.ObserveTransition(string(StateSessionExpired))
	return true
}

func (w *Workflow) reconcileMarkers(ctx context.Context, now time.Time, status api.Status) {
	if w.markers == nil {
		return
	}
	location := ""
	if status.Attendance != nil {
		location = status.Attendance.WorkingLocation
	}
	if status.CheckedIn || status.CheckedOut {
		if _, ok, err := w.markers.CheckIn(ctx, now); err == nil && !ok {
			stamp := now
			if status.Attendance != nil && status.Attendance.CheckInTime != nil {
				stamp = *status.Attendance.CheckInTime
			}
			w.recordCheckIn(ctx, now, WorkingLocation(location), "", stamp)
		}
	}
	if status.CheckedOut {
		if done, err := w.markers.AlreadyCheckedOut(ctx, now); err == nil && !done {
			stamp := now
			if status.Attendance != nil && status.Attendance.CheckOutTime != nil {
				stamp = *status.Attendance.CheckOutTime
			}
			w.recordCheckOut(ctx, now, markers.Marker{Timestamp: stamp, WorkingLocation: location})
		}
	}
}
