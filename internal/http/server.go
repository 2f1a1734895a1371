package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vireworkplace/attendance/internal/config"
	"vireworkplace/attendance/internal/geo"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/workflow"
)

type Server struct {
	cfg      config.Config
	sessions *Sessions
}

func NewServer(cfg config.Config, storage markers.Storage, clock workflow.Clock) *Server {
	return &Server{cfg: cfg, sessions: NewSessions(cfg, storage, clock)}
}

func (s *Server) Sessions() *Sessions {
	return s.sessions
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/attendance", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/session", s.handleGetSession)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/checkin", s.handleCheckIn)
		r.Post("/checkout", s.handleCheckOut)
		r.Post("/checkout/force", s.handleForceCheckout)
		r.Post("/acknowledge", s.handleAcknowledge)
		r.Post("/retry", s.handleRetry)
		r.Post("/discard", s.handleDiscard)
	})

	return r
}

// Auth

type sessionKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s.sessions.get(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session {
	value := ctx.Value(sessionKey{})
	sess, _ := value.(*session)
	return sess
}

// Handlers

type sessionResponse struct {
	Session workflow.Snapshot `json:"session"`
	Notices []workflow.Notice `json:"notices"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

type checkInRequest struct {
	WorkingLocation string           `json:"workingLocation"`
	Location        *locationPayload `json:"location"`
	LocationError   string           `json:"locationError"`
}

type checkOutRequest struct {
	DailySummary string `json:"dailySummary"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	s.respond(w, sess, sess.workflow.Snapshot(), nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	snap, err := sess.workflow.Refresh(r.Context())
	if err != nil {
		log.Printf("status refresh error: %v", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable")
		return
	}
	s.respond(w, sess, snap, nil)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req checkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	location, err := workflow.ParseWorkingLocation(req.WorkingLocation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	checkIn := workflow.CheckInRequest{WorkingLocation: location}
	if location == workflow.Office {
		checkIn.Locator = reportedLocator(req)
	}
	snap, err := sess.workflow.CheckIn(r.Context(), checkIn)
	s.respond(w, sess, snap, err)
}

// reportedLocator replays what the browser reported. A missing fix counts as
// an unavailable position.
func reportedLocator(req checkInRequest) geo.ReportedLocator {
	if strings.TrimSpace(req.LocationError) != "" {
		return geo.ReportedLocator{Err: geo.ParseCode(req.LocationError)}
	}
	if req.Location == nil {
		return geo.ReportedLocator{}
	}
	return geo.ReportedLocator{Sample: &geo.Sample{
		Latitude:       req.Location.Latitude,
		Longitude:      req.Location.Longitude,
		AccuracyMeters: req.Location.Accuracy,
	}}
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req checkOutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	snap, err := sess.workflow.CheckOut(r.Context(), req.DailySummary)
	s.respond(w, sess, snap, err)
}

func (s *Server) handleForceCheckout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	snap, err := sess.workflow.ForceCheckout(r.Context())
	s.respond(w, sess, snap, err)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	snap, err := sess.workflow.Acknowledge()
	s.respond(w, sess, snap, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	snap, err := sess.workflow.Retry()
	s.respond(w, sess, snap, err)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	s.respond(w, sess, sess.workflow.Discard(), nil)
}

func (s *Server) respond(w http.ResponseWriter, sess *session, snap workflow.Snapshot, err error) {
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("attendance workflow error: %v", err)
		}
		writeError(w, status, code)
		return
	}
	notices, loginRequired := sess.presenter.Drain()
	if loginRequired || snap.State == workflow.StateSessionExpired {
		writeError(w, http.StatusUnauthorized, "session_expired")
		return
	}
	if notices == nil {
		notices = []workflow.Notice{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: snap, Notices: notices})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrSummaryRequired), errors.Is(err, workflow.ErrInvalidWorkingLocation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, workflow.ErrBusy), errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrNoCheckIn):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
