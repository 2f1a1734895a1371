package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"vireworkplace/attendance/internal/api"
	"vireworkplace/attendance/internal/auth"
	"vireworkplace/attendance/internal/config"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/workflow"
)

const sessionIdleTTL = 24 * time.Hour

type session struct {
	token     *auth.MemoryLocation
	workflow  *workflow.Workflow
	presenter *workflow.Recorder
	lastSeen  time.Time
}

// Sessions keeps one workflow per bearer token. Claims are never trusted for
// routing: the upstream is the only party that verifies a token, so two tokens
// only share state if they are byte-identical.
type Sessions struct {
	cfg     config.Config
	storage markers.Storage
	clock   workflow.Clock

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(cfg config.Config, storage markers.Storage, clock workflow.Clock) *Sessions {
	if storage == nil {
		storage = markers.NewMemoryStorage()
	}
	if clock == nil {
		clock = workflow.SystemClock{}
	}
	return &Sessions{cfg: cfg, storage: storage, clock: clock, sessions: map[string]*session{}}
}

// tokenKey identifies a session by a digest of the full token.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token-" + hex.EncodeToString(sum[:])
}

func (s *Sessions) get(token string) *session {
	key := tokenKey(token)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = s.newSession(key, token)
		s.sessions[key] = sess
	}
	sess.lastSeen = now
	return sess
}

func (s *Sessions) newSession(key, bearer string) *session {
	token := auth.NewMemoryLocation(bearer)
	client := api.New(s.cfg.APIBaseURL, s.cfg.APITimeout, auth.NewTokens(token))
	store := markers.NewStore(markers.NewNamespaced(s.storage, "session:"+key), s.cfg.OfficeLocation())
	presenter := &workflow.Recorder{}
	return &session{
		token:     token,
		workflow:  workflow.New(client, store, presenter, s.clock, workflow.OptionsFromConfig(s.cfg)),
		presenter: presenter,
	}
}

// Len reports the number of tracked sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RefreshAll pulls the remote status for every session that still holds a
// token and evicts sessions idle for longer than a day. Expired logins are
// not reported as errors.
func (s *Sessions) RefreshAll(ctx context.Context) (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	active := make([]*session, 0, len(s.sessions))
	for key, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > sessionIdleTTL {
			delete(s.sessions, key)
			continue
		}
		active = append(active, sess)
	}
	s.mu.Unlock()

	var (
		refreshed int
		errs      []error
	)
	for _, sess := range active {
		if _, ok, _ := sess.token.Load(ctx); !ok {
			continue
		}
		if _, err := sess.workflow.Refresh(ctx); err != nil {
			if !api.IsAuth(err) {
				errs = append(errs, err)
			}
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}
