package workflow

import "sync"

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice is a toast or dialog the presentation layer should show.
// AutoDismissMs > 0 closes it after that many milliseconds; RequiresAck
// keeps it open until the user acknowledges.
type Notice struct {
	Kind          NoticeKind `json:"kind"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	AutoDismissMs int64      `json:"autoDismissMs,omitempty"`
	RequiresAck   bool       `json:"requiresAck,omitempty"`
	Actions       []string   `json:"actions,omitempty"`
}

// Presenter receives the UI side effects of transitions.
type Presenter interface {
	Notify(Notice)
	RequireLogin()
}

type NopPresenter struct{}

func (NopPresenter) Notify(Notice) {}
func (NopPresenter) RequireLogin() {}

// Recorder buffers notices until drained.
type Recorder struct {
	mu            sync.Mutex
	notices       []Notice
	loginRequired bool
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) RequireLogin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loginRequired = true
}

// Drain returns and clears buffered notices and the login flag.
func (r *Recorder) Drain() ([]Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notices := r.notices
	login := r.loginRequired
	r.notices = nil
	r.loginRequired = false
	return notices, login
}
