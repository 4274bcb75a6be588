// Package audit keeps a journal of topology setup cycles.
package audit

import (
	"errors"
	"os"
	"os/user"
	"time"

	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/verify"
)

// Event records one setup cycle. ID is the cycle id; Source is the fabric
// file or STATE_DB address the catalog came from; Stage is set on failure.
type Event struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	User       string           `json:"user"`
	Host       string           `json:"host,omitempty"`
	Command    string           `json:"command"`
	Source     string           `json:"source"`
	Policy     spec.MatchPolicy `json:"policy"`
	Success    bool             `json:"success"`
	Stage      fabric.Stage     `json:"stage,omitempty"`
	Error      string           `json:"error,omitempty"`
	Devices    int              `json:"devices"`
	Mapped     int              `json:"mapped"`
	Mismatches map[string]int   `json:"mismatches,omitempty"`
	Apertures  int              `json:"apertures"`
	Routes     int              `json:"routes"`
	Paths      int              `json:"paths"`
	Unused     int              `json:"unused_connections"`
	Duration   time.Duration    `json:"duration"`
}

// Filter defines criteria for querying the journal. Offset skips the oldest
// matches; Limit then keeps the newest.
type Filter struct {
	Command     string
	Source      string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event for the current user.
func NewEvent(command, source string, policy spec.MatchPolicy) *Event {
	e := &Event{
		Timestamp: time.Now(),
		Command:   command,
		Source:    source,
		Policy:    policy,
	}
	if u, err := user.Current(); err == nil {
		e.User = u.Username
	}
	e.Host, _ = os.Hostname()
	return e
}

// WithResult copies the outcome of a setup cycle into the event.
func (e *Event) WithResult(r *fabric.Result) *Event {
	if r == nil {
		return e
	}
	s := r.Summary()
	e.ID = s.CycleID
	e.Timestamp = r.Started
	e.Devices = s.Devices
	e.Mapped = len(s.Mapped)
	e.Apertures = len(s.Apertures)
	e.Routes = s.Routes
	e.Paths = s.Paths
	e.Unused = s.Unused
	e.Duration = r.Duration
	if len(r.Mismatches) > 0 {
		e.Mismatches = make(map[string]int)
		for k, n := range verify.Summarize(r.Mismatches) {
			e.Mismatches[string(k)] = n
		}
	}
	return e
}

// WithError marks the event as failed. A nil error marks it successful.
func (e *Event) WithError(err error) *Event {
	e.Success = err == nil
	if err == nil {
		return e
	}
	e.Error = err.Error()
	var serr *fabric.SetupError
	if errors.As(err, &serr) {
		e.Stage = serr.Stage
	}
	return e
}
