// Package audit records command batches that may change device state.
package audit

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/eapitest/pkg/eapi"
)

// Event is one audited batch on one device. Commands holds command lines
// only; parameters such as enable passwords are never recorded.
type Event struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	User          string        `json:"user"`
	Device        string        `json:"device"`
	Operation     string        `json:"operation"`
	RequestID     string        `json:"request_id,omitempty"`
	Commands      []string      `json:"commands"`
	ExecutedCount int           `json:"executed_count"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Operations recorded by the CLI.
const (
	OpExec           = "exec"
	OpClearBlacklist = "evpn.clear-blacklist"
)

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event for req on device, run by the current user.
func NewEvent(device, operation string, req *eapi.Request) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      currentUser(),
		Device:    device,
		Operation: operation,
	}
	if req != nil {
		e.RequestID = req.ID
		e.Commands = req.CommandTexts()
	}
	return e
}

// WithResult records the outcome of the batch. A reply with a top-level
// error, or any failed command, counts as a failure even when err is nil.
func (e *Event) WithResult(rs *eapi.ResponseSet, err error) *Event {
	switch {
	case err != nil:
		e.Success = false
		e.Error = err.Error()
		if b, ok := breakdownOf(err); ok {
			e.ExecutedCount = executed(b.Results)
		}
	case rs != nil:
		e.Success = rs.AllPassed()
		e.ExecutedCount = rs.ExecutedCount()
		switch {
		case !rs.Success():
			e.Error = rs.ErrorMessage()
		case !e.Success:
			e.Error = firstFailure(rs)
		}
	}
	return e
}

// WithDuration sets the batch duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// firstFailure describes the first failed command of a reply that carried
// no top-level error.
func firstFailure(rs *eapi.ResponseSet) string {
	i, ok := rs.FirstFailedIndex()
	if !ok {
		return ""
	}
	r, _ := rs.Result(i)
	return fmt.Sprintf("command %d '%s' failed: %s", i+1, r.Command, strings.Join(r.Errors, "; "))
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func executed(results []eapi.CommandResult) int {
	n := 0
	for _, r := range results {
		if r.WasExecuted {
			n++
		}
	}
	return n
}
