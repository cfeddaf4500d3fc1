package eapi

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the three failure tiers.
var (
	ErrTransport     = errors.New("eapi: transport failure")
	ErrCommandFailed = errors.New("eapi: command failed")
	ErrProtocol      = errors.New("eapi: protocol violation")
)

// Breakdown attributes a failed batch to its commands: which passed, which
// failed and which never ran. It is plain data; CommandError carries it as
// an error.
type Breakdown struct {
	RequestID string
	Code      int
	Message   string
	Results   []CommandResult
}

// PassedIndexes returns indexes of successful commands.
func (b *Breakdown) PassedIndexes() []int {
	return b.indexes(func(r CommandResult) bool { return r.Success })
}

// FailedIndexes returns indexes of unsuccessful commands, not-executed ones
// included.
func (b *Breakdown) FailedIndexes() []int {
	return b.indexes(func(r CommandResult) bool { return !r.Success })
}

// NotExecutedIndexes returns indexes of commands the device skipped.
func (b *Breakdown) NotExecutedIndexes() []int {
	return b.indexes(func(r CommandResult) bool { return !r.WasExecuted })
}

// Passed returns the results of successful commands.
func (b *Breakdown) Passed() []CommandResult {
	return b.pick(b.PassedIndexes())
}

// Failed returns the results of commands that ran and failed.
func (b *Breakdown) Failed() []CommandResult {
	return b.pick(b.indexes(func(r CommandResult) bool { return r.WasExecuted && !r.Success }))
}

// NotExecuted returns the command lines the device skipped.
func (b *Breakdown) NotExecuted() []string {
	var cmds []string
	for _, i := range b.NotExecutedIndexes() {
		cmds = append(cmds, b.Results[i].Command)
	}
	return cmds
}

// FirstFailed returns the first command that ran and failed.
func (b *Breakdown) FirstFailed() (CommandResult, bool) {
	for _, r := range b.Results {
		if r.WasExecuted && !r.Success {
			return r, true
		}
	}
	return CommandResult{}, false
}

func (b *Breakdown) indexes(match func(CommandResult) bool) []int {
	var idx []int
	for i, r := range b.Results {
		if match(r) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (b *Breakdown) pick(idx []int) []CommandResult {
	out := make([]CommandResult, 0, len(idx))
	for _, i := range idx {
		out = append(out, b.Results[i])
	}
	return out
}

// CommandError is returned instead of a ResponseSet when the caller asked
// for failed batches to be reported as errors.
type CommandError struct {
	*Breakdown
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("eapi: error %d: %s", e.Code, e.Message)
	if first, ok := e.FirstFailed(); ok {
		msg += fmt.Sprintf(" (%q: %s)", first.Command, strings.Join(first.Errors, "; "))
	}
	if skipped := len(e.NotExecutedIndexes()); skipped > 0 {
		msg += fmt.Sprintf(", %d not executed", skipped)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Aggregate builds the CommandError for a top-level reply error to req.
// Under stop-on-error the breakdown includes the not-executed tail. Without
// it every command ran, and a payload count different from the command count
// is a *ProtocolError.
func Aggregate(rpcErr *JSONRPCError, req *Request) (*CommandError, error) {
	if rpcErr == nil {
		return nil, &ProtocolError{Reason: "no top-level error to aggregate"}
	}
	rs, err := ParseResponse(&JSONRPCResponse{ID: req.ID, Error: rpcErr}, req, ParseOptions{})
	if err != nil {
		return nil, err
	}
	return &CommandError{Breakdown: rs.Breakdown()}, nil
}

// ProtocolError reports a reply that breaks the indexing contract between
// commands and payloads. It is never a per-command failure.
type ProtocolError struct {
	Reason   string
	Commands int
	Payloads int
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := "eapi: protocol violation: " + e.Reason
	if e.Commands > 0 || e.Payloads > 0 {
		msg += fmt.Sprintf(" (%d commands, %d payloads)", e.Commands, e.Payloads)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

// TransportError wraps failures that happen before a reply is decoded.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("eapi: %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("eapi: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}
