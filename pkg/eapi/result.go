package eapi

import (
	"encoding/json"
	"iter"
	"slices"
)

// CommandResult is the outcome of one command position in a batch.
// Success is true exactly when Errors is empty; a command that was never
// executed is never successful.
type CommandResult struct {
	Command     string   `json:"command"`
	Output      any      `json:"output"`
	Errors      []string `json:"errors"`
	Success     bool     `json:"success"`
	WasExecuted bool     `json:"was_executed"`
	StartTime   *float64 `json:"start_time,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
}

// JSON returns the output as a decoded JSON object.
func (r CommandResult) JSON() (map[string]any, bool) {
	m, ok := r.Output.(map[string]any)
	return m, ok
}

// Text returns the output as a string (text format, or a payload that was
// not valid JSON).
func (r CommandResult) Text() (string, bool) {
	s, ok := r.Output.(string)
	return s, ok
}

func (r CommandResult) clone() CommandResult {
	r.Errors = slices.Clone(r.Errors)
	r.Output = cloneValue(r.Output)
	if r.StartTime != nil {
		v := *r.StartTime
		r.StartTime = &v
	}
	if r.Duration != nil {
		v := *r.Duration
		r.Duration = &v
	}
	return r
}

// cloneValue deep-copies decoded JSON so callers cannot reach the set's
// own maps and slices.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// ResponseSet is the parsed reply to one Request, keyed by command index.
// It is immutable once returned by the parser and safe for concurrent reads.
type ResponseSet struct {
	requestID     string
	results       []CommandResult
	executedCount int
	errorCode     *int
	errorMessage  string
}

// responseBuilder is the only writer of a ResponseSet. build hands the set
// over and the builder must not be used afterwards.
type responseBuilder struct {
	rs *ResponseSet
}

func newResponseBuilder(requestID string, executedCount, size int) *responseBuilder {
	return &responseBuilder{rs: &ResponseSet{
		requestID:     requestID,
		results:       make([]CommandResult, 0, size),
		executedCount: executedCount,
	}}
}

func (b *responseBuilder) add(r CommandResult) {
	b.rs.results = append(b.rs.results, r)
}

func (b *responseBuilder) fail(code int, message string) {
	b.rs.errorCode = &code
	b.rs.errorMessage = message
}

func (b *responseBuilder) build() *ResponseSet {
	rs := b.rs
	b.rs = nil
	return rs
}

// RequestID returns the correlation id echoed by the device.
func (s *ResponseSet) RequestID() string { return s.requestID }

// Success reports whether the reply carried no top-level error. Individual
// commands can still have failed when stop-on-error was off.
func (s *ResponseSet) Success() bool { return s.errorCode == nil }

// AllPassed reports whether every command succeeded. Unlike Success it
// also catches commands that failed inside a reply without a top-level
// error, which happens when stop-on-error is off.
func (s *ResponseSet) AllPassed() bool {
	return s.errorCode == nil && len(s.FailedIndexes()) == 0
}

// ErrorCode returns the top-level error code, if any.
func (s *ResponseSet) ErrorCode() (int, bool) {
	if s.errorCode == nil {
		return 0, false
	}
	return *s.errorCode, true
}

// ErrorMessage returns the top-level error message ("" on success).
func (s *ResponseSet) ErrorMessage() string { return s.errorMessage }

// ExecutedCount is the number of commands the device ran.
func (s *ResponseSet) ExecutedCount() int { return s.executedCount }

// Len returns the number of indexed results.
func (s *ResponseSet) Len() int { return len(s.results) }

// Results returns all results in index order.
func (s *ResponseSet) Results() []CommandResult {
	out := make([]CommandResult, len(s.results))
	for i, r := range s.results {
		out[i] = r.clone()
	}
	return out
}

// All iterates over (index, result) pairs in index order.
func (s *ResponseSet) All() iter.Seq2[int, CommandResult] {
	return func(yield func(int, CommandResult) bool) {
		for i, r := range s.results {
			if !yield(i, r.clone()) {
				return
			}
		}
	}
}

// Result returns the result at index.
func (s *ResponseSet) Result(index int) (CommandResult, bool) {
	if index < 0 || index >= len(s.results) {
		return CommandResult{}, false
	}
	return s.results[index].clone(), true
}

// Output returns the output at index.
func (s *ResponseSet) Output(index int) (any, bool) {
	r, ok := s.Result(index)
	if !ok {
		return nil, false
	}
	return r.Output, true
}

// Errors returns the errors at index.
func (s *ResponseSet) Errors(index int) ([]string, bool) {
	r, ok := s.Result(index)
	if !ok {
		return nil, false
	}
	return r.Errors, true
}

// WasExecuted reports whether the device ran the command at index.
func (s *ResponseSet) WasExecuted(index int) bool {
	return index >= 0 && index < s.executedCount
}

// ExecutedIndexes returns [0, executed count).
func (s *ResponseSet) ExecutedIndexes() []int {
	idx := make([]int, s.executedCount)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// NotExecutedIndexes returns indexes synthesized for commands the device
// skipped after an earlier failure.
func (s *ResponseSet) NotExecutedIndexes() []int {
	var idx []int
	for i := s.executedCount; i < len(s.results); i++ {
		idx = append(idx, i)
	}
	return idx
}

// FailedIndexes returns indexes with Success == false, including
// not-executed ones.
func (s *ResponseSet) FailedIndexes() []int {
	return s.indexes(func(r CommandResult) bool { return !r.Success })
}

// PassedIndexes returns indexes with Success == true.
func (s *ResponseSet) PassedIndexes() []int {
	return s.indexes(func(r CommandResult) bool { return r.Success })
}

// FirstFailedIndex returns the smallest failed index.
func (s *ResponseSet) FirstFailedIndex() (int, bool) {
	for i, r := range s.results {
		if !r.Success {
			return i, true
		}
	}
	return 0, false
}

func (s *ResponseSet) indexes(match func(CommandResult) bool) []int {
	var idx []int
	for i, r := range s.results {
		if match(r) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Breakdown returns the per-command attribution of a failed batch, or nil
// when the reply carried no top-level error.
func (s *ResponseSet) Breakdown() *Breakdown {
	if s.errorCode == nil {
		return nil
	}
	return &Breakdown{
		RequestID: s.requestID,
		Code:      *s.errorCode,
		Message:   s.errorMessage,
		Results:   s.Results(),
	}
}

// MarshalJSON renders the set for reports and CLI output.
func (s *ResponseSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            string          `json:"id"`
		Success       bool            `json:"success"`
		ErrorCode     *int            `json:"error_code,omitempty"`
		ErrorMessage  string          `json:"error_message,omitempty"`
		ExecutedCount int             `json:"executed_count"`
		Results       []CommandResult `json:"results"`
	}{
		ID:            s.requestID,
		Success:       s.Success(),
		ErrorCode:     s.errorCode,
		ErrorMessage:  s.errorMessage,
		ExecutedCount: s.executedCount,
		Results:       s.results,
	})
}
