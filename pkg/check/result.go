package check

import "time"

// Status represents the outcome of a check or device run.
type Status string

const (
	StatusPassed  Status = "PASS"
	StatusFailed  Status = "FAIL"
	StatusSkipped Status = "SKIP"
	StatusError   Status = "ERROR"
)

// CheckResult holds the result of one check on one device.
type CheckResult struct {
	Name     string
	Action   Action
	Device   string
	Status   Status
	Duration time.Duration
	Message  string
}

// DeviceResult holds the results of all checks on one device.
type DeviceResult struct {
	Device   string
	Status   Status
	Duration time.Duration
	Checks   []CheckResult
	Err      error // set when the device could not be reached at all
}

// Summary counts check outcomes.
type Summary struct {
	Passed, Failed, Errored, Skipped int
}

// Total is the number of counted checks.
func (s Summary) Total() int {
	return s.Passed + s.Failed + s.Errored + s.Skipped
}

// OK reports whether nothing failed or errored.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}

func (s *Summary) add(st Status) {
	switch st {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusError:
		s.Errored++
	case StatusSkipped:
		s.Skipped++
	}
}

// Summarize counts check outcomes across devices. A device that could not
// be reached counts as one error.
func Summarize(results []*DeviceResult) Summary {
	var s Summary
	for _, r := range results {
		if r.Err != nil {
			s.Errored++
			continue
		}
		for _, c := range r.Checks {
			s.add(c.Status)
		}
	}
	return s
}

// computeOverallStatus computes a device status from its check results.
func computeOverallStatus(checks []CheckResult) Status {
	hasError := false
	allSkipped := len(checks) > 0
	for _, c := range checks {
		switch c.Status {
		case StatusFailed:
			return StatusFailed
		case StatusError:
			hasError = true
		}
		if c.Status != StatusSkipped {
			allSkipped = false
		}
	}
	if hasError {
		return StatusError
	}
	if allSkipped {
		return StatusSkipped
	}
	return StatusPassed
}
