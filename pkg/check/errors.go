package check

import "fmt"

// DeviceError is a device-level failure that prevents any check from
// running (missing credentials, unreachable jump host).
type DeviceError struct {
	Op     string // "connect", "credentials"
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("check: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// CheckError is a check that could not be evaluated.
type CheckError struct {
	Check  string
	Action Action
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check: %s (%s): %v", e.Check, e.Action, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}
