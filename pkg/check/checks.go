package check

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/newtron-network/eapitest/pkg/eapi"
)

// checkExecutor evaluates one check against one device.
type checkExecutor interface {
	Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string)
}

// executors maps each Action to its implementation.
var executors = map[Action]checkExecutor{
	ActionVerifySuccess: &verifySuccessExecutor{},
	ActionVerifyOutput:  &verifyOutputExecutor{},
	ActionVerifyText:    &verifyTextExecutor{},
	ActionVerifyUptime:  &verifyUptimeExecutor{},
	ActionRunCommands:   &runCommandsExecutor{},
}

// errTimeout is returned by pollUntil when fn never reported done.
var errTimeout = errors.New("timeout")

// pollUntil polls fn at the given interval until it returns true, the timeout
// expires, or ctx is cancelled.
func pollUntil(ctx context.Context, timeout, interval time.Duration, fn func() (done bool, err error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Add(interval).Before(deadline) {
			return fmt.Errorf("%w after %s", errTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// evaluate runs fn once, or polls it while it fails when the check has an
// expect.timeout. Errors end polling immediately.
func evaluate(ctx context.Context, chk *Check, fn func() (Status, string)) (Status, string) {
	if chk.Expect == nil || chk.Expect.Timeout == 0 {
		return fn()
	}

	var status Status
	var msg string
	err := pollUntil(ctx, chk.Expect.Timeout, chk.Expect.PollInterval, func() (bool, error) {
		status, msg = fn()
		switch status {
		case StatusPassed:
			return true, nil
		case StatusError:
			return false, errors.New(msg)
		}
		return false, nil
	})
	switch {
	case err == nil, status == StatusError:
		return status, msg
	case errors.Is(err, errTimeout):
		return StatusFailed, fmt.Sprintf("%s (%s)", msg, err)
	default:
		return StatusError, err.Error()
	}
}

// run sends the check's request. Transport and protocol problems come back
// as ERROR, command failures are left in the ResponseSet.
func run(ctx context.Context, dev *eapi.Device, chk *Check) (*eapi.ResponseSet, Status, string) {
	rs, err := dev.Run(ctx, chk.request(), eapi.RunOptions{UseCache: chk.Cache})
	if err != nil {
		return nil, StatusError, err.Error()
	}
	return rs, StatusPassed, ""
}

// describeFailure summarizes the failed and skipped commands of rs. It
// reads the results themselves, so failures inside a reply without a
// top-level error are reported too.
func describeFailure(rs *eapi.ResponseSet) string {
	var parts, skipped []string
	for _, r := range rs.All() {
		switch {
		case r.Success:
		case !r.WasExecuted:
			skipped = append(skipped, r.Command)
		default:
			parts = append(parts, fmt.Sprintf("%q failed: %s", r.Command, strings.Join(r.Errors, "; ")))
		}
	}
	if len(skipped) > 0 {
		parts = append(parts, fmt.Sprintf("not executed: %s", strings.Join(skipped, ", ")))
	}
	if len(parts) == 0 {
		if code, ok := rs.ErrorCode(); ok {
			return fmt.Sprintf("error %d: %s", code, rs.ErrorMessage())
		}
	}
	return strings.Join(parts, "; ")
}

// ============================================================================
// verifySuccessExecutor
// ============================================================================

type verifySuccessExecutor struct{}

func (e *verifySuccessExecutor) Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string) {
	return evaluate(ctx, chk, func() (Status, string) {
		rs, st, msg := run(ctx, dev, chk)
		if rs == nil {
			return st, msg
		}
		if !rs.AllPassed() {
			return StatusFailed, describeFailure(rs)
		}
		return StatusPassed, fmt.Sprintf("%d command(s) succeeded", rs.Len())
	})
}

// ============================================================================
// verifyOutputExecutor
// ============================================================================

type verifyOutputExecutor struct{}

func (e *verifyOutputExecutor) Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string) {
	return evaluate(ctx, chk, func() (Status, string) {
		rs, st, msg := run(ctx, dev, chk)
		if rs == nil {
			return st, msg
		}
		if !rs.AllPassed() {
			return StatusFailed, describeFailure(rs)
		}
		out, _ := rs.Output(0)
		value, found, err := queryFirst(ctx, chk, out)
		if err != nil {
			return StatusError, err.Error()
		}
		return matchExpect(chk.Expect, value, found)
	})
}

// queryFirst runs the compiled query on output and returns its first result.
// found is false when the query yields nothing or null.
func queryFirst(ctx context.Context, chk *Check, output any) (any, bool, error) {
	iter := chk.code.RunWithContext(ctx, output)
	v, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, false, fmt.Errorf("query %q: %w", chk.Query, err)
	}
	return v, v != nil, nil
}

// matchExpect compares a query result with the expectation. Every set
// field must hold.
func matchExpect(e *ExpectBlock, value any, found bool) (Status, string) {
	if e.Exists != nil {
		if found != *e.Exists {
			if *e.Exists {
				return StatusFailed, "query matched nothing"
			}
			return StatusFailed, fmt.Sprintf("expected no match, got %s", render(value))
		}
		if !found {
			return StatusPassed, "query matched nothing, as expected"
		}
	}
	if !found && (e.Equals != nil || e.Min != nil || e.Max != nil || e.Contains != "") {
		return StatusFailed, "query matched nothing"
	}

	if e.Equals != nil && !equalJSON(value, e.Equals) {
		return StatusFailed, fmt.Sprintf("expected %s, got %s", render(e.Equals), render(value))
	}
	if e.Min != nil || e.Max != nil {
		n, ok := toFloat(value)
		if !ok {
			return StatusFailed, fmt.Sprintf("expected a number, got %s", render(value))
		}
		if e.Min != nil && n < *e.Min {
			return StatusFailed, fmt.Sprintf("expected at least %s, got %s", formatNumber(*e.Min), formatNumber(n))
		}
		if e.Max != nil && n > *e.Max {
			return StatusFailed, fmt.Sprintf("expected at most %s, got %s", formatNumber(*e.Max), formatNumber(n))
		}
	}
	if e.Contains != "" && !containsValue(value, e.Contains) {
		return StatusFailed, fmt.Sprintf("%s does not contain %q", render(value), e.Contains)
	}
	return StatusPassed, fmt.Sprintf("got %s", render(value))
}

// equalJSON compares values after normalizing both through JSON. Numbers
// compare by value, so YAML ints match JSON floats and 64-bit counters
// stay exact.
func equalJSON(a, b any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return canonicalNumbers(out), nil
}

// number is the canonical text of a JSON number.
type number string

func canonicalNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return canonicalNumber(val)
	case map[string]any:
		for k, item := range val {
			val[k] = canonicalNumbers(item)
		}
	case []any:
		for i, item := range val {
			val[i] = canonicalNumbers(item)
		}
	}
	return v
}

func canonicalNumber(n json.Number) number {
	f, _, err := big.ParseFloat(string(n), 10, 256, big.ToNearestEven)
	if err != nil {
		return number(n)
	}
	if f.IsInt() {
		i, _ := f.Int(nil)
		return number(i.String())
	}
	f64, _ := f.Float64()
	return number(strconv.FormatFloat(f64, 'g', -1, 64))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	return 0, false
}

func containsValue(v any, want string) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, want)
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	case map[string]any:
		_, ok := val[want]
		return ok
	}
	return false
}

// render formats a value for messages.
func render(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	const maxRendered = 120
	if len(data) > maxRendered {
		return string(data[:maxRendered]) + "..."
	}
	return string(data)
}

// formatNumber prints n without trailing zeros: 666, 665.15.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ============================================================================
// verifyTextExecutor
// ============================================================================

type verifyTextExecutor struct{}

func (e *verifyTextExecutor) Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string) {
	return evaluate(ctx, chk, func() (Status, string) {
		rs, st, msg := run(ctx, dev, chk)
		if rs == nil {
			return st, msg
		}
		if !rs.AllPassed() {
			return StatusFailed, describeFailure(rs)
		}
		res, _ := rs.Result(0)
		text, ok := res.Text()
		if !ok {
			return StatusError, fmt.Sprintf("%q did not return text output", chk.Commands[0].Cmd)
		}
		if strings.Contains(text, chk.Expect.Contains) {
			return StatusPassed, fmt.Sprintf("output contains %q", chk.Expect.Contains)
		}
		return StatusFailed, fmt.Sprintf("output does not contain %q", chk.Expect.Contains)
	})
}

// ============================================================================
// verifyUptimeExecutor
// ============================================================================

type verifyUptimeExecutor struct{}

func (e *verifyUptimeExecutor) Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string) {
	return evaluate(ctx, chk, func() (Status, string) {
		rs, st, msg := run(ctx, dev, chk)
		if rs == nil {
			return st, msg
		}
		if !rs.AllPassed() {
			return StatusFailed, describeFailure(rs)
		}
		res, _ := rs.Result(0)
		obj, _ := res.JSON()
		uptime, ok := toFloat(obj["upTime"])
		if !ok {
			return StatusError, fmt.Sprintf("%q returned no upTime", chk.Commands[0].Cmd)
		}
		if uptime < chk.Minimum {
			return StatusFailed, fmt.Sprintf("Device uptime is incorrect - Expected: %ss Actual: %ss",
				formatNumber(chk.Minimum), formatNumber(uptime))
		}
		return StatusPassed, fmt.Sprintf("uptime %ss", formatNumber(uptime))
	})
}

// ============================================================================
// runCommandsExecutor
// ============================================================================

type runCommandsExecutor struct{}

func (e *runCommandsExecutor) Execute(ctx context.Context, dev *eapi.Device, chk *Check) (Status, string) {
	rs, st, msg := run(ctx, dev, chk)
	if rs == nil {
		return st, msg
	}
	if !rs.AllPassed() {
		return StatusFailed, describeFailure(rs)
	}
	return StatusPassed, fmt.Sprintf("executed %d command(s): %s", rs.Len(), chk.commandList())
}
