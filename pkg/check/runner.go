package check

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/eapitest/pkg/eapi"
	"github.com/newtron-network/eapitest/pkg/inventory"
	"github.com/newtron-network/eapitest/pkg/util"
)

// ConnectFunc opens a session to one inventory device.
type ConnectFunc func(ctx context.Context, dev *inventory.Device) (*inventory.Session, error)

// Runner runs a catalog against a set of devices. Devices run in parallel
// (bounded by Concurrency); the checks of one device run in catalog order.
type Runner struct {
	Catalog     *Catalog
	Connect     ConnectFunc
	Concurrency int // 0 or less = one device at a time
	Progress    ProgressReporter

	// Only restricts the run to the named checks when non-empty.
	Only []string

	mu sync.Mutex // serializes Progress callbacks
}

// NewRunner creates a Runner for catalog.
func NewRunner(catalog *Catalog, connect ConnectFunc) *Runner {
	return &Runner{Catalog: catalog, Connect: connect, Concurrency: 1}
}

// Run executes the catalog on devices and returns one result per device, in
// device order. It returns an error only for invalid options or when ctx
// ends the run early; check failures are reported in the results.
func (r *Runner) Run(ctx context.Context, devices []inventory.Device) ([]*DeviceResult, error) {
	checks, err := r.selectChecks()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices to run on")
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	util.Infof("running %d check(s) on %d device(s), concurrency %d", len(checks), len(devices), max(r.Concurrency, 1))
	r.progress(func(p ProgressReporter) { p.RunStart(names, len(checks)) })
	start := time.Now()

	results := make([]*DeviceResult, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i := range devices {
		dev := &devices[i]
		g.Go(func() error {
			results[i] = r.runDevice(gctx, dev, checks)
			return nil
		})
	}
	_ = g.Wait()

	r.progress(func(p ProgressReporter) { p.RunEnd(results, time.Since(start)) })
	return results, ctx.Err()
}

// selectChecks applies the Only filter.
func (r *Runner) selectChecks() ([]*Check, error) {
	all := r.Catalog.Checks
	if len(r.Only) == 0 {
		out := make([]*Check, len(all))
		for i := range all {
			out[i] = &all[i]
		}
		return out, nil
	}

	byName := make(map[string]*Check, len(all))
	for i := range all {
		byName[all[i].Name] = &all[i]
	}
	out := make([]*Check, 0, len(r.Only))
	for _, name := range r.Only {
		chk, ok := byName[name]
		if !ok {
			return nil, util.NewNotFoundError("check", name)
		}
		out = append(out, chk)
	}
	return out, nil
}

// runDevice connects to dev and runs every applicable check on it.
func (r *Runner) runDevice(ctx context.Context, dev *inventory.Device, checks []*Check) *DeviceResult {
	log := util.WithDevice(dev.Name)
	result := &DeviceResult{Device: dev.Name}
	start := time.Now()
	r.progress(func(p ProgressReporter) { p.DeviceStart(dev.Name) })
	defer func() {
		result.Duration = time.Since(start)
		r.progress(func(p ProgressReporter) { p.DeviceEnd(result) })
	}()

	session, err := r.Connect(ctx, dev)
	if err != nil {
		result.Err = &DeviceError{Op: "connect", Device: dev.Name, Err: err}
		result.Status = StatusError
		log.Warnf("connect failed: %v", err)
		return result
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debugf("closing session: %v", err)
		}
	}()

	for i, chk := range checks {
		cr := r.runCheck(ctx, session.Device, dev, chk)
		result.Checks = append(result.Checks, cr)
		r.progress(func(p ProgressReporter) { p.CheckEnd(dev.Name, &cr, i, len(checks)) })
	}
	result.Status = computeOverallStatus(result.Checks)
	return result
}

// runCheck dispatches a check to its executor.
func (r *Runner) runCheck(ctx context.Context, dev *eapi.Device, inv *inventory.Device, chk *Check) CheckResult {
	cr := CheckResult{Name: chk.Name, Action: chk.Action, Device: inv.Name}

	if !chk.AppliesTo(inv.Tags) {
		cr.Status = StatusSkipped
		cr.Message = fmt.Sprintf("device has none of tags %v", chk.Tags)
		return cr
	}
	if err := ctx.Err(); err != nil {
		cr.Status = StatusSkipped
		cr.Message = fmt.Sprintf("run cancelled: %v", err)
		return cr
	}

	executor, ok := executors[chk.Action]
	if !ok {
		err := &CheckError{Check: chk.Name, Action: chk.Action, Err: fmt.Errorf("unknown action: %s", chk.Action)}
		cr.Status = StatusError
		cr.Message = err.Error()
		return cr
	}

	start := time.Now()
	cr.Status, cr.Message = executor.Execute(ctx, dev, chk)
	cr.Duration = time.Since(start)
	util.WithCheck(inv.Name, chk.Name).Debugf("%s in %s: %s", cr.Status, cr.Duration.Round(time.Millisecond), cr.Message)
	return cr
}

// progress calls fn with the ProgressReporter if one is set.
func (r *Runner) progress(fn func(ProgressReporter)) {
	if r.Progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.Progress)
}
