package check

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/newtron-network/eapitest/pkg/cli"
)

// ProgressReporter receives lifecycle callbacks during a run. The Runner
// serializes calls, so implementations need no locking.
type ProgressReporter interface {
	RunStart(devices []string, checks int)
	DeviceStart(device string)
	CheckEnd(device string, result *CheckResult, index, total int)
	DeviceEnd(result *DeviceResult)
	RunEnd(results []*DeviceResult, duration time.Duration)
}

// ConsoleProgress is an append-only terminal progress reporter.
// It never uses ANSI cursor rewriting, so output is safe for pipes, CI,
// and scrollback buffers.
type ConsoleProgress struct {
	W       io.Writer
	Verbose bool

	dotWidth int
	done     int
	total    int
}

// NewConsoleProgress creates a ConsoleProgress writing to stdout.
func NewConsoleProgress(verbose bool) *ConsoleProgress {
	return &ConsoleProgress{
		W:       os.Stdout,
		Verbose: verbose,
	}
}

func (p *ConsoleProgress) RunStart(devices []string, checks int) {
	maxName := 0
	for _, d := range devices {
		maxName = max(maxName, len(d))
	}
	p.dotWidth = maxName + 6
	p.total = len(devices)
	p.done = 0

	fmt.Fprintf(p.W, "\neapitest: %d devices, %d checks\n\n", len(devices), checks)
}

func (p *ConsoleProgress) DeviceStart(device string) {
	if p.Verbose {
		fmt.Fprintf(p.W, "  %s\n", device)
	}
}

func (p *ConsoleProgress) CheckEnd(device string, result *CheckResult, index, total int) {
	if !p.Verbose {
		return
	}
	tag := fmt.Sprintf("[%d/%d]", index+1, total)
	fmt.Fprintf(p.W, "    %s %s %s: %s %s  (%s)\n", device, tag, cli.DotPad(result.Name, p.dotWidth+10),
		p.colorStatus(result.Status), cli.Dim(result.Message), cli.Duration(result.Duration))
}

func (p *ConsoleProgress) DeviceEnd(result *DeviceResult) {
	p.done++
	tag := fmt.Sprintf("[%d/%d]", p.done, p.total)
	padded := cli.DotPad(result.Device, p.dotWidth)

	var s Summary
	for _, c := range result.Checks {
		s.add(c.Status)
	}
	detail := fmt.Sprintf("%d/%d passed", s.Passed, len(result.Checks))
	if result.Err != nil {
		detail = result.Err.Error()
	}
	fmt.Fprintf(p.W, "  %-7s %s %s  %s  (%s)\n", tag, padded, p.colorStatus(result.Status), cli.Dim(detail), cli.Duration(result.Duration))
}

func (p *ConsoleProgress) RunEnd(results []*DeviceResult, duration time.Duration) {
	s := Summarize(results)

	fmt.Fprintf(p.W, "\n---\n")
	fmt.Fprintf(p.W, "eapitest: %d checks", s.Total())

	parts := []string{}
	if s.Passed > 0 {
		parts = append(parts, cli.Green(fmt.Sprintf("%d passed", s.Passed)))
	}
	if s.Failed > 0 {
		parts = append(parts, cli.Red(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Errored > 0 {
		parts = append(parts, cli.Red(fmt.Sprintf("%d errored", s.Errored)))
	}
	if s.Skipped > 0 {
		parts = append(parts, cli.Yellow(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	if len(parts) > 0 {
		fmt.Fprintf(p.W, ": %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(p.W, "  (%s)\n", cli.Duration(duration))

	if !s.OK() {
		fmt.Fprintf(p.W, "\n  FAILED:\n")
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(p.W, "    %s: %s\n", r.Device, r.Err)
				continue
			}
			for _, c := range r.Checks {
				if c.Status == StatusFailed || c.Status == StatusError {
					fmt.Fprintf(p.W, "    %s: check %q (%s): %s\n", r.Device, c.Name, c.Action, c.Message)
				}
			}
		}
	}
	fmt.Fprintln(p.W)
}

func (p *ConsoleProgress) colorStatus(s Status) string {
	switch s {
	case StatusPassed:
		return cli.Green(string(s))
	case StatusFailed, StatusError:
		return cli.Red(string(s))
	case StatusSkipped:
		return cli.Yellow(string(s))
	default:
		return string(s)
	}
}
