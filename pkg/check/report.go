package check

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DateTimeFormat is the timestamp layout used in reports.
const DateTimeFormat = "2006-01-02 15:04:05"

// ReportGenerator produces run reports from device results.
type ReportGenerator struct {
	Catalog string
	Results []*DeviceResult

	now func() time.Time
}

// WriteMarkdown writes a markdown report to the given path.
func (g *ReportGenerator) WriteMarkdown(path string) error {
	return writeFile(path, g.Markdown)
}

// Markdown renders the markdown report.
func (g *ReportGenerator) Markdown(w io.Writer) error {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	title := "eapitest Report"
	if g.Catalog != "" {
		title += ": " + g.Catalog
	}
	fmt.Fprintf(w, "# %s (%s)\n\n", title, now().Format(DateTimeFormat))

	fmt.Fprintln(w, "| Device | Result | Passed | Failed | Errors | Skipped | Duration |")
	fmt.Fprintln(w, "|--------|--------|--------|--------|--------|---------|----------|")
	for _, r := range g.Results {
		var s Summary
		for _, c := range r.Checks {
			s.add(c.Status)
		}
		if r.Err != nil {
			s.Errored++
		}
		fmt.Fprintf(w, "| %s | %s | %d | %d | %d | %d | %s |\n",
			r.Device, r.Status, s.Passed, s.Failed, s.Errored, s.Skipped, r.Duration.Round(time.Millisecond))
	}

	hasFailures := false
	for _, r := range g.Results {
		if r.Status != StatusFailed && r.Status != StatusError {
			continue
		}
		if !hasFailures {
			fmt.Fprintf(w, "\n## Failures\n\n")
			hasFailures = true
		}
		fmt.Fprintf(w, "### %s\n", r.Device)
		if r.Err != nil {
			fmt.Fprintf(w, "%s\n\n", r.Err)
			continue
		}
		for _, c := range r.Checks {
			if c.Status == StatusFailed || c.Status == StatusError {
				fmt.Fprintf(w, "- %s %s (%s): %s\n", c.Status, c.Name, c.Action, c.Message)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteJUnit writes a JUnit XML report for CI integration. Each device is a
// test suite and each check a test case.
func (g *ReportGenerator) WriteJUnit(path string) error {
	return writeFile(path, g.JUnit)
}

// JUnit renders the JUnit XML report.
func (g *ReportGenerator) JUnit(w io.Writer) error {
	suites := junitTestSuites{}

	for _, r := range g.Results {
		suite := junitTestSuite{
			Name: r.Device,
			Time: r.Duration.Seconds(),
		}

		// Unreachable device: a single errored case
		if r.Err != nil {
			suite.Tests = 1
			suite.Errors = 1
			suite.Cases = append(suite.Cases, junitTestCase{
				Name:      "connect",
				ClassName: r.Device,
				Error:     &junitError{Message: r.Err.Error(), Type: "connect"},
			})
			suites.Suites = append(suites.Suites, suite)
			continue
		}

		for _, c := range r.Checks {
			suite.Tests++
			tc := junitTestCase{
				Name:      c.Name,
				ClassName: r.Device,
				Time:      c.Duration.Seconds(),
			}

			switch c.Status {
			case StatusFailed:
				suite.Failures++
				tc.Failure = &junitFailure{Message: c.Message, Type: string(c.Action)}
			case StatusSkipped:
				suite.Skipped++
				tc.Skipped = &junitSkipped{Message: c.Message}
			case StatusError:
				suite.Errors++
				tc.Error = &junitError{Message: c.Message, Type: string(c.Action)}
			}

			suite.Cases = append(suite.Cases, tc)
		}

		suites.Suites = append(suites.Suites, suite)
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// JUnit XML types

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}
