// Package check runs a YAML catalog of eAPI checks against inventory
// devices and reports the results.
//
// A catalog lists checks; each check names an action, the commands it sends
// and what it expects back:
//
//	name: dc1-health
//	checks:
//	  - name: uptime
//	    action: verify-uptime
//	    minimum: 86400
//	  - name: evpn-peers
//	    action: verify-output
//	    tags: [leaf]
//	    commands: ["show bgp evpn summary"]
//	    query: '[.vrfs.default.peers[] | select(.peerState == "Established")] | length'
//	    expect: {min: 2, timeout: 2m}
package check

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/newtron-network/eapitest/pkg/eapi"
)

// Catalog is a parsed check catalog.
type Catalog struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Checks      []Check `yaml:"checks"`

	path string
}

// Path returns the file the catalog was loaded from, if any.
func (c *Catalog) Path() string { return c.path }

// Check is one entry of a catalog. Fields are action-specific; the parser
// validates that each action gets what it needs.
type Check struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Action      Action   `yaml:"action"`
	Tags        []string `yaml:"tags,omitempty"` // devices with none of these are skipped

	Commands    []CommandSpec `yaml:"commands,omitempty"`
	Format      eapi.Format   `yaml:"format,omitempty"`
	Version     string        `yaml:"version,omitempty"` // "latest" (default) or "1"
	StopOnError *bool         `yaml:"stop_on_error,omitempty"`
	Cache       bool          `yaml:"cache,omitempty"` // serve from the reply cache

	// verify-output
	Query string `yaml:"query,omitempty"`

	// verify-uptime, seconds
	Minimum float64 `yaml:"minimum,omitempty"`

	Expect *ExpectBlock `yaml:"expect,omitempty"`

	version eapi.Version
	code    *gojq.Code
}

// Action identifies what a check does.
type Action string

const (
	ActionVerifySuccess Action = "verify-success"
	ActionVerifyOutput  Action = "verify-output"
	ActionVerifyText    Action = "verify-text"
	ActionVerifyUptime  Action = "verify-uptime"
	ActionRunCommands   Action = "run-commands"
)

// ExpectBlock is a union of the expectation fields of all verify actions.
type ExpectBlock struct {
	// verify-output
	Equals any      `yaml:"equals,omitempty"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
	Exists *bool    `yaml:"exists,omitempty"`

	// verify-output, verify-text
	Contains string `yaml:"contains,omitempty"`

	// Polling
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// CommandSpec handles the two YAML forms of a command:
//
//	- show version                             → plain command
//	- {cmd: enable, input: "${EOS_ENABLE}"}     → command with parameters
//
// String parameters go through environment expansion so secrets stay out of
// the catalog.
type CommandSpec struct {
	Cmd      string
	Revision int
	Params   map[string]any
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (cs *CommandSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		cs.Cmd = s
		return nil
	}

	var m map[string]any
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("command must be a string or a mapping: %w", err)
	}
	cmd, ok := m["cmd"].(string)
	if !ok || cmd == "" {
		return fmt.Errorf("command mapping requires a string cmd")
	}
	cs.Cmd = cmd
	delete(m, "cmd")

	if rev, ok := m["revision"]; ok {
		n, ok := rev.(int)
		if !ok || n < 1 {
			return fmt.Errorf("command %q: revision must be a positive integer", cmd)
		}
		cs.Revision = n
		delete(m, "revision")
	}

	if len(m) > 0 {
		cs.Params = make(map[string]any, len(m))
		for k, v := range m {
			if str, ok := v.(string); ok {
				v = os.ExpandEnv(str)
			}
			cs.Params[k] = v
		}
	}
	return nil
}

// Command converts cs to an eapi.Command.
func (cs CommandSpec) Command() eapi.Command {
	if cs.Revision == 0 && len(cs.Params) == 0 {
		return eapi.Simple(cs.Cmd)
	}
	return eapi.Complex(cs.Cmd, maps.Clone(cs.Params), cs.Revision)
}

// commands returns the check's command list.
func (c *Check) commands() []eapi.Command {
	out := make([]eapi.Command, len(c.Commands))
	for i, cs := range c.Commands {
		out[i] = cs.Command()
	}
	return out
}

// request builds the runCmds request for one execution of the check.
func (c *Check) request() *eapi.Request {
	opts := []eapi.RequestOption{eapi.WithVersion(c.version)}
	if c.Format != "" {
		opts = append(opts, eapi.WithFormat(c.Format))
	}
	if c.StopOnError != nil {
		opts = append(opts, eapi.WithStopOnError(*c.StopOnError))
	}
	return eapi.NewRequest(c.commands(), opts...)
}

// AppliesTo reports whether the check targets a device with the given tags.
func (c *Check) AppliesTo(tags []string) bool {
	if len(c.Tags) == 0 {
		return true
	}
	for _, want := range c.Tags {
		for _, have := range tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// commandList renders the command texts for messages.
func (c *Check) commandList() string {
	texts := make([]string, len(c.Commands))
	for i, cs := range c.Commands {
		texts[i] = cs.Cmd
	}
	return strings.Join(texts, ", ")
}
