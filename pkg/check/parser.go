package check

import (
	"fmt"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/eapitest/pkg/eapi"
	"github.com/newtron-network/eapitest/pkg/util"
)

// Default poll interval for checks with expect.timeout.
const defaultPollInterval = 5 * time.Second

// uptimeCommand is what verify-uptime runs when no commands are given.
const uptimeCommand = "show uptime"

// ParseCatalog reads a YAML catalog file and returns a validated Catalog.
func ParseCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := ParseCatalogData(data, path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCatalogData parses catalog YAML. source names the catalog in errors.
func ParseCatalogData(data []byte, source string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parsing catalog %s: %v", util.ErrInvalidConfig, source, err)
	}
	c.path = source

	applyDefaults(&c)
	if err := validateCatalog(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// checkValidation declares what each action requires.
type checkValidation struct {
	minCommands int  // at least this many commands
	oneCommand  bool // exactly one command
	needsQuery  bool
	needsExpect bool
	custom      func(chk *Check) error
}

// checkValidations is the declarative validation table for all actions.
var checkValidations = map[Action]checkValidation{
	ActionVerifySuccess: {minCommands: 1},
	ActionRunCommands:   {minCommands: 1},
	ActionVerifyOutput: {oneCommand: true, needsQuery: true, needsExpect: true, custom: func(chk *Check) error {
		e := chk.Expect
		if e.Equals == nil && e.Min == nil && e.Max == nil && e.Exists == nil && e.Contains == "" {
			return fmt.Errorf("expect must have equals, min, max, exists, or contains")
		}
		if chk.Format == eapi.FormatText {
			return fmt.Errorf("verify-output needs json format")
		}
		return nil
	}},
	ActionVerifyText: {oneCommand: true, needsExpect: true, custom: func(chk *Check) error {
		if chk.Expect.Contains == "" {
			return fmt.Errorf("expect.contains is required")
		}
		return nil
	}},
	ActionVerifyUptime: {oneCommand: true, custom: func(chk *Check) error {
		if chk.Minimum <= 0 {
			return fmt.Errorf("minimum must be a positive number of seconds")
		}
		return nil
	}},
}

// validateCatalog checks every check and reports all problems at once.
func validateCatalog(c *Catalog) error {
	v := util.NewValidationBuilder(c.path)
	v.Add(len(c.Checks) > 0, "no checks defined")

	seen := make(map[string]bool, len(c.Checks))
	for i := range c.Checks {
		chk := &c.Checks[i]
		prefix := fmt.Sprintf("check %d (%s)", i+1, chk.Name)
		if chk.Name == "" {
			v.AddErrorf("%s: name is required", prefix)
		} else if seen[chk.Name] {
			v.AddErrorf("%s: duplicate name", prefix)
		}
		seen[chk.Name] = true

		if err := validateCheck(chk); err != nil {
			v.AddErrorf("%s: %s", prefix, err)
		}
	}
	return v.Build()
}

// validateCheck validates one check against the table, parses its version
// and compiles its query.
func validateCheck(chk *Check) error {
	rules, ok := checkValidations[chk.Action]
	if !ok {
		return fmt.Errorf("unknown action %q", chk.Action)
	}

	n := len(chk.Commands)
	if rules.oneCommand && n != 1 {
		return fmt.Errorf("%s requires exactly one command, got %d", chk.Action, n)
	}
	if n < rules.minCommands {
		return fmt.Errorf("%s requires at least %d command(s)", chk.Action, rules.minCommands)
	}
	for i, cs := range chk.Commands {
		if cs.Cmd == "" {
			return fmt.Errorf("command %d is empty", i+1)
		}
	}

	if chk.Format != "" {
		if _, err := eapi.ParseFormat(string(chk.Format)); err != nil {
			return err
		}
	}
	version, err := eapi.ParseVersion(chk.Version)
	if err != nil {
		return err
	}
	chk.version = version

	if rules.needsQuery && chk.Query == "" {
		return fmt.Errorf("query is required")
	}
	if chk.Query != "" {
		code, err := compileQuery(chk.Query)
		if err != nil {
			return err
		}
		chk.code = code
	}

	if rules.needsExpect && chk.Expect == nil {
		return fmt.Errorf("expect is required")
	}
	if e := chk.Expect; e != nil {
		if e.Min != nil && e.Max != nil && *e.Min > *e.Max {
			return fmt.Errorf("expect.min %v is greater than expect.max %v", *e.Min, *e.Max)
		}
		if e.Timeout < 0 || e.PollInterval < 0 {
			return fmt.Errorf("expect.timeout and expect.poll_interval must not be negative")
		}
		if e.Timeout > 0 && chk.Cache {
			return fmt.Errorf("cache cannot be combined with polling")
		}
	}

	if rules.custom != nil {
		return rules.custom(chk)
	}
	return nil
}

func compileQuery(src string) (*gojq.Code, error) {
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", src, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", src, err)
	}
	return code, nil
}

// applyDefaults fills action-specific defaults before validation.
func applyDefaults(c *Catalog) {
	for i := range c.Checks {
		chk := &c.Checks[i]

		if chk.Version == "" {
			chk.Version = "latest"
		}

		switch chk.Action {
		case ActionVerifyUptime:
			if len(chk.Commands) == 0 {
				chk.Commands = []CommandSpec{{Cmd: uptimeCommand}}
			}
		case ActionVerifyText:
			if chk.Format == "" {
				chk.Format = eapi.FormatText
			}
		}

		if chk.Expect != nil && chk.Expect.Timeout > 0 && chk.Expect.PollInterval == 0 {
			chk.Expect.PollInterval = defaultPollInterval
		}
	}
}
