package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/audit"
	"github.com/newtron-network/eapitest/pkg/auth"
	"github.com/newtron-network/eapitest/pkg/cli"
	"github.com/newtron-network/eapitest/pkg/eapi"
	"github.com/newtron-network/eapitest/pkg/inventory"
)

// execOptions are the request knobs exposed by exec.
type execOptions struct {
	format        string
	version       string
	revision      int
	noStopOnError bool
	timestamps    bool
	enable        bool
}

// buildExecRequest turns command lines into a request. With enable set, an
// enable command carrying enablePassword is prepended.
func buildExecRequest(lines []string, o execOptions, enablePassword string) (*eapi.Request, error) {
	format, err := eapi.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}
	ver, err := eapi.ParseVersion(o.version)
	if err != nil {
		return nil, err
	}
	if o.revision < 0 {
		return nil, fmt.Errorf("--revision must not be negative")
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no commands given")
	}

	var cmds []eapi.Command
	if o.enable {
		cmds = append(cmds, eapi.Complex("enable", map[string]any{"input": enablePassword}, 0))
	}
	for _, line := range lines {
		if o.revision > 0 {
			cmds = append(cmds, eapi.Complex(line, nil, o.revision))
		} else {
			cmds = append(cmds, eapi.Simple(line))
		}
	}

	return eapi.NewRequest(cmds,
		eapi.WithFormat(format),
		eapi.WithVersion(ver),
		eapi.WithStopOnError(!o.noStopOnError),
		eapi.WithTimestamps(o.timestamps),
	), nil
}

func newExecCmd() *cobra.Command {
	var (
		opts         execOptions
		deviceName   string
		commandsFile string
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:   "exec -d <device> <command>...",
		Short: "Run commands on one device and print the replies",
		Long: `Send one batch of commands to a device and print each command's result.

  eapitest exec -d leaf1 "show version" "show clock"
  eapitest exec -d leaf1 --ofmt text "show running-config"
  eapitest exec -d leaf1 --enable --no-stop-on-error "show bgp evpn" "bad cmd" "show clock"
  eapitest exec -d leaf1 --commands-file cmds.txt --json

Without --no-stop-on-error the device stops at the first failing command and
the remaining commands are reported as not executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			lines := args
			if commandsFile != "" {
				f, err := os.Open(commandsFile)
				if err != nil {
					return err
				}
				fromFile, err := readLines(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("reading %s: %w", commandsFile, err)
				}
				lines = append(lines, fromFile...)
			}

			inv, err := loadInventory(cmd)
			if err != nil {
				return err
			}
			dev, err := pickDevice(inv, deviceName)
			if err != nil {
				return err
			}
			if err := authorize(auth.NewChecker(inv.Access), auth.PermExec, []inventory.Device{*dev}); err != nil {
				return err
			}
			creds, err := collectCredentials([]inventory.Device{*dev}, opts.enable, newPrompter())
			if err != nil {
				return err
			}
			c := creds[dev.Name]

			req, err := buildExecRequest(lines, opts, c.EnablePassword)
			if err != nil {
				return err
			}

			session, err := inventory.Connect(dev, c, nil, 0)
			if err != nil {
				return fmt.Errorf("%w: %v", errInfraError, err)
			}
			defer session.Close()

			closeAudit := openAudit()
			defer closeAudit()

			start := time.Now()
			rs, err := session.Run(ctx, req, eapi.RunOptions{})
			recordAudit(audit.NewEvent(dev.Name, audit.OpExec, req).WithResult(rs, err).WithDuration(time.Since(start)))
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return errInfraError
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rs); err != nil {
					return err
				}
			} else {
				printResults(os.Stdout, dev.Name, rs)
			}
			return execStatus(rs)
		},
	}

	cmd.Flags().StringVarP(&deviceName, "device", "d", "", "Device name (optional with a single-device inventory)")
	cmd.Flags().StringVar(&opts.format, "ofmt", string(eapi.FormatJSON), "Output format: json or text")
	cmd.Flags().StringVar(&opts.version, "version", "latest", "Output model version: latest or a number")
	cmd.Flags().IntVar(&opts.revision, "revision", 0, "Output model revision for every command")
	cmd.Flags().BoolVar(&opts.noStopOnError, "no-stop-on-error", false, "Run every command even after a failure")
	cmd.Flags().BoolVar(&opts.timestamps, "timestamps", false, "Ask for per-command timing")
	cmd.Flags().BoolVar(&opts.enable, "enable", false, "Prepend enable with the device's enable password")
	cmd.Flags().StringVar(&commandsFile, "commands-file", "", "Read commands from a file, one per line")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the whole result set as JSON")

	return cmd
}

// pickDevice returns the named device, or the only one when name is empty.
func pickDevice(inv *inventory.Inventory, name string) (*inventory.Device, error) {
	if name != "" {
		return inv.Device(name)
	}
	if len(inv.Devices) == 1 {
		return &inv.Devices[0], nil
	}
	return nil, fmt.Errorf("--device is required (inventory has %d devices: %s)",
		len(inv.Devices), strings.Join(inv.Names(), ", "))
}

// printResults renders one block per command: a status line, then the
// output or errors.
func printResults(w io.Writer, device string, rs *eapi.ResponseSet) {
	for i, r := range rs.All() {
		var status string
		switch {
		case r.Success:
			status = cli.Green("OK")
		case !r.WasExecuted:
			status = cli.Yellow("NOT EXECUTED")
		default:
			status = cli.Red("FAILED")
		}
		timing := ""
		if r.Duration != nil {
			timing = cli.Dim(fmt.Sprintf("  (%.3fs)", *r.Duration))
		}
		fmt.Fprintf(w, "%s %s  %s%s\n", cli.Dim(fmt.Sprintf("[%d]", i+1)), cli.Bold(r.Command), status, timing)

		switch {
		case !r.Success:
			for _, e := range r.Errors {
				fmt.Fprintf(w, "    %s\n", e)
			}
		case r.Output != nil:
			writeOutput(w, r.Output)
		}
	}

	if code, ok := rs.ErrorCode(); ok {
		fmt.Fprintf(w, "\n%s: error %d: %s\n", device, code, rs.ErrorMessage())
	} else if failed := rs.FailedIndexes(); len(failed) > 0 {
		fmt.Fprintf(w, "\n%s: %d of %d command(s) failed\n", device, len(failed), rs.Len())
	}
}

// execStatus maps a reply to the exit status of exec: any failed command
// is a failure, with or without a top-level error.
func execStatus(rs *eapi.ResponseSet) error {
	if !rs.AllPassed() {
		return errCheckFailure
	}
	return nil
}

// writeOutput prints text output as is and JSON output indented.
func writeOutput(w io.Writer, out any) {
	var text string
	if s, ok := out.(string); ok {
		text = s
	} else {
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			text = fmt.Sprint(out)
		} else {
			text = string(b)
		}
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
