package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/util"
	"github.com/newtron-network/eapitest/pkg/version"
)

var (
	verboseFlag   bool
	logLevelFlag  string
	logJSONFlag   bool
	inventoryFlag string
)

// Sentinel errors for exit code mapping. RunE handlers return these instead
// of calling os.Exit directly, so deferred cleanup (cache close, tunnel
// teardown) runs.
var (
	errCheckFailure = errors.New("check failure")
	errInfraError   = errors.New("infrastructure error")
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		// Bare sentinels were already reported by the command.
		if err != errCheckFailure && err != errInfraError {
			fmt.Fprintln(os.Stderr, "Error:", err)
			if hint := errorHint(err); hint != "" {
				fmt.Fprintln(os.Stderr, hint)
			}
		}
		if errors.Is(err, errInfraError) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// errorHint suggests a next step for errors the user can fix locally.
func errorHint(err error) string {
	var nf *util.NotFoundError
	switch {
	case errors.As(err, &nf) && nf.Kind == "device":
		return "Run 'eapitest inventory' to list known devices."
	case errors.As(err, &nf) && nf.Kind == "check":
		return "Check names are matched exactly against the catalog."
	case errors.Is(err, util.ErrNotFound):
		return ""
	case errors.Is(err, util.ErrInvalidConfig), errors.Is(err, util.ErrValidationFailed):
		return "Run 'eapitest settings show' to see which files are in use."
	}
	return ""
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eapitest",
		Short: "Run and verify eAPI command batches on EOS devices",
		Long: `eapitest sends command batches to network devices over the eAPI
JSON-RPC interface and checks the replies.

Devices come from a YAML inventory (--inventory, $EAPITEST_INVENTORY, or the
inventory setting). Checks come from a YAML catalog.

  eapitest inventory                           # list devices
  eapitest run -c checks.yaml                  # run a catalog on every device
  eapitest run -c checks.yaml --tags leaf      # only devices tagged leaf
  eapitest exec -d leaf1 "show version"        # run commands on one device
  eapitest evpn clear-blacklist                # clear EVPN host-flap state

Exit codes: 0 all checks passed, 1 a check failed, 2 a device could not be
reached or a reply could not be understood.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVarP(&inventoryFlag, "inventory", "i", "", "Inventory file")

	rootCmd.AddCommand(
		newRunCmd(),
		newExecCmd(),
		newInventoryCmd(),
		newEVPNCmd(),
		newSettingsCmd(),
		newAuditCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("eapitest dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("eapitest %s\n", version.Info())
				}
			},
		},
	)
	return rootCmd
}

// setupLogging applies --log-level, --verbose and --log-json. An explicit
// level wins over --verbose.
func setupLogging() error {
	level := "warn"
	if verboseFlag {
		level = "debug"
	}
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if err := util.SetLogLevel(level); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	if logJSONFlag {
		util.SetJSONFormat()
	}
	return nil
}
