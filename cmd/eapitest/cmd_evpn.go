package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/eapitest/pkg/audit"
	"github.com/newtron-network/eapitest/pkg/auth"
	"github.com/newtron-network/eapitest/pkg/cli"
	"github.com/newtron-network/eapitest/pkg/eapi"
	"github.com/newtron-network/eapitest/pkg/inventory"
	"github.com/newtron-network/eapitest/pkg/settings"
	"github.com/newtron-network/eapitest/pkg/util"
)

// clearHostFlapCommand releases MAC addresses EVPN has blacklisted after
// too many moves.
const clearHostFlapCommand = "clear bgp evpn host-flap"

func newEVPNCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evpn",
		Short: "EVPN maintenance commands",
	}
	cmd.AddCommand(newClearBlacklistCmd())
	return cmd
}

func newClearBlacklistCmd() *cobra.Command {
	var (
		hosts       hostListOptions
		tags        []string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "clear-blacklist",
		Short: "Clear the EVPN MAC blacklist on every device",
		Long: `Clear the list of MAC addresses blacklisted by EVPN duplicate detection
("clear bgp evpn host-flap") on every selected device.

Devices come from the inventory, or from a plain host list:

  eapitest evpn clear-blacklist --tags leaf
  eapitest evpn clear-blacklist --hosts-file switches.txt -u admin

Host-list passwords are read from $EAPITEST_PASSWORD and
$EAPITEST_ENABLE_PASSWORD, or prompted for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := hosts.load(cmd)
			if err != nil {
				return err
			}
			devices, err := selectDevices(inv, nil, tags)
			if err != nil {
				return err
			}
			if err := authorize(auth.NewChecker(inv.Access), auth.PermClearBlacklist, devices); err != nil {
				return err
			}
			creds, err := collectCredentials(devices, true, newPrompter())
			if err != nil {
				return err
			}
			concurrency = resolveConcurrency(cmd, concurrency)

			closeAudit := openAudit()
			defer closeAudit()

			fmt.Fprintln(os.Stderr, "Clearing the EVPN MAC blacklist on all devices ...")
			outcomes := clearBlacklistAll(context.Background(), devices, creds, hosts.timeout, concurrency)
			if !printOutcomes(os.Stdout, outcomes) {
				return errInfraError
			}
			return nil
		},
	}

	hosts.register(cmd)
	cmd.Flags().DurationVar(&hosts.timeout, "timeout", 5*time.Second, "Per-device timeout")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Only devices with one of these tags")
	cmd.Flags().IntVar(&concurrency, "concurrency", settings.DefaultConcurrency, "Devices handled in parallel")
	return cmd
}

// clearBlacklistRequest enters enable mode and clears the host-flap list.
// Version 1 keeps the reply format stable across EOS releases.
func clearBlacklistRequest(enablePassword string) *eapi.Request {
	return eapi.NewRequest([]eapi.Command{
		eapi.Complex("enable", map[string]any{"input": enablePassword}, 0),
		eapi.Simple(clearHostFlapCommand),
	}, eapi.WithVersion(1))
}

// clearBlacklist runs the clear request on one device and audits it.
// Command failures come back as *eapi.CommandError.
func clearBlacklist(ctx context.Context, dev *eapi.Device, enablePassword string) error {
	req := clearBlacklistRequest(enablePassword)
	start := time.Now()
	rs, err := dev.Run(ctx, req, eapi.RunOptions{RaiseOnError: true})
	recordAudit(audit.NewEvent(dev.Name, audit.OpClearBlacklist, req).WithResult(rs, err).WithDuration(time.Since(start)))
	return err
}

// outcome is the per-device result of clear-blacklist.
type outcome struct {
	Device   string
	Err      error
	Duration time.Duration
}

// clearBlacklistAll clears every device, at most concurrency at a time.
// Outcomes are in device order.
func clearBlacklistAll(ctx context.Context, devices []inventory.Device, creds map[string]inventory.Credentials, timeout time.Duration, concurrency int) []outcome {
	out := make([]outcome, len(devices))
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i := range devices {
		d := &devices[i]
		g.Go(func() error {
			start := time.Now()
			out[i] = outcome{Device: d.Name, Err: clearDevice(ctx, d, creds[d.Name], timeout)}
			out[i].Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func clearDevice(ctx context.Context, d *inventory.Device, creds inventory.Credentials, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	session, err := inventory.Connect(d, creds, nil, 0)
	if err != nil {
		return err
	}
	defer session.Close()

	err = clearBlacklist(ctx, session.Device, creds.EnablePassword)
	if err != nil {
		util.WithDevice(d.Name).Warnf("clear-blacklist failed: %v", err)
	}
	return err
}

// printOutcomes renders the per-device table and reports whether every
// device succeeded.
func printOutcomes(w io.Writer, outcomes []outcome) bool {
	ok := true
	t := cli.NewTableTo(w, "DEVICE", "RESULT", "DETAIL", "TIME")
	for _, o := range outcomes {
		result, detail := cli.Green("cleared"), ""
		if o.Err != nil {
			ok = false
			result, detail = cli.Red("failed"), o.Err.Error()
		}
		t.Row(o.Device, result, detail, cli.Duration(o.Duration))
	}
	t.Flush()
	return ok
}
