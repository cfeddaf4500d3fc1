package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/audit"
	"github.com/newtron-network/eapitest/pkg/cli"
	"github.com/newtron-network/eapitest/pkg/settings"
)

// auditOptions select which audit events to show.
type auditOptions struct {
	device    string
	user      string
	operation string
	last      string
	limit     int
	failures  bool
	jsonOut   bool
}

func (o auditOptions) filter(now time.Time) (audit.Filter, error) {
	f := audit.Filter{
		Device:      o.device,
		User:        o.user,
		Operation:   o.operation,
		FailureOnly: o.failures,
	}
	if o.last != "" {
		d, err := time.ParseDuration(o.last)
		if err != nil || d <= 0 {
			return f, fmt.Errorf("invalid duration: %s", o.last)
		}
		f.StartTime = now.Add(-d)
	}
	return f, nil
}

func newAuditCmd() *cobra.Command {
	var opts auditOptions

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audited exec and evpn batches",
		Long: `Show the batches sent by exec and evpn clear-blacklist, newest last.

Each event records the user, device, command lines, how many commands ran
and the outcome. Command parameters such as enable passwords are not kept.

  eapitest audit
  eapitest audit --device leaf1 --last 24h
  eapitest audit --failures --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.filter(time.Now())
			if err != nil {
				return err
			}

			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			events, err := audit.QueryFile(s.GetAuditLog(), f)
			if err != nil {
				return fmt.Errorf("querying audit log: %w", err)
			}
			if opts.limit > 0 && len(events) > opts.limit {
				events = events[len(events)-opts.limit:]
			}

			if opts.jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			printAuditEvents(os.Stdout, events)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Only events for this device")
	cmd.Flags().StringVar(&opts.user, "user", "", "Only events by this user")
	cmd.Flags().StringVar(&opts.operation, "operation", "", "Only this operation (exec, evpn.clear-blacklist)")
	cmd.Flags().StringVar(&opts.last, "last", "", "Only events within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "Show at most this many of the newest events")
	cmd.Flags().BoolVar(&opts.failures, "failures", false, "Only failed batches")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print events as JSON")
	return cmd
}

func printAuditEvents(w io.Writer, events []*audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events found")
		return
	}

	t := cli.NewTableTo(w, "TIMESTAMP", "USER", "DEVICE", "OPERATION", "STATUS", "RAN", "COMMANDS")
	for _, e := range events {
		status := cli.Green("ok")
		if !e.Success {
			status = cli.Red("failed")
		}
		t.Row(
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.User,
			e.Device,
			e.Operation,
			status,
			fmt.Sprintf("%d/%d", e.ExecutedCount, len(e.Commands)),
			strings.Join(e.Commands, "; "),
		)
	}
	t.Flush()
}
