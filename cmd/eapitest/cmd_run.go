package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/check"
	"github.com/newtron-network/eapitest/pkg/settings"
	"github.com/newtron-network/eapitest/pkg/util"
)

func newRunCmd() *cobra.Command {
	var (
		catalogPath string
		tags        []string
		deviceNames []string
		only        []string
		concurrency int
		reportDir   string
		junitPath   string
		noReport    bool
	)

	cmd := &cobra.Command{
		Use:   "run [catalog]",
		Short: "Run a check catalog against inventory devices",
		Long: `Run every check of a catalog on every selected device.

The catalog can be given as an argument, with --catalog, $EAPITEST_CATALOG,
or the catalog setting. Devices run in parallel (--concurrency); the checks
of one device run in catalog order.

  eapitest run checks.yaml
  eapitest run -c checks.yaml --tags leaf --check evpn-peers
  eapitest run -c checks.yaml -d leaf1 -d leaf2 --junit junit.xml

A markdown report is written to report.md in the report directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			catalog, err := check.ParseCatalog(resolveCatalogPath(cmd, catalogPath, args...))
			if err != nil {
				return err
			}
			inv, err := loadInventory(cmd)
			if err != nil {
				return err
			}
			devices, err := selectDevices(inv, deviceNames, tags)
			if err != nil {
				return err
			}
			creds, err := collectCredentials(devices, false, newPrompter())
			if err != nil {
				return err
			}

			replyCache, ttl, closeCache, err := inv.NewCache(ctx)
			if err != nil {
				return fmt.Errorf("reply cache: %w", err)
			}
			defer func() {
				if err := closeCache(); err != nil {
					util.Logger.Warnf("closing reply cache: %v", err)
				}
			}()

			conn := &connector{creds: creds, cache: replyCache, cacheTTL: ttl}
			runner := check.NewRunner(catalog, conn.connect)
			runner.Concurrency = resolveConcurrency(cmd, concurrency)
			runner.Only = only
			runner.Progress = check.NewConsoleProgress(verboseFlag)

			results, runErr := runner.Run(ctx, devices)
			if results == nil {
				return runErr
			}

			if !noReport {
				writeReports(cmd, catalog.Name, results, reportDir, junitPath)
			}
			if runErr != nil {
				return runErr
			}

			s := check.Summarize(results)
			if s.Errored > 0 {
				return errInfraError
			}
			if s.Failed > 0 {
				return errCheckFailure
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "Check catalog file")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Only devices with one of these tags")
	cmd.Flags().StringSliceVarP(&deviceNames, "device", "d", nil, "Only these devices")
	cmd.Flags().StringSliceVar(&only, "check", nil, "Only these checks")
	cmd.Flags().IntVar(&concurrency, "concurrency", settings.DefaultConcurrency, "Devices checked in parallel")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "Report directory (default from settings)")
	cmd.Flags().StringVar(&junitPath, "junit", "", "JUnit XML output path")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Do not write report files")

	return cmd
}

// writeReports writes report.md and, when asked, the JUnit file. Report
// failures are logged; they do not change the exit code.
func writeReports(cmd *cobra.Command, catalog string, results []*check.DeviceResult, dir, junitPath string) {
	if !cmd.Flags().Changed("report-dir") {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		dir = s.GetReportDir()
	}

	gen := &check.ReportGenerator{Catalog: catalog, Results: results}
	mdPath := filepath.Join(dir, "report.md")
	if err := gen.WriteMarkdown(mdPath); err != nil {
		util.Logger.Warnf("failed to write markdown report: %v", err)
	} else {
		fmt.Fprintf(os.Stderr, "report: %s\n", mdPath)
	}
	if junitPath != "" {
		if err := gen.WriteJUnit(junitPath); err != nil {
			util.Logger.Warnf("failed to write JUnit report: %v", err)
		}
	}
}
