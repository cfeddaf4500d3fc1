package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/cli"
	"github.com/newtron-network/eapitest/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings stored in ~/.eapitest/settings.json.

Settings provide defaults for flags:
  - inventory:   Used when --inventory and $EAPITEST_INVENTORY are not set
  - catalog:     Used when no catalog is given and $EAPITEST_CATALOG is not set
  - report_dir:  Where run writes report.md
  - concurrency: Devices handled in parallel
  - audit_log:   JSON-lines log of exec and evpn batches

Examples:
  eapitest settings show
  eapitest settings set inventory ~/lab/inventory.yaml
  eapitest settings set concurrency 16
  eapitest settings clear`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := settings.Load()
				if err != nil {
					return fmt.Errorf("loading settings: %w", err)
				}

				fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

				t := cli.NewTable("SETTING", "VALUE")
				printSetting := func(name, value string) {
					if value == "" {
						value = cli.Dim("(not set)")
					}
					t.Row(name, value)
				}
				printSetting("inventory", s.Inventory)
				printSetting("catalog", s.Catalog)
				printSetting("report_dir", s.ReportDir)
				concurrency := ""
				if s.Concurrency > 0 {
					concurrency = strconv.Itoa(s.Concurrency)
				}
				printSetting("concurrency", concurrency)
				printSetting("audit_log", s.AuditLog)
				t.Flush()
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <setting> <value>",
			Short: "Set a setting value",
			Long: `Set a persistent setting value. An empty value resets it.

Available settings: ` + strings.Join(settings.Keys(), ", "),
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := settings.Load()
				if err != nil {
					s = &settings.Settings{}
				}
				if err := s.Set(args[0], args[1]); err != nil {
					return err
				}
				if err := s.Save(); err != nil {
					return fmt.Errorf("saving settings: %w", err)
				}
				fmt.Printf("%s set to: %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear all settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := settings.Load()
				if err != nil {
					s = &settings.Settings{}
				}
				s.Clear()
				if err := s.Save(); err != nil {
					return fmt.Errorf("saving settings: %w", err)
				}
				fmt.Println("All settings cleared.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show settings file path",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(settings.DefaultSettingsPath())
			},
		},
	)
	return cmd
}
