package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eapitest/pkg/cli"
	"github.com/newtron-network/eapitest/pkg/inventory"
)

func newInventoryCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List inventory devices",
		Long: `List the devices of the inventory with their resolved connection settings.

  eapitest inventory
  eapitest inventory --tags leaf
  eapitest -i lab.yaml inventory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("Inventory: %s\n\n", inv.Path())
			t := cli.NewTable("NAME", "ENDPOINT", "USER", "TAGS", "JUMP", "CACHE")
			for _, d := range inv.Filter(tags) {
				t.Row(deviceRow(inv, &d)...)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Only devices with one of these tags")
	return cmd
}

// deviceRow renders one device for the inventory table.
func deviceRow(inv *inventory.Inventory, d *inventory.Device) []string {
	endpoint := d.Scheme + "://" + d.Host
	if d.Port != 0 {
		endpoint += ":" + strconv.Itoa(d.Port)
	}
	if d.IsInsecure() {
		endpoint += cli.Yellow(" (insecure)")
	}

	jump := "-"
	if d.Jump != nil {
		jump = d.Jump.User + "@" + d.Jump.Host
	}

	cacheCol := "-"
	if c := inv.Defaults.Cache; c != nil {
		cacheCol = c.Backend
		if d.NoCache {
			cacheCol = cli.Dim("off")
		}
	}

	tags := "-"
	if len(d.Tags) > 0 {
		tags = strings.Join(d.Tags, ",")
	}
	user := d.Username
	if user == "" {
		user = "-"
	}
	return []string{d.Name, endpoint, user, tags, jump, cacheCol}
}
