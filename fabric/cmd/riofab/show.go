// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/openrio/riofab/fabric"
	"github.com/openrio/riofab/fabric/config"
	"github.com/openrio/riofab/fabric/hotplug"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/private/app/launcher"
)

func newShow(app *launcher.Application, cfg *config.Config) *cobra.Command {
	var flags struct {
		mport int
	}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Bring up the fabric once and print the registered devices",
		Example: "  riofab show --config riofab.toml\n" +
			"  riofab show --config riofab.toml --mport 1",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.LoadConfig(); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			c, err := fabric.New(cfg, fabric.Deps{Model: hotplug.LogDeviceModel{}})
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			defer c.Close()
			for _, mc := range cfg.MPorts {
				if flags.mport >= 0 && mc.Index != flags.mport {
					continue
				}
				devs, err := c.Devices(mc.Index)
				if err != nil {
					return err
				}
				writeDevices(cmd.OutOrStdout(), mc.Index, devs)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.mport, "mport", -1, "Only show the given master port")
	return cmd
}

func writeDevices(w io.Writer, mport int, devs []*registry.Device) {
	rows := make([][]string, 0, len(devs))
	for _, d := range devs {
		parent := "-"
		if !d.IsHost() {
			parent = fmt.Sprintf("%s/%d", d.PrevDestID, d.PrevPort)
		}
		rows = append(rows, []string{
			strconv.Itoa(mport),
			d.DestID.String(),
			d.Hop.String(),
			d.CompTag.String(),
			fmt.Sprintf("0x%04x", d.VendorID),
			fmt.Sprintf("0x%04x", d.DeviceID),
			deviceKind(d),
			strconv.Itoa(d.PortCount),
			parent,
		})
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"MPORT", "DESTID", "HOP", "COMPTAG", "VENDOR", "DEVICE",
		"KIND", "PORTS", "PARENT"})
	table.AppendBulk(rows)
	table.Render()
}

func deviceKind(d *registry.Device) string {
	switch {
	case d.IsHost():
		return "host"
	case d.IsSwitch():
		return "switch"
	default:
		return "endpoint"
	}
}
