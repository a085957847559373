/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

// ConnectCmd qualifies and registers a device.
type ConnectCmd struct {
	Device string `arg:"" optional:"" help:"The serial debug bridge device. Defaults to the configured device."`
}

func (cmd *ConnectCmd) Run(g *Globals) error {
	return runDevice(context.Background(), g, cmd.Device, func(_ *diag.Context, dev inventory.Device, _ *sdb.Session) error {
		fmt.Fprintf(g.stdout(), "Connected %s\n", dev.Path)
		fmt.Fprintf(g.stdout(), "  ID:       %s\n", dev.ID)
		fmt.Fprintf(g.stdout(), "  Identity: %#010x\n", dev.Identity)
		if dev.Name != "" {
			fmt.Fprintf(g.stdout(), "  Name:     %s\n", dev.Name)
		}
		return nil
	})
}

type InventoryListCmd struct{}

func (cmd *InventoryListCmd) Run(g *Globals) error {
	return run(g, func(c *diag.Context) error {
		w := tabwriter.NewWriter(g.stdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATH\tIDENTITY\tNAME\tREGISTERED")
		for _, dev := range c.Inventory.List() {
			fmt.Fprintf(w, "%s\t%s\t%#010x\t%s\t%s\n", dev.ID, dev.Path, dev.Identity, dev.Name, dev.Registered.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

type InventoryCapturesCmd struct {
	ID string `arg:"" help:"Device ID."`
}

func (cmd *InventoryCapturesCmd) Run(g *Globals) error {
	return run(g, func(c *diag.Context) error {
		captures, err := c.Inventory.Captures(cmd.ID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(g.stdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSIZE\tLINES\tDIGEST\tCHANGED\tOUTPUT")
		for _, capture := range captures {
			fmt.Fprintf(w, "%s\t%d\t%d\t%#04x\t%t\t%s\n", capture.Time.Format(time.RFC3339), capture.Size,
				capture.Lines, capture.Digest, capture.Changed, capture.Output)
		}
		return w.Flush()
	})
}

type InventoryRemoveCmd struct {
	ID string `arg:"" help:"Device ID."`
}

func (cmd *InventoryRemoveCmd) Run(g *Globals) error {
	return run(g, func(c *diag.Context) error {
		return c.Inventory.Remove(cmd.ID)
	})
}

type InventoryCmd struct {
	List     InventoryListCmd     `cmd:"" help:"List registered devices."`
	Captures InventoryCapturesCmd `cmd:"" help:"List the trace captures of a device."`
	Remove   InventoryRemoveCmd   `cmd:"" help:"Remove a device and its captures."`
}
