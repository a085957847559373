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

// Package cli implements the nnf-diag commands.
package cli

import (
	"github.com/alecthomas/kong"
)

type CLI struct {
	Globals

	Connect   ConnectCmd   `kong:"cmd,help='Connect to a device and register it.'"`
	Gas       GasCmd       `kong:"cmd,help='Device memory access commands.'"`
	Dump      DumpCmd      `kong:"cmd,help='Hex dump a range of device memory.'"`
	Trace     TraceCmd     `kong:"cmd,help='Trace buffer commands.'"`
	Inventory InventoryCmd `kong:"cmd,help='Device inventory commands.'"`
	Serve     ServeCmd     `kong:"cmd,help='Run the REST diagnostics server.'"`
}

// New returns the command line parser for c.
func New(c *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("nnf-diag"),
		kong.Description("Near Node Flash serial debug bridge diagnostics."),
		kong.UsageOnError(),
	}, options...)

	return kong.New(c, options...)
}

// Run parses args and runs the selected command.
func Run(c *CLI, args []string, options ...kong.Option) error {
	parser, err := New(c, options...)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return ctx.Run(&c.Globals)
}
