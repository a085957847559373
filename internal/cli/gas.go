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
	"strconv"

	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

// GasWriteCmd defines the GAS Write CLI command and parameters
type GasWriteCmd struct {
	Addr   string `arg:"" help:"Address to write."`
	Value  string `arg:"" help:"Value to write."`
	Bytes  int    `arg:"" optional:"" default:"4" help:"Number of bytes to write."`
	Device string `optional:"" help:"The serial debug bridge device. Defaults to the configured device." env:"NNF_DIAG_DEVICE"`
}

// Run will execute the GAS Write Command
func (cmd *GasWriteCmd) Run(g *Globals) error {
	width, err := sdb.ParseWidth(cmd.Bytes)
	if err != nil {
		return err
	}

	addr, err := strconv.ParseUint(cmd.Addr, 0, 32)
	if err != nil {
		return err
	}

	value, err := strconv.ParseUint(cmd.Value, 0, cmd.Bytes*8)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return runDevice(ctx, g, cmd.Device, func(_ *diag.Context, _ inventory.Device, sess *sdb.Session) error {
		return sess.Write(ctx, uint32(addr), width, uint32(value))
	})
}

// GasReadCmd defines the GAS Read CLI command and parameters
type GasReadCmd struct {
	Addr   string `arg:"" help:"Address to read."`
	Bytes  int    `arg:"" optional:"" default:"4" help:"Number of bytes to read."`
	Device string `optional:"" help:"The serial debug bridge device. Defaults to the configured device." env:"NNF_DIAG_DEVICE"`
}

// Run will execute the GAS Read Command and display the read data
func (cmd *GasReadCmd) Run(g *Globals) error {
	width, err := sdb.ParseWidth(cmd.Bytes)
	if err != nil {
		return err
	}

	addr, err := strconv.ParseUint(cmd.Addr, 0, 32)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return runDevice(ctx, g, cmd.Device, func(_ *diag.Context, _ inventory.Device, sess *sdb.Session) error {
		value, err := sess.Read(ctx, uint32(addr), width)
		if err != nil {
			return err
		}

		fmt.Fprintf(g.stdout(), "%08x = %#0*x\n", addr, cmd.Bytes*2+2, value)
		return nil
	})
}

type GasCmd struct {
	Write GasWriteCmd `cmd:"" help:"Write bytes to device memory."`
	Read  GasReadCmd  `cmd:"" help:"Read bytes from device memory."`
}
