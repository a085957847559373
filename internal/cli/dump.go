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
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

// DumpCmd prints a range of device memory in hex.
type DumpCmd struct {
	Addr   string `arg:"" help:"Start address."`
	Length int    `arg:"" optional:"" default:"64" help:"Number of bytes to dump."`
	Device string `optional:"" help:"The serial debug bridge device. Defaults to the configured device." env:"NNF_DIAG_DEVICE"`
}

func (cmd *DumpCmd) Run(g *Globals) error {
	addr, err := strconv.ParseUint(cmd.Addr, 0, 32)
	if err != nil {
		return err
	}

	if cmd.Length <= 0 {
		return fmt.Errorf("invalid length %d", cmd.Length)
	}

	ctx := context.Background()
	return runDevice(ctx, g, cmd.Device, func(_ *diag.Context, _ inventory.Device, sess *sdb.Session) error {
		buf, err := sess.ReadBlock(ctx, uint32(addr), cmd.Length)
		if err != nil {
			return err
		}

		return hexDump(g.stdout(), uint32(addr), buf[:cmd.Length])
	})
}

// hexDump writes 16 bytes per line, each line prefixed by its address.
func hexDump(w io.Writer, addr uint32, data []byte) error {
	out := bufio.NewWriter(w)

	for i, b := range data {
		if i%16 == 0 {
			if i != 0 {
				out.WriteString("\n")
			}
			fmt.Fprintf(out, "%08x:", addr+uint32(i))
		}
		if i%8 == 0 {
			out.WriteString(" ")
		}
		fmt.Fprintf(out, "%02x", b)
	}
	out.WriteString("\n")

	return out.Flush()
}
