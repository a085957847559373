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
	"os"

	"github.com/NearNodeFlash/nnf-diag/internal/logging"
	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
	"github.com/NearNodeFlash/nnf-diag/pkg/trace"
)

// TraceDecodeCmd decodes a raw trace buffer saved to a file.
type TraceDecodeCmd struct {
	File string `arg:"" type:"existingfile" help:"Raw trace buffer."`
	Dir  string `optional:"" type:"path" help:"Write the text to trace_log.txt in this directory instead of stdout."`
}

func (cmd *TraceDecodeCmd) Run(g *Globals) error {
	raw, err := os.ReadFile(cmd.File)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Options{Level: g.LogLevel(), JSON: g.Json, Out: g.stderr()})
	decoder := trace.NewDecoder(logger.WithField("file", cmd.File))

	if cmd.Dir != "" {
		path, err := decoder.DecodeToFile(raw, cmd.Dir)
		if err != nil {
			return err
		}

		fmt.Fprintf(g.stdout(), "Decoded trace written to %s\n", path)
		return nil
	}

	_, err = decoder.Decode(raw, trace.NewWriterSink(g.stdout()))
	return err
}

// TraceCaptureCmd reads the trace buffer of a device and decodes it.
type TraceCaptureCmd struct {
	Device string `arg:"" optional:"" help:"The serial debug bridge device. Defaults to the configured device."`
	Dir    string `optional:"" type:"path" help:"Also write the text to trace_log.txt in this directory."`
	Raw    string `optional:"" type:"path" help:"Save the raw trace buffer to this file."`
	Quiet  bool   `optional:"" help:"Do not print the decoded text."`
}

func (cmd *TraceCaptureCmd) Run(g *Globals) error {
	ctx := context.Background()
	return runDevice(ctx, g, cmd.Device, func(c *diag.Context, dev inventory.Device, _ *sdb.Session) error {
		result, err := c.Capture(ctx, dev.ID, diag.CaptureOptions{Dir: cmd.Dir})
		if err != nil {
			return err
		}

		if cmd.Raw != "" {
			if err := os.WriteFile(cmd.Raw, result.Raw, 0644); err != nil {
				return err
			}
		}

		out := g.stdout()
		if !cmd.Quiet {
			out.Write(result.Text)
		}

		if result.Output != "" {
			fmt.Fprintf(out, "Decoded trace written to %s\n", result.Output)
		}

		return nil
	})
}

type TraceCmd struct {
	Decode  TraceDecodeCmd  `cmd:"" help:"Decode a raw trace buffer file."`
	Capture TraceCaptureCmd `cmd:"" help:"Capture and decode the trace buffer of a device."`
}
