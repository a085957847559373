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

package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/trace"
)

// decodeAttempts bounds the sizing negotiation with the decoder.
const decodeAttempts = 2

var ErrInvalidTraceLength = errors.New("invalid trace length")

type CaptureOptions struct {
	// Dir, when set, also writes the decoded trace to a file in Dir.
	Dir string
}

type CaptureResult struct {
	Device  inventory.Device
	Raw     []byte
	Text    []byte
	Output  string
	Capture inventory.Capture
}

// DecodeTrace decodes raw into a new buffer. The decoder is first asked for
// the size it needs, then called again with a buffer of that size.
func DecodeTrace(decoder *trace.Decoder, raw []byte) ([]byte, error) {
	var out []byte

	for attempt := 0; attempt < decodeAttempts; attempt++ {
		n, err := decoder.DecodeToBuffer(raw, out)
		if err == nil {
			return out[:n], nil
		}

		if !errors.Is(err, common.ErrBufferTooSmall) {
			return nil, err
		}

		out = make([]byte, n)
	}

	return nil, common.NewError(common.BufferTooSmall, "decode trace",
		fmt.Errorf("size negotiation failed after %d attempts", decodeAttempts))
}

// Capture reads the trace buffer of connected device id, decodes it and
// records the capture in the inventory. A failed capture leaves the link open
// for another attempt.
func (c *Context) Capture(ctx context.Context, id string, opts CaptureOptions) (*CaptureResult, error) {
	result, err := c.capture(ctx, id, opts)
	if err != nil {
		c.captures.WithLabelValues("failed").Inc()
		c.Log.WithError(err).WithField("id", id).Warn("Trace capture failed")
		return nil, err
	}

	c.captures.WithLabelValues("ok").Inc()
	return result, nil
}

func (c *Context) capture(ctx context.Context, id string, opts CaptureOptions) (*CaptureResult, error) {
	sess, err := c.Session(id)
	if err != nil {
		return nil, err
	}

	dev, err := c.Inventory.Get(id)
	if err != nil {
		return nil, err
	}

	cfg := c.Config.Trace
	logger := c.Log.WithFields(log.Fields{"id": id, "path": dev.Path})

	length, err := sess.Read32(ctx, cfg.LengthAddress)
	if err != nil {
		return nil, fmt.Errorf("read trace length: %w", err)
	}

	if length < trace.HeaderSize || (cfg.MaxLength > 0 && int(length) > cfg.MaxLength) {
		return nil, fmt.Errorf("%d bytes: %w", length, ErrInvalidTraceLength)
	}

	logger.Debugf("Reading %d byte trace at %#08x", length, cfg.BaseAddress)

	raw, err := sess.ReadBlock(ctx, cfg.BaseAddress, int(length))
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	raw = raw[:length]

	text, err := DecodeTrace(c.Decoder, raw)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{Device: dev, Raw: raw, Text: text}

	if opts.Dir != "" {
		if result.Output, err = c.Decoder.DecodeToFile(raw, opts.Dir); err != nil {
			return nil, err
		}
	}

	lines := bytes.Count(text, []byte{'\n'})
	if result.Capture, err = c.Inventory.RecordCapture(id, raw, lines, result.Output); err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{"lines": lines, "changed": result.Capture.Changed}).Info("Trace captured")

	return result, nil
}
