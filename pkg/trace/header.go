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

// Package trace decodes the raw trace buffer kept by device firmware. The
// buffer carries a header, the format strings of every subsystem that logs to
// it, and a stream of compact records that reference those strings.
package trace

import (
	"bytes"
	"fmt"

	"github.com/HewlettPackard/structex"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
)

const (
	HeaderSize    = 16
	HeaderVersion = 1

	// FlagStringsIncluded is set when the string tables are embedded in the buffer.
	FlagStringsIncluded = 1 << 0
)

// Header is the fixed header at the start of every trace buffer. All fields
// are little-endian.
type Header struct {
	Version       uint32
	Length        uint32
	Flags         uint32
	StringsLength uint32
}

func (h Header) StringsIncluded() bool {
	return h.Flags&FlagStringsIncluded != 0
}

// RecordsOffset is the offset of the first record.
func (h Header) RecordsOffset() int {
	return HeaderSize + int(h.StringsLength)
}

// ParseHeader decodes and validates the header of buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header

	if len(buf) < HeaderSize {
		return h, common.NewError(common.MalformedHeader, "parse header",
			fmt.Errorf("buffer length %d shorter than header", len(buf)))
	}

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(buf[:HeaderSize]), &h); err != nil {
		return h, common.NewError(common.MalformedHeader, "parse header", err)
	}

	if h.Version != HeaderVersion {
		return h, common.NewError(common.MalformedHeader, "parse header",
			fmt.Errorf("unsupported version %d", h.Version))
	}

	if int64(h.StringsLength) > int64(len(buf)-HeaderSize) {
		return h, common.NewError(common.MalformedHeader, "parse header",
			fmt.Errorf("strings length %d exceeds buffer length %d", h.StringsLength, len(buf)))
	}

	return h, nil
}
