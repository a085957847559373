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

package trace

import (
	"bytes"
	"fmt"

	"github.com/HewlettPackard/structex"
	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
)

const (
	TableHeaderSize = 16

	// UnknownStatement replaces the strings of a malformed table.
	UnknownStatement = "Unknown"
)

// tableHeader starts every subsystem block in the strings region. Length
// counts the whole block, header included.
type tableHeader struct {
	Subsystem uint8
	Reserved0 uint8
	Count     uint16
	Length    uint32
	Mask      uint32
	Reserved1 uint32
}

// StringTable holds the format strings of one subsystem.
type StringTable struct {
	Subsystem uint8
	Count     uint16
	Length    uint32
	Mask      uint32

	// Malformed is set on the sentinel table substituted for an invalid block.
	Malformed bool

	strings []byte
}

func sentinelTable(hdr tableHeader) *StringTable {
	return &StringTable{
		Subsystem: hdr.Subsystem,
		Count:     1,
		Length:    hdr.Length,
		Mask:      hdr.Mask,
		Malformed: true,
		strings:   []byte(UnknownStatement + "\x00"),
	}
}

func decodeTableHeader(block []byte) (tableHeader, bool) {
	var hdr tableHeader
	if len(block) < TableHeaderSize {
		return hdr, false
	}
	if err := structex.DecodeByteBuffer(bytes.NewBuffer(block[:TableHeaderSize]), &hdr); err != nil {
		return hdr, false
	}
	return hdr, true
}

// ParseStringTable parses the block at the start of block. An invalid block
// yields the sentinel table together with an error of kind MalformedTable.
func ParseStringTable(block []byte) (*StringTable, error) {
	hdr, ok := decodeTableHeader(block)
	if !ok {
		return sentinelTable(hdr), common.NewError(common.MalformedTable, "parse string table",
			fmt.Errorf("block length %d shorter than table header", len(block)))
	}

	switch {
	case hdr.Count == 0:
		return sentinelTable(hdr), common.NewError(common.MalformedTable, "parse string table",
			fmt.Errorf("subsystem %d: no strings", hdr.Subsystem))
	case hdr.Length < TableHeaderSize:
		return sentinelTable(hdr), common.NewError(common.MalformedTable, "parse string table",
			fmt.Errorf("subsystem %d: invalid table length %d", hdr.Subsystem, hdr.Length))
	case int64(hdr.Length) > int64(len(block)):
		return sentinelTable(hdr), common.NewError(common.MalformedTable, "parse string table",
			fmt.Errorf("subsystem %d: table length %d exceeds %d available", hdr.Subsystem, hdr.Length, len(block)))
	}

	t := &StringTable{
		Subsystem: hdr.Subsystem,
		Count:     hdr.Count,
		Length:    hdr.Length,
		Mask:      hdr.Mask,
		strings:   make([]byte, hdr.Length-TableHeaderSize),
	}
	copy(t.strings, block[TableHeaderSize:hdr.Length])

	return t, nil
}

// Lookup returns string index of the table.
func (t *StringTable) Lookup(index uint16) (string, bool) {
	if index >= t.Count {
		return "", false
	}

	s := t.strings
	for i := uint16(0); i < index; i++ {
		end := bytes.IndexByte(s, 0)
		if end < 0 {
			return "", false
		}
		s = s[end+1:]
	}

	if len(s) == 0 {
		return "", false
	}

	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}

	return string(s), true
}

// Tables is the set of string tables found in one buffer, in the order they
// appear.
type Tables []*StringTable

// Lookup finds the format string of statement index in subsystem.
func (tables Tables) Lookup(index uint16, subsystem uint8) (string, bool) {
	for _, t := range tables {
		if t.Subsystem == subsystem {
			return t.Lookup(index)
		}
	}
	return "", false
}

// ParseStringTables walks the blocks of the strings region. Each block's own
// length locates the next one, so the walk stops at the first block whose
// length is zero or runs past the region. Blocks with no strings are replaced
// by the sentinel table and the walk continues.
func ParseStringTables(region []byte, logger *log.Entry) Tables {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	var tables Tables

	offset := 0
	for offset+TableHeaderSize <= len(region) {
		block := region[offset:]

		hdr, _ := decodeTableHeader(block)
		if hdr.Length == 0 || int64(hdr.Length) > int64(len(block)) {
			logger.WithField("subsystem", hdr.Subsystem).Debugf("String table walk stopped at offset %d: length %d", offset, hdr.Length)
			break
		}

		t, err := ParseStringTable(block)
		if err != nil {
			logger.WithField("subsystem", hdr.Subsystem).WithError(err).Warn("Malformed string table")
		}

		tables = append(tables, t)

		if hdr.Length < TableHeaderSize {
			break
		}
		offset += int(hdr.Length)
	}

	return tables
}
