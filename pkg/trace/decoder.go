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
	"encoding/binary"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	recordWordSize = 4

	// MaxArgs is the largest valid argument count of a record.
	MaxArgs = 4
)

// Record is one decoded trace record word and its arguments.
type Record struct {
	Index     uint16
	Subsystem uint8
	Args      []uint32
}

// ParseRecordWord splits a record word into its statement index, subsystem
// and argument count.
func ParseRecordWord(word uint32) (index uint16, subsystem uint8, argc int) {
	return uint16(word), uint8(word >> 16), int(word >> 24)
}

// MakeRecordWord is the inverse of ParseRecordWord.
func MakeRecordWord(index uint16, subsystem uint8, argc int) uint32 {
	return uint32(index) | uint32(subsystem)<<16 | uint32(argc)<<24
}

// Summary describes a completed decode.
type Summary struct {
	Version   uint32
	Tables    int
	Malformed int
	Records   int
	Unknown   int
	Bytes     int

	// Truncated is set when record decoding stopped before the end of the
	// buffer.
	Truncated bool
}

// Decoder turns raw trace buffers into text. A Decoder holds no state between
// calls and may be shared.
type Decoder struct {
	log *log.Entry
}

func NewDecoder(logger *log.Entry) *Decoder {
	if logger == nil {
		logger = log.WithField("component", "trace")
	}
	return &Decoder{log: logger}
}

// Decode renders every record of raw to sink, one line per record. A header
// that fails validation returns an error before anything reaches the sink;
// malformed string tables and a truncated record stream are recovered.
func (d *Decoder) Decode(raw []byte, sink Sink) (Summary, error) {
	var summary Summary

	hdr, err := ParseHeader(raw)
	if err != nil {
		return summary, err
	}
	summary.Version = hdr.Version

	tables := ParseStringTables(raw[HeaderSize:hdr.RecordsOffset()], d.log)
	summary.Tables = len(tables)
	for _, t := range tables {
		if t.Malformed {
			summary.Malformed++
		}
	}

	offset := hdr.RecordsOffset()
	for offset < len(raw) {
		if offset+recordWordSize > len(raw) {
			summary.Truncated = true
			break
		}

		index, subsystem, argc := ParseRecordWord(binary.LittleEndian.Uint32(raw[offset:]))
		if argc > MaxArgs || offset+recordWordSize*(1+argc) > len(raw) {
			d.log.WithField("subsystem", subsystem).Debugf("Record at offset %d truncated: %d arguments", offset, argc)
			summary.Truncated = true
			break
		}
		offset += recordWordSize

		args := make([]uint32, argc)
		for i := range args {
			args[i] = binary.LittleEndian.Uint32(raw[offset:])
			offset += recordWordSize
		}

		var line string
		if format, ok := tables.Lookup(index, subsystem); ok {
			line = Render(format, args)
		} else {
			line = RenderUnknown(subsystem, index, args)
			summary.Unknown++
		}

		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}

		if err := sink.WriteLine(line); err != nil {
			sink.Close()
			return summary, err
		}

		summary.Records++
		summary.Bytes += len(line)
	}

	d.log.WithFields(log.Fields{
		"tables":  summary.Tables,
		"records": summary.Records,
		"unknown": summary.Unknown,
	}).Debug("Trace decoded")

	return summary, sink.Close()
}

// DecodeToBuffer decodes raw into out. On success it returns the bytes
// written. When out is too small it returns the capacity to supply on the
// next call, slack included, with an error wrapping ErrBufferTooSmall.
func (d *Decoder) DecodeToBuffer(raw []byte, out []byte) (int, error) {
	sink := NewBufferSink(out)

	if _, err := d.Decode(raw, sink); err != nil {
		if required, ok := IsBufferTooSmall(err); ok {
			return required, err
		}
		return 0, err
	}

	return sink.Len(), nil
}

// DecodeToFile decodes raw into the default file name under dir and returns
// the path written.
func (d *Decoder) DecodeToFile(raw []byte, dir string) (string, error) {
	sink := NewFileSink(dir, DefaultFileName)

	if _, err := d.Decode(raw, sink); err != nil {
		return "", err
	}

	return sink.Path(), nil
}
