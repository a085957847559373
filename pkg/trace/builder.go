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
	"fmt"
)

// Builder encodes a trace buffer in the device layout. The device emulator
// uses it to serve synthetic traces.
type Builder struct {
	strings []byte
	records []byte
}

// AddTable appends the string table of subsystem.
func (b *Builder) AddTable(subsystem uint8, mask uint32, strings ...string) *Builder {
	var data []byte
	for _, s := range strings {
		data = append(data, s...)
		data = append(data, 0)
	}

	// Keep every block a multiple of four bytes
	for len(data)%4 != 0 {
		data = append(data, 0)
	}

	b.strings = append(b.strings, subsystem, 0)
	b.strings = binary.LittleEndian.AppendUint16(b.strings, uint16(len(strings)))
	b.strings = binary.LittleEndian.AppendUint32(b.strings, uint32(TableHeaderSize+len(data)))
	b.strings = binary.LittleEndian.AppendUint32(b.strings, mask)
	b.strings = binary.LittleEndian.AppendUint32(b.strings, 0)
	b.strings = append(b.strings, data...)

	return b
}

// AddRecord appends a record referencing statement index of subsystem.
func (b *Builder) AddRecord(subsystem uint8, index uint16, args ...uint32) *Builder {
	if len(args) > MaxArgs {
		panic(fmt.Sprintf("trace record with %d arguments", len(args)))
	}

	b.records = binary.LittleEndian.AppendUint32(b.records, MakeRecordWord(index, subsystem, len(args)))
	for _, a := range args {
		b.records = binary.LittleEndian.AppendUint32(b.records, a)
	}

	return b
}

// Bytes returns the encoded buffer.
func (b *Builder) Bytes() []byte {
	length := HeaderSize + len(b.strings) + len(b.records)

	buf := make([]byte, 0, length)
	buf = binary.LittleEndian.AppendUint32(buf, HeaderVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(length))
	buf = binary.LittleEndian.AppendUint32(buf, FlagStringsIncluded)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.strings)))
	buf = append(buf, b.strings...)
	buf = append(buf, b.records...)

	return buf
}
