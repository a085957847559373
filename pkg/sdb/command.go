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

package sdb

import (
	"encoding/binary"
	"fmt"
)

// An Opcode is the first byte of every command sent over the bridge.
type Opcode byte

const (
	ReadOpcode     Opcode = 'G' // 0x47
	WriteOpcode    Opcode = 'P' // 0x50
	ContinueOpcode Opcode = 'n' // 0x6E
)

func (op Opcode) String() string {
	switch op {
	case ReadOpcode:
		return "Read"
	case WriteOpcode:
		return "Write"
	case ContinueOpcode:
		return "Continue"
	default:
		return "Unknown"
	}
}

// Width is the operand size of an access in bytes.
type Width uint8

const (
	Byte  Width = 1
	Word  Width = 2
	Dword Width = 4
)

func (w Width) Valid() bool {
	return w == Byte || w == Word || w == Dword
}

const (
	// Terminator ends every command.
	Terminator byte = '\r'

	// Prompt is the byte the bridge emits after a reply. It is discarded.
	Prompt byte = '>'

	addressLength = 4

	// Full addressed read: opcode, width, address, terminator.
	readCommandLength = 1 + 1 + addressLength + 1

	// Continuation read: opcode, terminator.
	continueCommandLength = 2
)

// ParseWidth converts a byte count into a Width.
func ParseWidth(n int) (Width, error) {
	w := Width(n)
	if n < 0 || n > 0xFF || !w.Valid() {
		return 0, fmt.Errorf("invalid access width %d", n)
	}
	return w, nil
}

// EncodeRead builds the addressed read command for width bytes at addr.
func EncodeRead(addr uint32, width Width) []byte {
	cmd := make([]byte, readCommandLength)
	cmd[0] = byte(ReadOpcode)
	cmd[1] = byte(width)
	binary.BigEndian.PutUint32(cmd[2:6], addr)
	cmd[6] = Terminator
	return cmd
}

// EncodeContinue builds the continuation read, which returns the dword at the
// address following the previous dword read.
func EncodeContinue() []byte {
	return []byte{byte(ContinueOpcode), Terminator}
}

// EncodeWrite builds the write command for width bytes of value at addr. Data
// is sent big-endian.
func EncodeWrite(addr uint32, width Width, value uint32) []byte {
	cmd := make([]byte, 0, readCommandLength+int(width))
	cmd = append(cmd, byte(WriteOpcode), byte(width))
	cmd = binary.BigEndian.AppendUint32(cmd, addr)
	cmd = appendValue(cmd, width, value)
	return append(cmd, Terminator)
}

func appendValue(b []byte, width Width, value uint32) []byte {
	switch width {
	case Byte:
		return append(b, uint8(value))
	case Word:
		return binary.BigEndian.AppendUint16(b, uint16(value))
	default:
		return binary.BigEndian.AppendUint32(b, value)
	}
}

// DecodeValue converts a big-endian reply into a host value.
func DecodeValue(reply []byte, width Width) uint32 {
	switch width {
	case Byte:
		return uint32(reply[0])
	case Word:
		return uint32(binary.BigEndian.Uint16(reply))
	default:
		return binary.BigEndian.Uint32(reply)
	}
}
