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
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

const mockReadTimeout = 10 * time.Millisecond

var ErrMockWriteFailed = errors.New("mock transport write failed")

// MockDevice emulates a device behind a serial debug bridge. Its address space
// is little-endian and sparse; unwritten bytes read as zero. Replies are
// produced synchronously when a command's terminator is received.
type MockDevice struct {
	lock sync.Mutex

	mem map[uint32]byte

	pending []byte // partially received command
	out     []byte // reply bytes not yet read
	signal  chan struct{}

	lastAddr uint32
	closed   bool

	// Commands holds every complete command received, terminator included.
	commands [][]byte

	// DropReplies silently drops the replies to the next N commands.
	DropReplies int

	// ShortReplies truncates the replies to the next N commands to one byte.
	ShortReplies int

	// FailWrites makes every transport write fail.
	FailWrites bool

	// NoPrompt suppresses the prompt byte after each reply.
	NoPrompt bool
}

func NewMockDevice() *MockDevice {
	return &MockDevice{
		mem:    make(map[uint32]byte),
		signal: make(chan struct{}, 1),
	}
}

// Ports opens the emulated transport and returns its read and write sides.
// Closing the write side closes the transport; memory survives for the next
// open.
func (d *MockDevice) Ports() (io.ReadCloser, io.WriteCloser) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.closed = false
	d.pending = nil
	d.out = nil

	return &mockRx{dev: d}, &mockTx{dev: d}
}

// Load stores data at addr.
func (d *MockDevice) Load(addr uint32, data []byte) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for i, b := range data {
		d.mem[addr+uint32(i)] = b
	}
}

func (d *MockDevice) Poke32(addr uint32, value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	d.Load(addr, b[:])
}

func (d *MockDevice) Peek32(addr uint32) uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.peek(addr, Dword)
}

// Commands returns a copy of every command received so far.
func (d *MockDevice) Commands() [][]byte {
	d.lock.Lock()
	defer d.lock.Unlock()

	cmds := make([][]byte, len(d.commands))
	for i, c := range d.commands {
		cmds[i] = append([]byte(nil), c...)
	}
	return cmds
}

// CountCommands returns how many received commands start with op.
func (d *MockDevice) CountCommands(op Opcode) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	count := 0
	for _, c := range d.commands {
		if Opcode(c[0]) == op {
			count++
		}
	}
	return count
}

// ResetCommands clears the command log.
func (d *MockDevice) ResetCommands() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.commands = nil
}

func (d *MockDevice) peek(addr uint32, width Width) uint32 {
	var v uint32
	for i := int(width) - 1; i >= 0; i-- {
		v = v<<8 | uint32(d.mem[addr+uint32(i)])
	}
	return v
}

func (d *MockDevice) poke(addr uint32, width Width, value uint32) {
	for i := 0; i < int(width); i++ {
		d.mem[addr+uint32(i)] = byte(value >> (8 * i))
	}
}

func (d *MockDevice) write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return 0, os.ErrClosed
	}
	if d.FailWrites {
		return 0, ErrMockWriteFailed
	}

	for _, b := range p {
		d.pending = append(d.pending, b)
		if cmd, ok := d.complete(); ok {
			d.pending = nil
			d.commands = append(d.commands, cmd)
			d.execute(cmd)
		}
	}

	return len(p), nil
}

// complete reports whether the pending bytes form a whole command.
func (d *MockDevice) complete() ([]byte, bool) {
	p := d.pending
	if len(p) == 0 {
		return nil, false
	}

	expected := 0
	switch Opcode(p[0]) {
	case ContinueOpcode:
		expected = continueCommandLength
	case ReadOpcode:
		expected = readCommandLength
	case WriteOpcode:
		if len(p) < 2 {
			return nil, false
		}
		expected = readCommandLength + int(p[1])
	default:
		// Resynchronize on the next terminator
		if p[len(p)-1] == Terminator {
			d.pending = nil
		}
		return nil, false
	}

	if len(p) < expected {
		return nil, false
	}

	return append([]byte(nil), p...), true
}

func (d *MockDevice) execute(cmd []byte) {
	var reply []byte

	switch Opcode(cmd[0]) {
	case ReadOpcode:
		width := Width(cmd[1])
		if !width.Valid() {
			return
		}
		addr := binary.BigEndian.Uint32(cmd[2:6])
		reply = appendValue(nil, width, d.peek(addr, width))
		d.lastAddr = addr

	case ContinueOpcode:
		d.lastAddr += 4
		reply = appendValue(nil, Dword, d.peek(d.lastAddr, Dword))

	case WriteOpcode:
		width := Width(cmd[1])
		if !width.Valid() {
			return
		}
		addr := binary.BigEndian.Uint32(cmd[2:6])
		data := cmd[6 : 6+int(width)]
		d.poke(addr, width, DecodeValue(data, width))
		reply = append(reply, data...)
	}

	if d.DropReplies > 0 {
		d.DropReplies--
		return
	}

	if d.ShortReplies > 0 {
		d.ShortReplies--
		reply = reply[:1]
	}

	d.out = append(d.out, reply...)
	if !d.NoPrompt {
		d.out = append(d.out, Prompt)
	}

	d.notify()
}

// Inject queues unsolicited bytes on the link, emulating a late reply to an
// earlier command.
func (d *MockDevice) Inject(p []byte) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.out = append(d.out, p...)
	d.notify()
}

func (d *MockDevice) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *MockDevice) read(p []byte) (int, error) {
	deadline := time.NewTimer(mockReadTimeout)
	defer deadline.Stop()

	for {
		d.lock.Lock()
		if d.closed {
			d.lock.Unlock()
			return 0, io.EOF
		}
		if len(d.out) != 0 {
			n := copy(p, d.out)
			d.out = d.out[n:]
			d.lock.Unlock()
			return n, nil
		}
		d.lock.Unlock()

		select {
		case <-d.signal:
		case <-deadline.C:
			return 0, nil
		}
	}
}

func (d *MockDevice) close() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.closed = true
}

type mockRx struct{ dev *MockDevice }

func (rx *mockRx) Read(p []byte) (int, error) { return rx.dev.read(p) }
func (rx *mockRx) Close() error               { return nil }

type mockTx struct{ dev *MockDevice }

func (tx *mockTx) Write(p []byte) (int, error) { return tx.dev.write(p) }
func (tx *mockTx) Close() error                { tx.dev.close(); return nil }
