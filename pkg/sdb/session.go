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
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
)

// ReadAttempts is the number of times a read is issued before it fails.
// Writes are issued exactly once.
const ReadAttempts = 6

// CloseTimeout bounds how long Close waits for the reader task at each step.
var CloseTimeout = time.Second

var ErrSessionClosed = errors.New("session closed")

// Session is an open serial debug bridge link to one device. Calls on a
// session are serialized; commands are never pipelined.
type Session struct {
	name string

	lock sync.Mutex

	rx io.ReadCloser
	tx io.WriteCloser

	buf    *FramedBuffer
	reader *readerTask
	cancel context.CancelFunc

	wait    WaitStrategy
	yield   func()
	metrics *Metrics
	log     *log.Entry

	// Continuation cache: address of the last successful dword read.
	lastAddr  uint32
	lastValid bool

	closed bool
}

// Option configures a Session.
type Option func(*Session)

func WithName(name string) Option {
	return func(s *Session) { s.name = name }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithWaitStrategy(w WaitStrategy) Option {
	return func(s *Session) {
		if w != nil {
			s.wait = w
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithYield replaces the function called after a command is written to let the
// device and the reader task make progress.
func WithYield(f func()) Option {
	return func(s *Session) {
		if f != nil {
			s.yield = f
		}
	}
}

// NewSession opens a session over the read side rx and write side tx of a
// transport and starts the link reader task. rx must return from Read
// periodically for Close to complete.
func NewSession(rx io.ReadCloser, tx io.WriteCloser, opts ...Option) *Session {
	s := &Session{
		name:  "sdb",
		rx:    rx,
		tx:    tx,
		buf:   NewFramedBuffer(),
		wait:  NotifyWait{},
		yield: runtime.Gosched,
		log:   log.NewEntry(log.StandardLogger()),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.WithField("device", s.name)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.reader = startReader(ctx, rx, s.buf, s.log)

	s.log.Debug("Link session opened")

	return s
}

// Name returns the name the session was opened with.
func (s *Session) Name() string { return s.name }

// Close stops the reader task and then releases the transport handles. A
// reader stuck in a transport that never times out is given CloseTimeout,
// then its handle is closed underneath it; Close does not wait past that.
func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()

	stopped := s.reader.waitFor(CloseTimeout)

	rxErr := s.rx.Close()
	if !stopped && !s.reader.waitFor(CloseTimeout) {
		s.log.Warn("Link reader did not stop")
	}

	txErr := s.tx.Close()

	s.log.Debug("Link session closed")

	return errors.Join(rxErr, txErr)
}

func (s *Session) Read8(ctx context.Context, addr uint32) (uint8, error) {
	v, err := s.Read(ctx, addr, Byte)
	return uint8(v), err
}

func (s *Session) Read16(ctx context.Context, addr uint32) (uint16, error) {
	v, err := s.Read(ctx, addr, Word)
	return uint16(v), err
}

func (s *Session) Read32(ctx context.Context, addr uint32) (uint32, error) {
	return s.Read(ctx, addr, Dword)
}

func (s *Session) Write8(ctx context.Context, addr uint32, value uint8) error {
	return s.Write(ctx, addr, Byte, uint32(value))
}

func (s *Session) Write16(ctx context.Context, addr uint32, value uint16) error {
	return s.Write(ctx, addr, Word, uint32(value))
}

func (s *Session) Write32(ctx context.Context, addr uint32, value uint32) error {
	return s.Write(ctx, addr, Dword, value)
}

// Read reads width bytes at addr. The read is attempted up to ReadAttempts
// times; a transport write failure ends it immediately.
func (s *Session) Read(ctx context.Context, addr uint32, width Width) (uint32, error) {
	if !width.Valid() {
		return 0, fmt.Errorf("read %#08x: invalid access width %d", addr, width)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	return s.read(ctx, addr, width)
}

func (s *Session) read(ctx context.Context, addr uint32, width Width) (uint32, error) {
	var lastErr error
	for attempt := 1; attempt <= ReadAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.retry()
			s.log.WithError(lastErr).Debugf("Retry read %#08x attempt %d", addr, attempt)
		}

		value, err := s.readOnce(ctx, addr, width)
		if err == nil {
			if width == Dword {
				s.lastAddr, s.lastValid = addr, true
			} else {
				s.lastValid = false
			}
			return value, nil
		}

		s.lastValid = false
		lastErr = err

		if common.IsKind(err, common.TransportIo) || ctx.Err() != nil {
			return 0, err
		}
	}

	s.metrics.timeout()
	s.log.WithError(lastErr).Warnf("Read %#08x failed after %d attempts", addr, ReadAttempts)

	return 0, lastErr
}

func (s *Session) readOnce(ctx context.Context, addr uint32, width Width) (uint32, error) {
	s.buf.Flush()

	var cmd []byte
	var op Opcode
	if width == Dword && s.lastValid && addr == s.lastAddr+4 {
		cmd, op = EncodeContinue(), ContinueOpcode
	} else {
		cmd, op = EncodeRead(addr, width), ReadOpcode
	}

	if err := s.send(cmd, op); err != nil {
		return 0, common.NewError(common.TransportIo, fmt.Sprintf("read %#08x", addr), err)
	}

	if err := s.wait.Wait(ctx, s.buf, int(width)); err != nil {
		return 0, err
	}

	reply := s.buf.Take(int(width))
	if len(reply) < int(width) {
		return 0, common.NewError(common.ProtocolTimeout, fmt.Sprintf("read %#08x", addr),
			fmt.Errorf("received %d of %d bytes", len(reply), width))
	}

	// Discard the prompt
	s.buf.Take(1)
	s.metrics.bytes(len(reply))

	return DecodeValue(reply, width), nil
}

// Write writes width bytes of value at addr. It is issued once and never
// retried.
func (s *Session) Write(ctx context.Context, addr uint32, width Width, value uint32) error {
	if !width.Valid() {
		return fmt.Errorf("write %#08x: invalid access width %d", addr, width)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.lastValid = false

	s.buf.Flush()
	if err := s.send(EncodeWrite(addr, width, value), WriteOpcode); err != nil {
		return common.NewError(common.TransportIo, fmt.Sprintf("write %#08x", addr), err)
	}

	// Drain the echo so it cannot be taken as the reply to the next command.
	if err := s.wait.Wait(ctx, s.buf, int(width)); err != nil {
		return err
	}
	s.buf.Flush()

	return nil
}

func (s *Session) send(cmd []byte, op Opcode) error {
	if s.log.Logger.IsLevelEnabled(log.TraceLevel) {
		s.log.Tracef("=> %s", hex.EncodeToString(cmd))
	}

	s.metrics.command(op)

	n, err := s.tx.Write(cmd)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return io.ErrShortWrite
	}

	s.yield()

	return nil
}

// ReadBlock reads length bytes starting at addr as a sequence of dword reads,
// which lets every read after the first use the continuation command. The
// words are stored little-endian, reproducing the device's memory image.
// length is rounded up to a multiple of four.
func (s *Session) ReadBlock(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("read block %#08x: invalid length %d", addr, length)
	}

	words := (length + 3) / 4
	data := make([]byte, 0, words*4)

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	for i := 0; i < words; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v, err := s.read(ctx, addr+uint32(i*4), Dword)
		if err != nil {
			return nil, fmt.Errorf("read block %#08x word %d: %w", addr, i, err)
		}

		data = binary.LittleEndian.AppendUint32(data, v)
	}

	return data, nil
}

// WriteBlock writes data starting at addr one dword at a time. A trailing
// partial word is written byte by byte.
func (s *Session) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	offset := 0
	for ; offset+4 <= len(data); offset += 4 {
		v := binary.LittleEndian.Uint32(data[offset:])
		if err := s.Write(ctx, addr+uint32(offset), Dword, v); err != nil {
			return err
		}
	}

	for ; offset < len(data); offset++ {
		if err := s.Write(ctx, addr+uint32(offset), Byte, uint32(data[offset])); err != nil {
			return err
		}
	}

	return nil
}
