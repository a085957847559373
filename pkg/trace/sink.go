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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
)

// DefaultFileName is the name of the file written by a file sink.
const DefaultFileName = "trace_log.txt"

// TraceBufferSlack is added to the size reported when a caller buffer is too
// small, leaving room for the trace to grow before the caller retries.
const TraceBufferSlack = 1024

// Sink receives the rendered lines of a decode. Close is called once after
// the last line when the buffer header was valid.
type Sink interface {
	WriteLine(line string) error
	Close() error
}

// BufferTooSmallError reports the capacity a caller buffer needs, slack
// included.
type BufferTooSmallError struct {
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("%s: %d bytes required", common.ErrBufferTooSmall, e.Required)
}

func (e *BufferTooSmallError) Unwrap() error {
	return common.NewError(common.BufferTooSmall, "decode", nil)
}

// BufferSink writes lines into a caller buffer. A line is written only if it
// fits whole, and nothing is written after the first line that does not. The
// total size of every line is always counted.
type BufferSink struct {
	buf      []byte
	n        int
	required int
	full     bool
}

func NewBufferSink(buf []byte) *BufferSink {
	return &BufferSink{buf: buf}
}

func (s *BufferSink) WriteLine(line string) error {
	s.required += len(line)

	if !s.full && s.n+len(line) <= len(s.buf) {
		s.n += copy(s.buf[s.n:], line)
	} else {
		s.full = true
	}

	return nil
}

// Close fails with *BufferTooSmallError when the lines did not fit.
func (s *BufferSink) Close() error {
	if s.required > len(s.buf) {
		return &BufferTooSmallError{Required: s.required + TraceBufferSlack}
	}
	return nil
}

// Len returns the bytes written to the buffer.
func (s *BufferSink) Len() int { return s.n }

// Required returns the total size of every line, without slack.
func (s *BufferSink) Required() int { return s.required }

func (s *BufferSink) Bytes() []byte { return s.buf[:s.n] }

// FileSink writes each line to a file as soon as it is rendered. The directory
// and file are created on first use, so a decode that fails on the header
// leaves nothing behind.
type FileSink struct {
	dir  string
	name string
	file *os.File
}

func NewFileSink(dir, name string) *FileSink {
	if name == "" {
		name = DefaultFileName
	}
	return &FileSink{dir: dir, name: name}
}

func (s *FileSink) Path() string {
	return filepath.Join(s.dir, s.name)
}

func (s *FileSink) open() error {
	if s.file != nil {
		return nil
	}

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return common.NewError(common.SinkIo, "create "+s.dir, err)
		}
	}

	f, err := os.Create(s.Path())
	if err != nil {
		return common.NewError(common.SinkIo, "create "+s.Path(), err)
	}

	s.file = f
	return nil
}

func (s *FileSink) WriteLine(line string) error {
	if err := s.open(); err != nil {
		return err
	}

	if _, err := s.file.WriteString(line); err != nil {
		return common.NewError(common.SinkIo, "write "+s.Path(), err)
	}

	return nil
}

// Close creates the file if no line was written, then closes it.
func (s *FileSink) Close() error {
	if err := s.open(); err != nil {
		return err
	}

	err := s.file.Close()
	s.file = nil
	if err != nil {
		return common.NewError(common.SinkIo, "close "+s.Path(), err)
	}
	return nil
}

// WriterSink writes lines to any writer.
type WriterSink struct {
	w io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteLine(line string) error {
	if _, err := io.WriteString(s.w, line); err != nil {
		return common.NewError(common.SinkIo, "write", err)
	}
	return nil
}

func (s *WriterSink) Close() error { return nil }

// IsBufferTooSmall returns the required capacity carried by err.
func IsBufferTooSmall(err error) (int, bool) {
	var e *BufferTooSmallError
	if errors.As(err, &e) {
		return e.Required, true
	}
	return 0, false
}
