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

package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures reported by the link and trace packages.
type ErrorKind int

const (
	UnknownErrorKind ErrorKind = iota

	// TransportIo is a byte-level read or write failure on the transport.
	TransportIo

	// ProtocolTimeout means the expected reply never arrived within the retry budget.
	ProtocolTimeout

	// MalformedHeader is a trace header version mismatch or length overrun.
	MalformedHeader

	// MalformedTable is an invalid subsystem string table. It is recovered
	// locally by the decoder and never returned from a decode.
	MalformedTable

	// TruncatedRecord is a trace record with an invalid argument count or one
	// that overruns the buffer. It stops record iteration and is not returned.
	TruncatedRecord

	// BufferTooSmall means the caller supplied buffer cannot hold the decoded output.
	BufferTooSmall

	// SinkIo is a file create or write failure on the decoder output.
	SinkIo
)

var (
	ErrTransportIo     = errors.New("transport i/o error")
	ErrProtocolTimeout = errors.New("protocol timeout")
	ErrMalformedHeader = errors.New("malformed trace header")
	ErrMalformedTable  = errors.New("malformed string table")
	ErrTruncatedRecord = errors.New("truncated trace record")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrSinkIo          = errors.New("sink i/o error")
)

func (k ErrorKind) String() string {
	switch k {
	case TransportIo:
		return "TransportIo"
	case ProtocolTimeout:
		return "ProtocolTimeout"
	case MalformedHeader:
		return "MalformedHeader"
	case MalformedTable:
		return "MalformedTable"
	case TruncatedRecord:
		return "TruncatedRecord"
	case BufferTooSmall:
		return "BufferTooSmall"
	case SinkIo:
		return "SinkIo"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case TransportIo:
		return ErrTransportIo
	case ProtocolTimeout:
		return ErrProtocolTimeout
	case MalformedHeader:
		return ErrMalformedHeader
	case MalformedTable:
		return ErrMalformedTable
	case TruncatedRecord:
		return ErrTruncatedRecord
	case BufferTooSmall:
		return ErrBufferTooSmall
	case SinkIo:
		return ErrSinkIo
	}
	return nil
}

// Error is a classified failure. Op names the operation that failed and Err
// holds the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel error of the kind, so errors.Is(err, ErrProtocolTimeout)
// works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// KindOf returns the kind of the first *Error found in the chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownErrorKind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
