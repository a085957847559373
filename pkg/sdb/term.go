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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pkg/term"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// SerialConfig holds the line settings of a serial debug bridge. The line is
// always 8 data bits, no parity, 1 stop bit with no flow control.
type SerialConfig struct {
	Baud int

	// ReadTimeout bounds each read on the receive handle so the link reader
	// task can observe cancellation.
	ReadTimeout time.Duration
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}

// OpenSerial opens the tty at path twice, once for each direction, after
// taking the device's exclusive lock. Closing the write side releases the lock.
//
// Line settings belong to the tty rather than to a handle, so the write side
// configures the line and the read side only adds its timeout afterwards.
func OpenSerial(path string, cfg SerialConfig) (io.ReadCloser, io.WriteCloser, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	lock, err := LockDevice(path)
	if err != nil {
		return nil, nil, err
	}

	tx, err := term.Open(path,
		term.Speed(cfg.Baud),
		term.RawMode,
		term.FlowControl(term.NONE))
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("open %s for write: %w", path, err)
	}

	rx, err := term.Open(path, term.ReadTimeout(cfg.ReadTimeout))
	if err != nil {
		tx.Close()
		lock.Release()
		return nil, nil, fmt.Errorf("open %s for read: %w", path, err)
	}

	// Discard whatever the device sent before we were listening
	if err := rx.Flush(); err != nil {
		rx.Close()
		tx.Close()
		lock.Release()
		return nil, nil, fmt.Errorf("flush %s: %w", path, err)
	}

	return rx, &lockedTerm{Term: tx, lock: lock}, nil
}

type lockedTerm struct {
	*term.Term
	lock *DeviceLock
}

func (t *lockedTerm) Close() error {
	return errors.Join(t.Term.Close(), t.lock.Release())
}
