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

import "sync"

// FramedBuffer is the inbound mailbox of a link. The reader task appends the
// bytes it receives and the session drains them. Consumed bytes are dropped, so
// Len is always the number of bytes not yet delivered.
type FramedBuffer struct {
	lock   sync.Mutex
	data   []byte
	signal chan struct{}
}

func NewFramedBuffer() *FramedBuffer {
	return &FramedBuffer{
		data:   make([]byte, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Append adds p to the end of the buffer and wakes any waiter.
func (b *FramedBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.lock.Lock()
	b.data = append(b.data, p...)
	b.lock.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of undelivered bytes.
func (b *FramedBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.data)
}

// Take removes and returns up to n bytes from the front of the buffer.
func (b *FramedBuffer) Take(n int) []byte {
	b.lock.Lock()
	defer b.lock.Unlock()

	if n > len(b.data) {
		n = len(b.data)
	}

	out := make([]byte, n)
	copy(out, b.data[:n])

	remaining := copy(b.data, b.data[n:])
	b.data = b.data[:remaining]

	return out
}

// Flush drops every undelivered byte and returns how many were dropped.
func (b *FramedBuffer) Flush() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	n := len(b.data)
	b.data = b.data[:0]
	return n
}

// Signal returns a channel that receives after an Append. At most one
// notification is pending at a time.
func (b *FramedBuffer) Signal() <-chan struct{} {
	return b.signal
}
