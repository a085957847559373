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
	"encoding/hex"
	"errors"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const readChunkSize = 256

// readerTask moves every byte arriving on the read side of the link into the
// framed buffer. It runs for the lifetime of a session. The transport must
// return from Read periodically (a read timeout) so cancellation is observed.
// An expired read may report (0, nil), (0, io.EOF) as a tty does, or
// os.ErrDeadlineExceeded; all of them mean the line was idle.
type readerTask struct {
	src  io.Reader
	buf  *FramedBuffer
	log  *log.Entry
	done chan struct{}
	err  error
}

func startReader(ctx context.Context, src io.Reader, buf *FramedBuffer, logger *log.Entry) *readerTask {
	r := &readerTask{
		src:  src,
		buf:  buf,
		log:  logger,
		done: make(chan struct{}),
	}

	go r.run(ctx)

	return r
}

func (r *readerTask) run(ctx context.Context) {
	defer close(r.done)

	chunk := make([]byte, readChunkSize)
	for ctx.Err() == nil {
		n, err := r.src.Read(chunk)
		if n > 0 {
			if r.log.Logger.IsLevelEnabled(log.TraceLevel) {
				r.log.Tracef("<= %s", hex.EncodeToString(chunk[:n]))
			}
			r.buf.Append(chunk[:n])
		}

		if n == 0 && errors.Is(err, io.EOF) {
			err = nil
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() == nil {
				r.log.WithError(err).Warn("Link reader stopped")
			}
			r.err = err
			return
		}

		if n == 0 {
			// Nothing arrived within the transport's read timeout.
			time.Sleep(time.Millisecond)
		}
	}
}

// wait blocks until the task exits.
func (r *readerTask) wait() error {
	<-r.done
	return r.err
}

// waitFor blocks until the task exits or d elapses. It reports whether the
// task exited.
func (r *readerTask) waitFor(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-r.done:
		return true
	case <-t.C:
		return false
	}
}

// alive reports whether the task is still running.
func (r *readerTask) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
