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
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
)

// ttyRx reads like a tty opened with a read timeout: an idle read returns
// (0, io.EOF). With hang set reads ignore the timeout until Close.
type ttyRx struct {
	data    chan []byte
	closed  chan struct{}
	once    sync.Once
	timeout time.Duration
	hang    atomic.Bool
}

func newTtyRx() *ttyRx {
	return &ttyRx{
		data:    make(chan []byte, 1),
		closed:  make(chan struct{}),
		timeout: 5 * time.Millisecond,
	}
}

func (rx *ttyRx) Read(p []byte) (int, error) {
	var expired <-chan time.Time
	if !rx.hang.Load() {
		t := time.NewTimer(rx.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case b := <-rx.data:
		return copy(p, b), nil
	case <-expired:
		return 0, io.EOF
	case <-rx.closed:
		return 0, os.ErrClosed
	}
}

func (rx *ttyRx) Close() error {
	rx.once.Do(func() { close(rx.closed) })
	return nil
}

type failingRx struct{ err error }

func (rx failingRx) Read([]byte) (int, error) { return 0, rx.err }

type discardTx struct{}

func (discardTx) Write(p []byte) (int, error) { return len(p), nil }
func (discardTx) Close() error                { return nil }

var _ = Describe("Link reader", func() {
	var logger *log.Entry

	BeforeEach(func() {
		l := log.New()
		l.SetOutput(GinkgoWriter)
		logger = log.NewEntry(l)
	})

	It("treats an expired tty read as an idle line", func() {
		rx := newTtyRx()
		buf := NewFramedBuffer()

		ctx, cancel := context.WithCancel(context.Background())
		r := startReader(ctx, rx, buf, logger)

		Consistently(r.alive, 100*time.Millisecond).Should(BeTrue())

		rx.data <- []byte{0xCA, 0xFE}
		Eventually(buf.Len).Should(Equal(2))
		Expect(r.alive()).To(BeTrue())

		cancel()
		Eventually(r.alive).Should(BeFalse())
		Expect(r.wait()).To(Succeed())
	})

	It("stops on a transport failure", func() {
		unplugged := errors.New("unplugged")
		r := startReader(context.Background(), failingRx{err: unplugged}, NewFramedBuffer(), logger)

		Eventually(r.alive).Should(BeFalse())
		Expect(r.wait()).To(MatchError(unplugged))
	})

	Describe("Session close", func() {
		var saved time.Duration

		BeforeEach(func() {
			saved = CloseTimeout
			CloseTimeout = 50 * time.Millisecond
		})

		AfterEach(func() {
			CloseTimeout = saved
		})

		It("returns promptly over an idle tty", func() {
			rx := newTtyRx()
			sess := NewSession(rx, discardTx{}, WithLogger(logger))

			Consistently(sess.reader.alive, 50*time.Millisecond).Should(BeTrue())

			Expect(sess.Close()).To(Succeed())
			Expect(sess.reader.alive()).To(BeFalse())
		})

		It("does not wait forever on a transport that never times out", func() {
			rx := newTtyRx()
			rx.hang.Store(true)
			sess := NewSession(rx, discardTx{}, WithLogger(logger))

			done := make(chan error, 1)
			go func() { done <- sess.Close() }()

			Eventually(done, time.Second).Should(Receive(BeNil()))
			Eventually(sess.reader.alive).Should(BeFalse())
		})
	})
})
