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
	"io"
	"os"
	"time"

	"github.com/pkg/term/termios"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Serial transport", func() {
	var master, slave *os.File

	BeforeEach(func() {
		var err error
		master, slave, err = termios.Pty()
		if err != nil {
			Skip("pseudoterminal unavailable: " + err.Error())
		}

		DeferCleanup(func() {
			master.Close()
			slave.Close()
		})
	})

	It("reads over a tty and closes while the line is idle", func() {
		rx, tx, err := OpenSerial(slave.Name(), SerialConfig{ReadTimeout: 100 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())

		sess := NewSession(rx, tx,
			WithName("pty"),
			WithWaitStrategy(NotifyWait{IdleTimeout: time.Second}))

		// The device answers a single dword read
		go func() {
			defer GinkgoRecover()

			cmd := make([]byte, len(EncodeRead(0, Dword)))
			if _, err := io.ReadFull(master, cmd); err != nil {
				return
			}
			Expect(cmd).To(Equal(EncodeRead(0xF0000004, Dword)))

			master.Write([]byte{0xCA, 0xFE, 0xF0, 0x0D, '>'})
		}()

		Consistently(sess.reader.alive, 300*time.Millisecond).Should(BeTrue())

		Expect(sess.Read32(context.Background(), 0xF0000004)).To(Equal(uint32(0xCAFEF00D)))

		Consistently(sess.reader.alive, 300*time.Millisecond).Should(BeTrue())

		done := make(chan error, 1)
		go func() { done <- sess.Close() }()

		Eventually(done, time.Second).Should(Receive(BeNil()))
		Expect(sess.reader.alive()).To(BeFalse())
	})

	It("refuses a second open of a locked device", func() {
		rx, tx, err := OpenSerial(slave.Name(), DefaultSerialConfig())
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			rx.Close()
			tx.Close()
		}()

		_, _, err = OpenSerial(slave.Name(), DefaultSerialConfig())
		Expect(err).To(MatchError(ErrDeviceBusy))
	})
})
