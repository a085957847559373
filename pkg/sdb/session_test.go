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
	"errors"
	"io"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
)

type countingTx struct {
	io.WriteCloser
	writes atomic.Int32
}

func (tx *countingTx) Write(p []byte) (int, error) {
	tx.writes.Add(1)
	return tx.WriteCloser.Write(p)
}

var _ = Describe("Session", func() {
	var (
		dev  *MockDevice
		tx   *countingTx
		sess *Session
		ctx  context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		dev = NewMockDevice()

		rx, w := dev.Ports()
		tx = &countingTx{WriteCloser: w}
		sess = NewSession(rx, tx,
			WithName("mock"),
			WithWaitStrategy(NotifyWait{IdleTimeout: 20 * time.Millisecond}))
	})

	AfterEach(func() {
		Expect(sess.Close()).To(Succeed())
	})

	Describe("Reads", func() {
		It("reads each access width", func() {
			dev.Load(0x2000, []byte{0x11, 0x22, 0x33, 0x44})

			Expect(sess.Read32(ctx, 0x2000)).To(Equal(uint32(0x44332211)))
			Expect(sess.Read16(ctx, 0x2000)).To(Equal(uint16(0x2211)))
			Expect(sess.Read8(ctx, 0x2003)).To(Equal(uint8(0x44)))
		})

		It("rejects an invalid width", func() {
			_, err := sess.Read(ctx, 0x2000, Width(3))
			Expect(err).To(HaveOccurred())
			Expect(tx.writes.Load()).To(BeZero())
		})

		It("works without a prompt byte", func() {
			dev.NoPrompt = true
			dev.Poke32(0x100, 0xCAFEF00D)
			dev.Poke32(0x104, 0x0BADF00D)

			Expect(sess.Read32(ctx, 0x100)).To(Equal(uint32(0xCAFEF00D)))
			Expect(sess.Read32(ctx, 0x104)).To(Equal(uint32(0x0BADF00D)))
		})

		It("flushes stale bytes before issuing a command", func() {
			dev.Poke32(0x40, 0x12345678)
			dev.Inject([]byte{0xAA, 0xBB, 0xCC})
			Eventually(sess.buf.Len).Should(Equal(3))

			Expect(sess.Read32(ctx, 0x40)).To(Equal(uint32(0x12345678)))
		})
	})

	Describe("Continuation reads", func() {
		It("uses the continuation command for the next sequential dword", func() {
			dev.Poke32(0x1000, 1)
			dev.Poke32(0x1004, 2)

			Expect(sess.Read32(ctx, 0x1000)).To(Equal(uint32(1)))
			Expect(sess.Read32(ctx, 0x1004)).To(Equal(uint32(2)))

			cmds := dev.Commands()
			Expect(cmds).To(HaveLen(2))
			Expect(cmds[0]).To(Equal(EncodeRead(0x1000, Dword)))
			Expect(cmds[0]).To(HaveLen(7))
			Expect(cmds[1]).To(Equal([]byte{'n', '\r'}))
		})

		It("sends the addressed command for a non-sequential dword", func() {
			Expect(sess.Read32(ctx, 0x1000)).Error().NotTo(HaveOccurred())
			Expect(sess.Read32(ctx, 0x1008)).Error().NotTo(HaveOccurred())
			Expect(sess.Read32(ctx, 0x1000)).Error().NotTo(HaveOccurred())

			Expect(dev.CountCommands(ReadOpcode)).To(Equal(3))
			Expect(dev.CountCommands(ContinueOpcode)).To(BeZero())
		})

		It("resets the cache after a write", func() {
			Expect(sess.Read32(ctx, 0x1000)).Error().NotTo(HaveOccurred())
			Expect(sess.Write32(ctx, 0x2000, 7)).To(Succeed())
			Expect(sess.Read32(ctx, 0x1004)).Error().NotTo(HaveOccurred())

			Expect(dev.CountCommands(ReadOpcode)).To(Equal(2))
			Expect(dev.CountCommands(ContinueOpcode)).To(BeZero())
		})

		It("resets the cache after a narrower read", func() {
			Expect(sess.Read32(ctx, 0x1000)).Error().NotTo(HaveOccurred())
			Expect(sess.Read16(ctx, 0x3000)).Error().NotTo(HaveOccurred())
			Expect(sess.Read32(ctx, 0x1004)).Error().NotTo(HaveOccurred())

			Expect(dev.CountCommands(ContinueOpcode)).To(BeZero())
		})

		It("reads a block with continuation commands", func() {
			data := make([]byte, 16)
			for i := range data {
				data[i] = byte(i + 1)
			}
			dev.Load(0x8000, data)

			Expect(sess.ReadBlock(ctx, 0x8000, len(data))).To(Equal(data))
			Expect(dev.CountCommands(ReadOpcode)).To(Equal(1))
			Expect(dev.CountCommands(ContinueOpcode)).To(Equal(3))
		})
	})

	Describe("Retries", func() {
		It("attempts a failing read exactly six times", func() {
			dev.DropReplies = 100

			_, err := sess.Read32(ctx, 0x1000)
			Expect(err).To(MatchError(common.ErrProtocolTimeout))
			Expect(common.KindOf(err)).To(Equal(common.ProtocolTimeout))
			Expect(dev.CountCommands(ReadOpcode)).To(Equal(ReadAttempts))
			Expect(tx.writes.Load()).To(BeEquivalentTo(6))
		})

		It("recovers from transient failures", func() {
			dev.Poke32(0x1000, 0xA5A5A5A5)
			dev.DropReplies = 2
			dev.ShortReplies = 1

			Expect(sess.Read32(ctx, 0x1000)).To(Equal(uint32(0xA5A5A5A5)))
			Expect(dev.CountCommands(ReadOpcode)).To(Equal(4))
		})

		It("retries with the addressed command after a failed continuation", func() {
			dev.Poke32(0x1004, 9)
			Expect(sess.Read32(ctx, 0x1000)).Error().NotTo(HaveOccurred())

			dev.DropReplies = 1
			Expect(sess.Read32(ctx, 0x1004)).To(Equal(uint32(9)))

			cmds := dev.Commands()
			Expect(cmds).To(HaveLen(3))
			Expect(cmds[1]).To(Equal(EncodeContinue()))
			Expect(cmds[2]).To(Equal(EncodeRead(0x1004, Dword)))
		})

		It("does not retry a transport write failure", func() {
			dev.FailWrites = true

			_, err := sess.Read32(ctx, 0x1000)
			Expect(common.IsKind(err, common.TransportIo)).To(BeTrue())
			Expect(tx.writes.Load()).To(BeEquivalentTo(1))
		})

		It("stops when the context is cancelled", func() {
			dev.DropReplies = 100
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := sess.Read32(cctx, 0x1000)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(dev.CountCommands(ReadOpcode)).To(Equal(1))
		})
	})

	Describe("Writes", func() {
		It("writes each access width big-endian on the wire", func() {
			Expect(sess.Write16(ctx, 0x3000, 0xBEEF)).To(Succeed())

			cmds := dev.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0]).To(Equal([]byte{'P', 2, 0, 0, 0x30, 0, 0xBE, 0xEF, '\r'}))

			Expect(sess.Read16(ctx, 0x3000)).To(Equal(uint16(0xBEEF)))
		})

		It("writes exactly once even when the device is silent", func() {
			dev.DropReplies = 100

			Expect(sess.Write32(ctx, 0x3000, 1)).To(Succeed())
			Expect(dev.CountCommands(WriteOpcode)).To(Equal(1))
			Expect(tx.writes.Load()).To(BeEquivalentTo(1))
		})

		It("reports a transport failure after a single attempt", func() {
			dev.FailWrites = true

			err := sess.Write8(ctx, 0x3000, 1)
			Expect(err).To(MatchError(common.ErrTransportIo))
			Expect(tx.writes.Load()).To(BeEquivalentTo(1))
		})

		It("writes a block", func() {
			data := []byte{1, 2, 3, 4, 5, 6}
			Expect(sess.WriteBlock(ctx, 0x5000, data)).To(Succeed())
			Expect(dev.Peek32(0x5000)).To(Equal(binary.LittleEndian.Uint32(data)))
			Expect(sess.Read16(ctx, 0x5004)).To(Equal(uint16(0x0605)))
		})
	})

	Describe("Close", func() {
		It("stops the reader before returning", func() {
			Expect(sess.Close()).To(Succeed())
			Expect(sess.reader.alive()).To(BeFalse())

			_, err := sess.Read32(ctx, 0)
			Expect(err).To(MatchError(ErrSessionClosed))
			Expect(sess.Write32(ctx, 0, 0)).To(MatchError(ErrSessionClosed))
		})
	})
})
