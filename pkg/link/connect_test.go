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
package link

import (
	"context"
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-diag/internal/kvstore"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

const (
	probeAddress    = 0xF0000000
	identityAddress = 0xF0000004
)

type fakeDevice struct {
	words  map[uint32]uint32
	fail   map[uint32]error
	reads  []uint32
	closed bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{words: map[uint32]uint32{}, fail: map[uint32]error{}}
}

func (d *fakeDevice) Read32(ctx context.Context, addr uint32) (uint32, error) {
	d.reads = append(d.reads, addr)
	if err, ok := d.fail[addr]; ok {
		return 0, err
	}
	return d.words[addr], nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fakeRegistrar struct {
	devices []inventory.Device
	err     error
}

func (r *fakeRegistrar) Register(dev inventory.Device) (inventory.Device, error) {
	if r.err != nil {
		return inventory.Device{}, r.err
	}
	dev.ID = "fake-id"
	r.devices = append(r.devices, dev)
	return dev, nil
}

var _ = ginkgo.Describe("Connector", func() {
	var (
		ctx       context.Context
		dev       *fakeDevice
		registrar *fakeRegistrar
		openErr   error
		c         *Connector[*fakeDevice]
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		dev = newFakeDevice()
		dev.words[identityAddress] = 0x8536
		registrar = &fakeRegistrar{}
		openErr = nil

		c = &Connector[*fakeDevice]{
			Path: "/dev/ttyUSB0",
			Mode: SerialDebug,
			Open: func(ctx context.Context, path string) (*fakeDevice, error) {
				if openErr != nil {
					return nil, openErr
				}
				return dev, nil
			},
			Registrar:       registrar,
			ProbeAddress:    probeAddress,
			IdentityAddress: identityAddress,
		}
	})

	ginkgo.Describe("Transitions", func() {
		ginkgo.It("establishes the link", func() {
			Expect(c.Transition(ctx, StateEstablishing)).To(Equal(Continue(StatePostEstablish)))
			Expect(c.opened).To(BeTrue())
		})

		ginkgo.It("fails without destroying when the transport cannot open", func() {
			openErr = errors.New("no such device")

			step := c.Transition(ctx, StateEstablishing)
			Expect(step.Done).To(BeTrue())
			Expect(step.Result).To(MatchError(openErr))
			Expect(c.opened).To(BeFalse())
		})

		ginkgo.It("passes through post establish", func() {
			Expect(c.Transition(ctx, StatePostEstablish)).To(Equal(Continue(StateVerifying)))
		})

		ginkgo.It("verifies with a single probe read", func() {
			c.device, c.opened = dev, true

			Expect(c.Transition(ctx, StateVerifying)).To(Equal(Continue(StatePostVerifyConnect)))
			Expect(dev.reads).To(Equal([]uint32{probeAddress}))
		})

		ginkgo.It("destroys the link when the probe fails", func() {
			c.device, c.opened = dev, true
			dev.fail[probeAddress] = errors.New("timeout")

			Expect(c.Transition(ctx, StateVerifying)).To(Equal(Continue(StateDestroying)))
		})

		ginkgo.It("registers a qualified device", func() {
			c.device, c.opened = dev, true

			Expect(c.Transition(ctx, StatePostVerifyConnect)).To(Equal(Done(nil)))
			Expect(registrar.devices).To(HaveLen(1))
			Expect(registrar.devices[0].Identity).To(BeEquivalentTo(0x8536))
			Expect(registrar.devices[0].Mode).To(Equal("sdb"))
			Expect(c.record.ID).To(Equal("fake-id"))
		})

		ginkgo.It("destroys the link in any other discovery mode", func() {
			c.device, c.opened = dev, true
			c.Mode = ProbeOnly

			Expect(c.Transition(ctx, StatePostVerifyConnect)).To(Equal(Continue(StateDestroying)))
			Expect(registrar.devices).To(BeEmpty())
			Expect(dev.reads).To(BeEmpty())
		})

		ginkgo.It("rejects an unsupported identity", func() {
			c.device, c.opened = dev, true
			c.SupportedDevices = []SupportedDevice{{ID: 0x4000, Name: "other"}}

			Expect(c.Transition(ctx, StatePostVerifyConnect)).To(Equal(Continue(StateDestroying)))
			Expect(c.cause).To(MatchError(ErrDeviceNotSupported))
		})

		ginkgo.It("names a supported identity", func() {
			c.device, c.opened = dev, true
			c.SupportedDevices = []SupportedDevice{{ID: 0x8536, Name: "pax"}}

			Expect(c.Transition(ctx, StatePostVerifyConnect)).To(Equal(Done(nil)))
			Expect(c.record.Name).To(Equal("pax"))
		})

		ginkgo.It("destroys the link when registration fails", func() {
			c.device, c.opened = dev, true
			registrar.err = errors.New("store full")

			Expect(c.Transition(ctx, StatePostVerifyConnect)).To(Equal(Continue(StateDestroying)))
		})

		ginkgo.It("closes the link and fails when destroying", func() {
			c.device, c.opened = dev, true
			c.cause = errors.New("probe failed")

			step := c.Transition(ctx, StateDestroying)
			Expect(step.Done).To(BeTrue())
			Expect(step.Result).To(MatchError(ContainSubstring("probe failed")))
			Expect(dev.closed).To(BeTrue())
			Expect(c.opened).To(BeFalse())
		})
	})

	ginkgo.Describe("Connect", func() {
		ginkgo.It("returns the registered connection", func() {
			conn, err := c.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Device).To(BeIdenticalTo(dev))
			Expect(conn.Record.Path).To(Equal("/dev/ttyUSB0"))
			Expect(dev.closed).To(BeFalse())
		})

		ginkgo.It("releases the link on failure", func() {
			dev.fail[identityAddress] = errors.New("timeout")

			conn, err := c.Connect(ctx)
			Expect(err).To(HaveOccurred())
			Expect(conn).To(BeNil())
			Expect(dev.closed).To(BeTrue())
		})

		ginkgo.It("starts each attempt afresh", func() {
			dev.fail[identityAddress] = errors.New("identity timeout")

			_, err := c.Connect(ctx)
			Expect(err).To(MatchError(ContainSubstring("identity timeout")))

			delete(dev.fail, identityAddress)
			dev.fail[probeAddress] = errors.New("probe timeout")

			_, err = c.Connect(ctx)
			Expect(err).To(MatchError(ContainSubstring("probe timeout")))
			Expect(err).NotTo(MatchError(ContainSubstring("identity timeout")))

			delete(dev.fail, probeAddress)
			dev.closed = false

			conn, err := c.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Record.ID).To(Equal("fake-id"))
			Expect(dev.closed).To(BeFalse())
		})
	})

	ginkgo.Describe("Over a serial debug bridge", func() {
		var (
			mock *sdb.MockDevice
			inv  *inventory.Inventory
			kv   *kvstore.Store
		)

		ginkgo.BeforeEach(func() {
			mock = sdb.NewMockDevice()
			mock.Poke32(identityAddress, 0x8536)

			var err error
			kv, err = kvstore.Open("", false)
			Expect(err).NotTo(HaveOccurred())
			inv, err = inventory.New(kv, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		ginkgo.AfterEach(func() {
			Expect(kv.Close()).To(Succeed())
		})

		connector := func() *Connector[*sdb.Session] {
			return &Connector[*sdb.Session]{
				Path: "mock0",
				Mode: SerialDebug,
				Open: func(ctx context.Context, path string) (*sdb.Session, error) {
					rx, tx := mock.Ports()
					return sdb.NewSession(rx, tx,
						sdb.WithName(path),
						sdb.WithWaitStrategy(sdb.NotifyWait{IdleTimeout: 5 * time.Millisecond})), nil
				},
				Registrar:       inv,
				ProbeAddress:    probeAddress,
				IdentityAddress: identityAddress,
			}
		}

		ginkgo.It("registers the device in the inventory", func() {
			conn, err := connector().Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Device.Close()

			Expect(inv.List()).To(HaveLen(1))
			Expect(inv.List()[0].Identity).To(BeEquivalentTo(0x8536))
			// The identity word follows the probe word, so it is read with a continuation
			Expect(mock.CountCommands(sdb.ReadOpcode)).To(Equal(1))
			Expect(mock.CountCommands(sdb.ContinueOpcode)).To(Equal(1))
		})

		ginkgo.It("gives up when the device never answers", func() {
			mock.DropReplies = 100

			_, err := connector().Connect(ctx)
			Expect(err).To(MatchError(ContainSubstring("verify")))
			Expect(inv.List()).To(BeEmpty())
			Expect(mock.CountCommands(sdb.ReadOpcode)).To(Equal(sdb.ReadAttempts))
		})
	})
})
