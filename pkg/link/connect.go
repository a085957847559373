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
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
)

var (
	ErrModeNotSupported   = errors.New("discovery mode does not register devices")
	ErrDeviceNotSupported = errors.New("device not supported")
)

// Device is an open link to a device.
type Device interface {
	Read32(ctx context.Context, addr uint32) (uint32, error)
	Close() error
}

// Registrar records a qualified device.
type Registrar interface {
	Register(dev inventory.Device) (inventory.Device, error)
}

// SupportedDevice is an identity accepted during qualification.
type SupportedDevice struct {
	ID   uint32
	Name string
}

// Connector drives connection setup for one device path. D is the concrete
// link type returned by Open and handed back on success.
type Connector[D Device] struct {
	Path string
	Mode DiscoveryMode

	// Open establishes the transport and starts a link on it.
	Open func(ctx context.Context, path string) (D, error)

	Registrar Registrar

	// ProbeAddress is read once to verify the link.
	ProbeAddress uint32

	// IdentityAddress holds the device identity checked against
	// SupportedDevices. An empty list accepts every identity.
	IdentityAddress  uint32
	SupportedDevices []SupportedDevice

	Log *log.Entry

	device D
	opened bool
	record inventory.Device
	cause  error
}

// Connection is an established, registered link.
type Connection[D Device] struct {
	Device D
	Record inventory.Device
}

// Connect runs the state machine from Establishing to completion. On failure
// every resource opened along the way has been released. A Connector may be
// reused; each Connect starts from a clean slate, and a link returned by an
// earlier call belongs to its caller.
func (c *Connector[D]) Connect(ctx context.Context) (*Connection[D], error) {
	var zero D
	c.device, c.opened = zero, false
	c.record, c.cause = inventory.Device{}, nil

	state := StateEstablishing
	for {
		step := c.Transition(ctx, state)
		if step.Done {
			if step.Result != nil {
				return nil, step.Result
			}
			return &Connection[D]{Device: c.device, Record: c.record}, nil
		}

		c.logger().Debugf("Connection state %s -> %s", state, step.Next)
		state = step.Next
	}
}

// Transition executes one state.
func (c *Connector[D]) Transition(ctx context.Context, state State) Step {
	logger := c.logger().WithField("state", state.String())

	switch state {
	case StateEstablishing:
		dev, err := c.Open(ctx, c.Path)
		if err != nil {
			logger.WithError(err).Warn("Failed to establish link")
			return Done(fmt.Errorf("establish %s: %w", c.Path, err))
		}
		c.device, c.opened = dev, true
		return Continue(StatePostEstablish)

	case StatePostEstablish:
		return Continue(StateVerifying)

	case StateVerifying:
		if _, err := c.device.Read32(ctx, c.ProbeAddress); err != nil {
			logger.WithError(err).Warnf("Probe read %#08x failed", c.ProbeAddress)
			c.cause = fmt.Errorf("verify: %w", err)
			return Continue(StateDestroying)
		}
		return Continue(StatePostVerifyConnect)

	case StatePostVerifyConnect:
		if c.Mode != SerialDebug {
			c.cause = fmt.Errorf("%s: %w", c.Mode, ErrModeNotSupported)
			return Continue(StateDestroying)
		}

		if err := c.qualify(ctx); err != nil {
			logger.WithError(err).Warn("Device qualification failed")
			c.cause = err
			return Continue(StateDestroying)
		}
		return Done(nil)

	case StateDestroying:
		if c.opened {
			if err := c.device.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close link")
			}
			var zero D
			c.device, c.opened = zero, false
		}

		cause := c.cause
		if cause == nil {
			cause = errors.New("connection destroyed")
		}
		return Done(fmt.Errorf("connect %s: %w", c.Path, cause))
	}

	return Done(fmt.Errorf("connect %s: invalid state %s", c.Path, state))
}

func (c *Connector[D]) qualify(ctx context.Context) error {
	id, err := c.device.Read32(ctx, c.IdentityAddress)
	if err != nil {
		return fmt.Errorf("read identity: %w", err)
	}

	name, ok := c.supported(id)
	if !ok {
		return fmt.Errorf("identity %#08x: %w", id, ErrDeviceNotSupported)
	}

	if c.Registrar == nil {
		c.record = inventory.Device{Path: c.Path, Identity: id, Name: name, Mode: c.Mode.String()}
		return nil
	}

	record, err := c.Registrar.Register(inventory.Device{
		Path:     c.Path,
		Identity: id,
		Name:     name,
		Mode:     c.Mode.String(),
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	c.record = record
	return nil
}

func (c *Connector[D]) supported(id uint32) (string, bool) {
	if len(c.SupportedDevices) == 0 {
		return "", true
	}

	for _, d := range c.SupportedDevices {
		if d.ID == id {
			return d.Name, true
		}
	}
	return "", false
}

func (c *Connector[D]) logger() *log.Entry {
	if c.Log == nil {
		return log.WithField("path", c.Path)
	}
	return c.Log
}
