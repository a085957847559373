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

// Package diag ties the diagnostic components together. A Context is created
// once, handed to every consumer, and closed on exit.
package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
	"github.com/NearNodeFlash/nnf-diag/internal/config"
	"github.com/NearNodeFlash/nnf-diag/internal/kvstore"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/link"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
	"github.com/NearNodeFlash/nnf-diag/pkg/trace"
)

var ErrNotConnected = errors.New("device not connected")

// MockIdentity is the identity word served by the device emulator.
const MockIdentity = 0x00008536

type Options struct {
	// ConfigPath overlays the built-in configuration.
	ConfigPath string

	// Config, when set, is used as is and ConfigPath is ignored.
	Config *config.ConfigFile

	Logger *log.Logger

	// Mock connects every device path to an in-process emulator.
	Mock bool
}

// Context owns the configuration, logging, inventory, metrics and open links
// of one process.
type Context struct {
	Config    *config.ConfigFile
	Log       *log.Logger
	Registry  *prometheus.Registry
	Metrics   *sdb.Metrics
	Store     *kvstore.Store
	Inventory *inventory.Inventory
	Decoder   *trace.Decoder

	// Mock is the emulated device when running in mock mode.
	Mock *sdb.MockDevice

	captures *prometheus.CounterVec

	lock     sync.Mutex
	sessions map[string]*session
}

type session struct {
	link   *sdb.Session
	record inventory.Device
}

func Init(opts Options) (*Context, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	store, err := kvstore.OpenWithLogger(cfg.Inventory.Path, false, logger.WithField("component", "kvstore"))
	if err != nil {
		return nil, err
	}

	inv, err := inventory.New(store, logger.WithField("component", "inventory"))
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	c := &Context{
		Config:    cfg,
		Log:       logger,
		Registry:  registry,
		Metrics:   sdb.NewMetrics(registry),
		Store:     store,
		Inventory: inv,
		Decoder:   trace.NewDecoder(logger.WithField("component", "trace")),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nnf_diag",
			Subsystem: "trace",
			Name:      "captures_total",
			Help:      "Trace captures attempted, by result.",
		}, []string{"result"}),
		sessions: make(map[string]*session),
	}
	registry.MustRegister(c.captures)

	if opts.Mock {
		c.Mock = NewMockDevice(cfg)
	}

	inv.Subscribe(c.deviceEventHandler, nil)

	logger.WithFields(log.Fields{"config": cfg.Metadata.Name, "mock": opts.Mock}).Debug("Diagnostics context initialized")

	return c, nil
}

// NewMockDevice returns an emulated device that answers the probe and
// identity reads and serves a small trace buffer at the configured location.
func NewMockDevice(cfg *config.ConfigFile) *sdb.MockDevice {
	dev := sdb.NewMockDevice()

	dev.Poke32(cfg.Link.ProbeAddress, 0x1)
	dev.Poke32(cfg.Link.IdentityAddress, MockIdentity)

	raw := new(trace.Builder).
		AddTable(1, 0xFFFFFFFF, "TSTAMP boot", "link up on port %d width x%d", "temperature %u C").
		AddTable(2, 0xFFFFFFFF, "fw %s loaded", "heartbeat").
		AddRecord(1, 0, 0, 1250).
		AddRecord(2, 0, 0x00010203).
		AddRecord(1, 1, 24, 16).
		AddRecord(1, 2, 41).
		AddRecord(2, 1).
		Bytes()

	dev.Poke32(cfg.Trace.LengthAddress, uint32(len(raw)))
	dev.Load(cfg.Trace.BaseAddress, raw)

	return dev
}

// Close disconnects every device and closes the inventory.
func (c *Context) Close() error {
	c.lock.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*session)
	c.lock.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.link.Close())
	}
	errs = append(errs, c.Store.Close())

	return errors.Join(errs...)
}

func (c *Context) deviceEventHandler(event common.DeviceEvent, data interface{}) {
	c.Log.WithFields(log.Fields{"id": event.DeviceId, "path": event.Path}).Debugf("Device event: %s", event.EventType)

	if event.EventType == common.DEVICE_EVENT_REMOVED {
		if err := c.Disconnect(event.DeviceId); err != nil && !errors.Is(err, ErrNotConnected) {
			c.Log.WithError(err).Warn("Failed to disconnect removed device")
		}
	}
}

// Connect establishes and qualifies the link to the device at path and
// registers it. A path that is already connected returns its registration.
func (c *Context) Connect(ctx context.Context, path string) (inventory.Device, error) {
	if path == "" {
		path = c.Config.Link.Device
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, s := range c.sessions {
		if s.record.Path == path {
			return s.record, nil
		}
	}

	connector := &link.Connector[*sdb.Session]{
		Path:             path,
		Mode:             c.Config.DiscoveryMode(),
		Open:             c.open,
		Registrar:        c.Inventory,
		ProbeAddress:     c.Config.Link.ProbeAddress,
		IdentityAddress:  c.Config.Link.IdentityAddress,
		SupportedDevices: c.Config.Supported(),
		Log:              c.Log.WithField("path", path),
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return inventory.Device{}, err
	}

	c.sessions[conn.Record.ID] = &session{link: conn.Device, record: conn.Record}

	return conn.Record, nil
}

func (c *Context) open(ctx context.Context, path string) (*sdb.Session, error) {
	wait, err := c.Config.WaitStrategy()
	if err != nil {
		return nil, err
	}

	opts := []sdb.Option{
		sdb.WithName(path),
		sdb.WithLogger(c.Log.WithField("component", "sdb")),
		sdb.WithWaitStrategy(wait),
		sdb.WithMetrics(c.Metrics),
	}

	if c.Mock != nil {
		rx, tx := c.Mock.Ports()
		return sdb.NewSession(rx, tx, opts...), nil
	}

	rx, tx, err := sdb.OpenSerial(path, c.Config.SerialConfig())
	if err != nil {
		return nil, common.NewError(common.TransportIo, "open "+path, err)
	}

	return sdb.NewSession(rx, tx, opts...), nil
}

// Session returns the open link of device id.
func (c *Context) Session(id string) (*sdb.Session, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotConnected)
	}
	return s.link, nil
}

// Connected returns the registrations of every open link.
func (c *Context) Connected() []inventory.Device {
	c.lock.Lock()
	defer c.lock.Unlock()

	devices := make([]inventory.Device, 0, len(c.sessions))
	for _, s := range c.sessions {
		devices = append(devices, s.record)
	}
	return devices
}

// Disconnect closes the link of device id. The device stays registered.
func (c *Context) Disconnect(id string) error {
	c.lock.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.lock.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotConnected)
	}

	return s.link.Close()
}
