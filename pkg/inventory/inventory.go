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

// Package inventory is the registry of devices that completed link
// qualification, together with the trace captures taken from them. Every
// device is persisted as a ledger in the key-value store so the inventory
// survives restarts.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sigurn/crc8"
	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
	"github.com/NearNodeFlash/nnf-diag/internal/kvstore"
)

var ErrDeviceNotFound = errors.New("device not found")

// RegistryPrefix prefixes the store key of every device ledger.
const RegistryPrefix = "DEV"

// Ledger entry types
const (
	deviceEntryType  uint32 = 1
	captureEntryType uint32 = 2
)

var crcTable = crc8.MakeTable(crc8.CRC8)

// Device is a registered device.
type Device struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Identity   uint32    `json:"identity"`
	Name       string    `json:"name,omitempty"`
	Mode       string    `json:"mode"`
	Registered time.Time `json:"registered"`
}

// Capture describes one raw trace buffer read from a device and decoded.
type Capture struct {
	Time   time.Time `json:"time"`
	Size   int       `json:"size"`
	Lines  int       `json:"lines"`
	Digest uint8     `json:"digest"`

	// Changed is false when the raw buffer matches the previous capture.
	Changed bool `json:"changed"`

	Output string `json:"output,omitempty"`
}

type entry struct {
	device   Device
	captures []Capture
	ledger   *kvstore.Ledger
}

// Inventory is safe for concurrent use.
type Inventory struct {
	lock    sync.RWMutex
	store   *kvstore.Store
	devices map[string]*entry
	events  common.DeviceEventManager
	log     *log.Entry
}

// New loads the inventory persisted in store.
func New(store *kvstore.Store, logger *log.Entry) (*Inventory, error) {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}

	inv := &Inventory{
		store:   store,
		devices: make(map[string]*entry),
		log:     logger,
	}

	store.Register([]kvstore.Registry{inv})
	if err := store.Replay(); err != nil {
		return nil, fmt.Errorf("replay inventory: %w", err)
	}

	for id, e := range inv.devices {
		ledger, err := store.OpenKey(store.MakeKey(inv, id))
		if err != nil {
			return nil, err
		}
		e.ledger = ledger
	}

	inv.log.Debugf("Inventory loaded with %d devices", len(inv.devices))

	return inv, nil
}

// Subscribe registers a handler for device events.
func (inv *Inventory) Subscribe(handler common.DeviceEventHandlerFunc, data interface{}) {
	inv.events.Subscribe(common.DeviceEventSubscriber{HandlerFunc: handler, Data: data})
}

// Register adds dev to the inventory. A device already registered at the same
// path keeps its ID and has its identity refreshed.
func (inv *Inventory) Register(dev Device) (Device, error) {
	if dev.Path == "" {
		return Device{}, fmt.Errorf("register: device path required")
	}

	inv.lock.Lock()

	if e := inv.findByPath(dev.Path); e != nil {
		dev.ID = e.device.ID
		dev.Registered = time.Now().UTC()

		data, err := json.Marshal(dev)
		if err == nil {
			err = e.ledger.Log(deviceEntryType, data)
		}
		if err != nil {
			inv.lock.Unlock()
			return Device{}, fmt.Errorf("register %s: %w", dev.Path, err)
		}

		e.device = dev
	} else {
		dev.ID = uuid.New().String()
		dev.Registered = time.Now().UTC()

		data, err := json.Marshal(dev)
		if err != nil {
			inv.lock.Unlock()
			return Device{}, err
		}

		ledger, err := inv.store.NewKey(inv.store.MakeKey(inv, dev.ID), data)
		if err != nil {
			inv.lock.Unlock()
			return Device{}, fmt.Errorf("register %s: %w", dev.Path, err)
		}

		inv.devices[dev.ID] = &entry{device: dev, ledger: ledger}
	}

	inv.lock.Unlock()

	inv.log.WithFields(log.Fields{"id": dev.ID, "path": dev.Path}).Infof("Device registered: identity %#08x", dev.Identity)
	inv.events.Publish(common.DeviceEvent{DeviceId: dev.ID, Path: dev.Path, EventType: common.DEVICE_EVENT_REGISTERED})

	return dev, nil
}

func (inv *Inventory) findByPath(path string) *entry {
	for _, e := range inv.devices {
		if e.device.Path == path {
			return e
		}
	}
	return nil
}

func (inv *Inventory) Get(id string) (Device, error) {
	inv.lock.RLock()
	defer inv.lock.RUnlock()

	e, ok := inv.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	return e.device, nil
}

// FindByPath returns the device registered at path.
func (inv *Inventory) FindByPath(path string) (Device, error) {
	inv.lock.RLock()
	defer inv.lock.RUnlock()

	if e := inv.findByPath(path); e != nil {
		return e.device, nil
	}
	return Device{}, fmt.Errorf("%s: %w", path, ErrDeviceNotFound)
}

// List returns every device ordered by path.
func (inv *Inventory) List() []Device {
	inv.lock.RLock()
	defer inv.lock.RUnlock()

	devices := make([]Device, 0, len(inv.devices))
	for _, e := range inv.devices {
		devices = append(devices, e.device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })

	return devices
}

func (inv *Inventory) Remove(id string) error {
	inv.lock.Lock()

	e, ok := inv.devices[id]
	if !ok {
		inv.lock.Unlock()
		return fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}

	if err := inv.store.DeleteKey(inv.store.MakeKey(inv, id)); err != nil {
		inv.lock.Unlock()
		return err
	}
	e.ledger.Close()
	delete(inv.devices, id)

	inv.lock.Unlock()

	inv.log.WithField("id", id).Info("Device removed")
	inv.events.Publish(common.DeviceEvent{DeviceId: id, Path: e.device.Path, EventType: common.DEVICE_EVENT_REMOVED})

	return nil
}

// RecordCapture records a capture of raw taken from device id that decoded to
// lines statements.
func (inv *Inventory) RecordCapture(id string, raw []byte, lines int, output string) (Capture, error) {
	capture := Capture{
		Time:    time.Now().UTC(),
		Size:    len(raw),
		Lines:   lines,
		Digest:  crc8.Checksum(raw, crcTable),
		Changed: true,
		Output:  output,
	}

	inv.lock.Lock()

	e, ok := inv.devices[id]
	if !ok {
		inv.lock.Unlock()
		return Capture{}, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}

	if n := len(e.captures); n != 0 {
		last := e.captures[n-1]
		capture.Changed = last.Digest != capture.Digest || last.Size != capture.Size
	}

	data, err := json.Marshal(capture)
	if err == nil {
		err = e.ledger.Log(captureEntryType, data)
	}
	if err != nil {
		inv.lock.Unlock()
		return Capture{}, fmt.Errorf("record capture %s: %w", id, err)
	}

	e.captures = append(e.captures, capture)
	path := e.device.Path

	inv.lock.Unlock()

	inv.events.Publish(common.DeviceEvent{DeviceId: id, Path: path, EventType: common.DEVICE_EVENT_CAPTURE})

	return capture, nil
}

// Captures returns the captures of device id, oldest first.
func (inv *Inventory) Captures(id string) ([]Capture, error) {
	inv.lock.RLock()
	defer inv.lock.RUnlock()

	e, ok := inv.devices[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}

	return append([]Capture(nil), e.captures...), nil
}

// Prefix -
func (*Inventory) Prefix() string { return RegistryPrefix }

// NewReplay -
func (inv *Inventory) NewReplay(id string) kvstore.ReplayHandler {
	return &replayHandler{inv: inv, id: id}
}

type replayHandler struct {
	inv *Inventory
	id  string
	e   *entry
}

func (rh *replayHandler) Metadata(data []byte) error {
	rh.e = &entry{}
	return json.Unmarshal(data, &rh.e.device)
}

func (rh *replayHandler) Entry(t uint32, data []byte) error {
	switch t {
	case deviceEntryType:
		return json.Unmarshal(data, &rh.e.device)
	case captureEntryType:
		var c Capture
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		rh.e.captures = append(rh.e.captures, c)
	default:
		rh.inv.log.Warnf("Device %s: unknown ledger entry type %d", rh.id, t)
	}
	return nil
}

func (rh *replayHandler) Done() error {
	rh.e.device.ID = rh.id
	rh.inv.devices[rh.id] = rh.e
	return nil
}

// Decode writes a readable rendering of a device ledger, used by the store
// debug tool.
func Decode(t uint32, data []byte) string {
	switch t {
	case deviceEntryType:
		return "Device " + string(data)
	case captureEntryType:
		return "Capture " + string(data)
	}
	return fmt.Sprintf("Type %d %s", t, string(data))
}
