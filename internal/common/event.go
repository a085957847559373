package common

import "sync"

type DeviceEventType int

const (
	DEVICE_EVENT_UNKNOWN DeviceEventType = iota
	DEVICE_EVENT_REGISTERED
	DEVICE_EVENT_REMOVED
	DEVICE_EVENT_CAPTURE
)

func (t DeviceEventType) String() string {
	switch t {
	case DEVICE_EVENT_REGISTERED:
		return "Registered"
	case DEVICE_EVENT_REMOVED:
		return "Removed"
	case DEVICE_EVENT_CAPTURE:
		return "Capture"
	}
	return "Unknown"
}

// DeviceEvent -
type DeviceEvent struct {
	DeviceId  string
	Path      string
	EventType DeviceEventType
}

// DeviceEventHandlerFunc
type DeviceEventHandlerFunc func(DeviceEvent, interface{})

// DeviceEventSubscriber
type DeviceEventSubscriber struct {
	HandlerFunc DeviceEventHandlerFunc
	Data        interface{}
}

// DeviceEventManager delivers inventory events to every subscriber in
// subscription order. The zero value is ready to use.
type DeviceEventManager struct {
	lock        sync.Mutex
	subscribers []DeviceEventSubscriber
}

// Subscribe -
func (mgr *DeviceEventManager) Subscribe(s DeviceEventSubscriber) {
	mgr.lock.Lock()
	defer mgr.lock.Unlock()

	mgr.subscribers = append(mgr.subscribers, s)
}

// Publish
func (mgr *DeviceEventManager) Publish(event DeviceEvent) {
	mgr.lock.Lock()
	subscribers := make([]DeviceEventSubscriber, len(mgr.subscribers))
	copy(subscribers, mgr.subscribers)
	mgr.lock.Unlock()

	for _, s := range subscribers {
		s.HandlerFunc(event, s.Data)
	}
}
