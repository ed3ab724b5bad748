package collector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/quartz"
	"github.com/godbus/dbus/v5"
)

// Device event types recorded from system bus signals.
const (
	EventSleep              = "SLEEP"
	EventWake               = "WAKE"
	EventScreenOff          = "SCREEN_OFF"
	EventScreenOn           = "SCREEN_ON"
	EventConnectivityChange = "CONNECTIVITY_CHANGE"
)

const (
	signalPrepareForSleep = "org.freedesktop.login1.Manager.PrepareForSleep"
	signalSessionLock     = "org.freedesktop.login1.Session.Lock"
	signalSessionUnlock   = "org.freedesktop.login1.Session.Unlock"
	signalNMStateChanged  = "org.freedesktop.NetworkManager.StateChanged"
)

// DeviceEventID derives the event id from its type and timestamp.
func DeviceEventID(typ string, ts int64) string {
	return fmt.Sprintf("device-%s-%d", typ, ts)
}

// DeviceEventFromSignal maps a system bus signal to a device event stamped
// at nowMs. It reports false for signals that carry no device state.
func DeviceEventFromSignal(name string, body []interface{}, nowMs int64) (DeviceEvent, bool) {
	var typ string
	var details *string
	switch name {
	case signalPrepareForSleep:
		if len(body) < 1 {
			return DeviceEvent{}, false
		}
		active, ok := body[0].(bool)
		if !ok {
			return DeviceEvent{}, false
		}
		typ = EventWake
		if active {
			typ = EventSleep
		}
	case signalSessionLock:
		typ = EventScreenOff
	case signalSessionUnlock:
		typ = EventScreenOn
	case signalNMStateChanged:
		if len(body) < 1 {
			return DeviceEvent{}, false
		}
		state, ok := body[0].(uint32)
		if !ok {
			return DeviceEvent{}, false
		}
		s := fmt.Sprintf(`{"state":%d}`, state)
		details = &s
		typ = EventConnectivityChange
	default:
		return DeviceEvent{}, false
	}
	return DeviceEvent{
		ID:          DeviceEventID(typ, nowMs),
		Type:        typ,
		Timestamp:   nowMs,
		DetailsJSON: details,
	}, true
}

// DeviceMonitor listens for logind and NetworkManager signals on the system
// bus and hands each mapped event to a callback. The callback runs on the
// monitor goroutine and must not block.
type DeviceMonitor struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	clock   quartz.Clock
	handle  func(DeviceEvent)
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewDeviceMonitor connects to the system bus and starts listening.
func NewDeviceMonitor(clock quartz.Clock, logger *slog.Logger, handle func(DeviceEvent)) (*DeviceMonitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface("org.freedesktop.login1.Manager"), dbus.WithMatchMember("PrepareForSleep")},
		{dbus.WithMatchInterface("org.freedesktop.login1.Session"), dbus.WithMatchMember("Lock")},
		{dbus.WithMatchInterface("org.freedesktop.login1.Session"), dbus.WithMatchMember("Unlock")},
		{dbus.WithMatchInterface("org.freedesktop.NetworkManager"), dbus.WithMatchMember("StateChanged")},
	}
	for _, opts := range matches {
		if err := conn.AddMatchSignal(opts...); err != nil {
			return nil, fmt.Errorf("add match signal: %w", err)
		}
	}

	m := newDeviceMonitor(clock, logger, handle)
	m.conn = conn
	m.signals = make(chan *dbus.Signal, 16)
	conn.Signal(m.signals)
	go m.listen(m.signals)
	return m, nil
}

func newDeviceMonitor(clock quartz.Clock, logger *slog.Logger, handle func(DeviceEvent)) *DeviceMonitor {
	return &DeviceMonitor{
		clock:   clock,
		handle:  handle,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     logger,
	}
}

// Close stops the monitor and waits for the listener to exit.
func (m *DeviceMonitor) Close() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
	if m.conn != nil {
		m.conn.RemoveSignal(m.signals)
	}
}

// listen delivers signals from ch until Close is called or ch is closed.
// The bus closes ch when the connection terminates.
func (m *DeviceMonitor) listen(ch <-chan *dbus.Signal) {
	defer close(m.stopped)
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				m.log.Warn("system bus connection closed, device monitor stopped", "topic", "device")
				return
			}
			if sig == nil {
				continue
			}
			ev, ok := DeviceEventFromSignal(sig.Name, sig.Body, m.clock.Now().UnixMilli())
			if !ok {
				continue
			}
			m.log.Debug("device event", "topic", "device", "type", ev.Type)
			m.handle(ev)
		case <-m.done:
			return
		}
	}
}

// Activity type codes as delivered by activity recognition providers.
const (
	ActivityInVehicle = 0
	ActivityOnBicycle = 1
	ActivityOnFoot    = 2
	ActivityStill     = 3
	ActivityUnknown   = 4
	ActivityTilting   = 5
	ActivityWalking   = 7
	ActivityRunning   = 8
)

// DetectedActivity is one classified activity with its confidence (0-100).
type DetectedActivity struct {
	Type       int `json:"type"`
	Confidence int `json:"confidence"`
}

// ActivityResult is a detected-activity transition result.
type ActivityResult struct {
	MostProbable *DetectedActivity  `json:"mostProbable"`
	Activities   []DetectedActivity `json:"activities"`
}

// ActivityLabel names an activity type code.
func ActivityLabel(code int) string {
	switch code {
	case ActivityInVehicle:
		return "IN_VEHICLE"
	case ActivityOnBicycle:
		return "ON_BICYCLE"
	case ActivityOnFoot:
		return "ON_FOOT"
	case ActivityRunning:
		return "RUNNING"
	case ActivityStill:
		return "STILL"
	case ActivityTilting:
		return "TILTING"
	case ActivityWalking:
		return "WALKING"
	case ActivityUnknown:
		return "UNKNOWN"
	default:
		return "UNCLASSIFIED"
	}
}

type activityDetails struct {
	Confidence int            `json:"confidence"`
	Activities map[string]int `json:"activities"`
}

// ActivityEventFromResult maps a recognition result to an ACTIVITY_<LABEL>
// device event. It reports false when the result has no most probable
// activity.
func ActivityEventFromResult(r ActivityResult, nowMs int64) (DeviceEvent, bool) {
	if r.MostProbable == nil {
		return DeviceEvent{}, false
	}
	d := activityDetails{
		Confidence: r.MostProbable.Confidence,
		Activities: make(map[string]int, len(r.Activities)),
	}
	for _, a := range r.Activities {
		d.Activities[ActivityLabel(a.Type)] = a.Confidence
	}
	// Marshal of ints and a string-keyed map cannot fail.
	b, _ := json.Marshal(d)
	details := string(b)
	return DeviceEvent{
		ID:          fmt.Sprintf("activity-%d", nowMs),
		Type:        "ACTIVITY_" + ActivityLabel(r.MostProbable.Type),
		Timestamp:   nowMs,
		DetailsJSON: &details,
	}, true
}
