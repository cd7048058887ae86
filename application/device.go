package application

import "strings"

type DeviceType string

const (
	DeviceTypeBattery          DeviceType = "battery"
	DeviceTypeDoorlock         DeviceType = "doorlock"
	DeviceTypeSensorBinary     DeviceType = "sensorBinary"
	DeviceTypeSensorMultilevel DeviceType = "sensorMultilevel"
	DeviceTypeSwitchBinary     DeviceType = "switchBinary"
	DeviceTypeSwitchMultilevel DeviceType = "switchMultilevel"
	DeviceTypeThermostat       DeviceType = "thermostat"
	DeviceTypeToggleButton     DeviceType = "toggleButton"
)

var knownDeviceTypes = map[DeviceType]struct{}{
	DeviceTypeBattery:          {},
	DeviceTypeDoorlock:         {},
	DeviceTypeSensorBinary:     {},
	DeviceTypeSensorMultilevel: {},
	DeviceTypeSwitchBinary:     {},
	DeviceTypeSwitchMultilevel: {},
	DeviceTypeThermostat:       {},
	DeviceTypeToggleButton:     {},
}

func (d DeviceType) Known() bool {
	_, ok := knownDeviceTypes[d]
	return ok
}

// IsSensor reports whether the type belongs to the read-only sensor family.
func (d DeviceType) IsSensor() bool {
	return strings.HasPrefix(string(d), "sensor")
}

// IsBinary reports whether values of this type are normalized to "0"/"1".
func (d DeviceType) IsBinary() bool {
	switch d {
	case DeviceTypeSensorBinary, DeviceTypeSwitchBinary, DeviceTypeDoorlock:
		return true
	}
	return false
}

// Device is a read-only snapshot of a registry device.
//
// Level holds whatever the registry reports: a number, a boolean-ish string
// ("on", "off", "open", "closed") or nil when the device has no level.
// Max is nil when the device does not expose a ceiling.
type Device struct {
	ID         string
	Title      string
	DeviceType DeviceType
	Level      any
	ScaleTitle string
	Max        any
}

type DeviceEvent int

const (
	DeviceEventCreated DeviceEvent = iota
	DeviceEventRemoved
	DeviceEventLevelChanged
)

func (e DeviceEvent) String() string {
	switch e {
	case DeviceEventCreated:
		return "created"
	case DeviceEventRemoved:
		return "removed"
	case DeviceEventLevelChanged:
		return "change:metrics:level"
	}
	return "unknown"
}

type DeviceHandler func(device Device)

// Subscription detaches a handler registered with DeviceRegistry.On.
type Subscription interface {
	Unsubscribe()
}

type DeviceRegistry interface {
	ForEach(fn func(device Device))
	On(event DeviceEvent, handler DeviceHandler) Subscription
	PerformCommand(deviceID string, command string, args map[string]any) error
}
