package application

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	MetaKeyType      = "type"
	MetaKeyMax       = "max"
	MetaKeyReadonly  = "readonly"
	MetaKeyUnits     = "units"
	MetaKeyPrecision = "precision"
	MetaKeyZWaveType = "z-wave_type"

	// switchMultilevelMax is reported for every dimmer regardless of the
	// device's real ceiling.
	switchMultilevelMax = "99"
)

// MetaDescriptor maps meta keys to their published values.
type MetaDescriptor map[string]string

// JSON returns the descriptor as a single object with sorted keys.
func (m MetaDescriptor) JSON() string {
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// EncodeValue converts a raw device level into the value published on the
// device topic. ok is false when nothing should be published.
func EncodeValue(deviceType DeviceType, rawLevel any) (string, bool) {
	if rawLevel == nil || !deviceType.Known() {
		return "", false
	}

	if deviceType.IsBinary() {
		switch {
		case isLevel(rawLevel, 0, "off", "closed"):
			return "0", true
		case isLevel(rawLevel, 255, "on", "open"):
			return "1", true
		}
	}

	return strings.TrimSpace(formatValue(rawLevel)), true
}

func isLevel(rawLevel any, number float64, words ...string) bool {
	if f, ok := toFloat(rawLevel); ok {
		return f == number
	}
	if s, ok := rawLevel.(string); ok {
		for _, w := range words {
			if s == w {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

// DescribeMeta builds the meta descriptor of a device. ok is false for
// unrecognized device types.
func DescribeMeta(device Device, precision int) (MetaDescriptor, bool) {
	meta := MetaDescriptor{}

	switch device.DeviceType {
	case DeviceTypeThermostat:
		meta[MetaKeyType] = "range"
		if device.Max != nil {
			meta[MetaKeyMax] = formatValue(device.Max)
		}
	case DeviceTypeDoorlock, DeviceTypeSwitchBinary:
		meta[MetaKeyType] = "switch"
	case DeviceTypeSwitchMultilevel:
		meta[MetaKeyType] = "range"
		meta[MetaKeyMax] = switchMultilevelMax
	case DeviceTypeSensorBinary:
		meta[MetaKeyType] = "switch"
		meta[MetaKeyReadonly] = "1"
	case DeviceTypeBattery, DeviceTypeSensorMultilevel:
		meta[MetaKeyType] = "value"
		meta[MetaKeyUnits] = device.ScaleTitle
		meta[MetaKeyPrecision] = strconv.Itoa(precision)
	case DeviceTypeToggleButton:
		meta[MetaKeyType] = "pushbutton"
	default:
		return nil, false
	}

	meta[MetaKeyZWaveType] = string(device.DeviceType)
	return meta, true
}

type ActionKind int

const (
	ActionUnsupported ActionKind = iota
	ActionRaw
	ActionOn
	ActionOff
	ActionOpen
	ActionClose
	ActionSetLevel
)

func (k ActionKind) String() string {
	switch k {
	case ActionRaw:
		return "raw"
	case ActionOn:
		return "on"
	case ActionOff:
		return "off"
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionSetLevel:
		return "exact"
	}
	return "unsupported"
}

// Action is a decoded inbound command. Payload is set for ActionRaw and
// Level for ActionSetLevel.
type Action struct {
	Kind    ActionKind
	Payload string
	Level   int
}

func RawAction(payload string) Action {
	return Action{Kind: ActionRaw, Payload: payload}
}

// Command returns the registry command name and arguments for the action.
func (a Action) Command() (string, map[string]any, bool) {
	switch a.Kind {
	case ActionUnsupported:
		return "", nil, false
	case ActionRaw:
		return a.Payload, nil, true
	case ActionSetLevel:
		return a.Kind.String(), map[string]any{"level": a.Level}, true
	}
	return a.Kind.String(), nil, true
}

// DecodeCommand turns an inbound payload into an action for the device type.
func DecodeCommand(deviceType DeviceType, payload string) Action {
	switch deviceType {
	case DeviceTypeBattery, DeviceTypeSensorBinary, DeviceTypeSensorMultilevel, DeviceTypeToggleButton:
		return RawAction(payload)
	case DeviceTypeDoorlock:
		switch payload {
		case "0":
			return Action{Kind: ActionClose}
		case "1":
			return Action{Kind: ActionOpen}
		}
		return RawAction(payload)
	case DeviceTypeSwitchBinary:
		switch payload {
		case "0":
			return Action{Kind: ActionOff}
		case "1":
			return Action{Kind: ActionOn}
		}
		return RawAction(payload)
	case DeviceTypeThermostat, DeviceTypeSwitchMultilevel:
		level, err := strconv.Atoi(payload)
		if err != nil {
			return RawAction(payload)
		}
		return Action{Kind: ActionSetLevel, Level: level}
	}
	return Action{Kind: ActionUnsupported}
}
