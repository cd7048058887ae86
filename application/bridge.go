package application

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	ConnectedMarker = "1"
	OfflineMarker   = "0"
	BridgeName      = "Z-Wave"
)

type SensorCommandPolicy int

const (
	// SensorCommandsReject drops commands addressed to sensor-class devices.
	SensorCommandsReject SensorCommandPolicy = iota
	// SensorCommandsRoute decodes them like any other device.
	SensorCommandsRoute
)

func ParseSensorCommandPolicy(s string) (SensorCommandPolicy, error) {
	switch s {
	case "reject", "strict":
		return SensorCommandsReject, nil
	case "route", "permissive":
		return SensorCommandsRoute, nil
	}
	return SensorCommandsReject, fmt.Errorf("invalid sensor command policy: %q", s)
}

type BridgeParams struct {
	Registry DeviceRegistry
	Client   MQTTClient

	TopicPrefix        string
	TopicPostfixSet    string
	TopicPostfixStatus string

	Precision      int
	SensorCommands SensorCommandPolicy

	// AfterFunc overrides the reconnect timer, for testing.
	AfterFunc func(d time.Duration, f func()) Timer

	Log zerolog.Logger
}

// Bridge mirrors registry devices to MQTT and routes inbound commands back
// to the registry. Registry listeners only exist while the session is
// connected.
type Bridge struct {
	params BridgeParams
	conn   *ConnectionManager

	mu            sync.Mutex
	subscriptions []Subscription

	log zerolog.Logger
}

type dispatch struct {
	device Device
	action Action
}

func NewBridge(params BridgeParams) (*Bridge, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("Registry is nil")
	}
	if params.Client == nil {
		return nil, fmt.Errorf("Client is nil")
	}
	if params.TopicPostfixSet == "" {
		return nil, fmt.Errorf("TopicPostfixSet is empty")
	}

	b := &Bridge{params: params, log: params.Log}

	filters := []string{CommandFilter(params.TopicPrefix, params.TopicPostfixSet)}
	if params.TopicPostfixStatus != "" {
		filters = append(filters, CommandFilter(params.TopicPrefix, params.TopicPostfixStatus))
	}

	conn, err := NewConnectionManager(ConnectionManagerParams{
		Client:    params.Client,
		Filters:   filters,
		OnReady:   b.onReady,
		OnLost:    b.onLost,
		OnMessage: b.onMessage,
		AfterFunc: params.AfterFunc,
		Log:       params.Log.With().Str("module", "connection-manager").Logger(),
	})
	if err != nil {
		return nil, err
	}
	b.conn = conn

	return b, nil
}

func (b *Bridge) Connection() *ConnectionManager {
	return b.conn
}

func (b *Bridge) Start() {
	b.conn.Start()
}

func (b *Bridge) Stop() {
	b.conn.Publish(ConnectedTopic(b.params.TopicPrefix), OfflineMarker, true)
	b.conn.Stop()
}

func (b *Bridge) OnDeviceCreated(device Device) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.publishDevice(device)
}

func (b *Bridge) OnDeviceRemoved(device Device) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.accepts(device) {
		return
	}

	topic := b.deviceTopic(device)
	b.conn.Publish(topic, "", true)
	b.conn.Publish(MetaTopic(topic), "", true)

	meta, _ := DescribeMeta(device, b.params.Precision)
	for key := range meta {
		b.conn.Publish(MetaKeyTopic(topic, key), "", true)
	}
}

func (b *Bridge) OnDeviceLevelChanged(device Device) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.accepts(device) {
		return
	}
	b.publishValue(b.deviceTopic(device), device)
}

// OnInboundMessage routes a command or status request to every device whose
// topic matches. Topic collisions dispatch to all matching devices.
func (b *Bridge) OnInboundMessage(topic string, payload []byte) {
	isSet := strings.HasSuffix(topic, "/"+b.params.TopicPostfixSet)
	isStatus := b.params.TopicPostfixStatus != "" && strings.HasSuffix(topic, "/"+b.params.TopicPostfixStatus)
	if !isSet && !isStatus {
		return
	}

	dispatches, matched := b.match(topic, string(payload), isSet, isStatus)
	if matched == 0 {
		b.log.Info().Str("topic", topic).Msg("no device matches topic")
		return
	}

	for _, d := range dispatches {
		name, args, _ := d.action.Command()
		b.log.Debug().
			Str("device", d.device.ID).
			Str("command", name).
			Interface("args", args).
			Msg("perform command")

		if err := b.params.Registry.PerformCommand(d.device.ID, name, args); err != nil {
			b.log.Error().Err(err).Str("device", d.device.ID).Str("command", name).Msg("command failed")
		}
	}
}

func (b *Bridge) match(topic, payload string, isSet, isStatus bool) ([]dispatch, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dispatches []dispatch
	matched := 0

	b.params.Registry.ForEach(func(device Device) {
		if !b.accepts(device) {
			return
		}
		deviceTopic := b.deviceTopic(device)

		if isStatus && topic == deviceTopic+"/"+b.params.TopicPostfixStatus {
			matched++
			b.publishValue(deviceTopic, device)
		}

		if !isSet || topic != deviceTopic+"/"+b.params.TopicPostfixSet {
			return
		}
		matched++

		if device.DeviceType.IsSensor() && b.params.SensorCommands == SensorCommandsReject {
			b.log.Error().Str("device", device.Title).Msg("can't perform action on sensor")
			return
		}

		action := DecodeCommand(device.DeviceType, payload)
		if action.Kind == ActionUnsupported {
			b.log.Info().
				Str("device", device.ID).
				Str("device_type", string(device.DeviceType)).
				Msg("unsupported device type, command skipped")
			return
		}

		dispatches = append(dispatches, dispatch{device: device, action: action})
	})

	return dispatches, matched
}

// onReady attaches the registry listeners and resyncs. The session check
// runs under b.mu, so a concurrent onLost for the same session always
// detaches after it.
func (b *Bridge) onReady(session uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.conn.IsCurrent(session) {
		b.log.Info().Uint64("session", session).Msg("session no longer connected, resync skipped")
		return
	}

	b.detach()
	b.subscriptions = append(b.subscriptions,
		b.params.Registry.On(DeviceEventCreated, b.OnDeviceCreated),
		b.params.Registry.On(DeviceEventRemoved, b.OnDeviceRemoved),
		b.params.Registry.On(DeviceEventLevelChanged, b.OnDeviceLevelChanged),
	)

	b.conn.Publish(ConnectedTopic(b.params.TopicPrefix), ConnectedMarker, true)
	b.conn.Publish(NameTopic(b.params.TopicPrefix), BridgeName, true)

	b.params.Registry.ForEach(b.publishDevice)
}

func (b *Bridge) onLost() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.detach()
}

func (b *Bridge) onMessage(msg MQTTMessage) {
	var pc panics.Catcher
	pc.Try(func() {
		b.OnInboundMessage(msg.Topic(), msg.Payload())
	})

	if r := pc.Recovered(); r != nil {
		b.log.Error().
			Str("topic", msg.Topic()).
			Interface("panic", r.Value).
			Msg("inbound message handler panicked")
	}
}

func (b *Bridge) detach() {
	for _, s := range b.subscriptions {
		s.Unsubscribe()
	}
	b.subscriptions = nil
}

func (b *Bridge) accepts(device Device) bool {
	if device.ID == "" || device.Title == "" {
		b.log.Debug().Str("device", device.ID).Msg("device without id or title skipped")
		return false
	}
	if !device.DeviceType.Known() {
		b.log.Info().
			Str("device", device.ID).
			Str("device_type", string(device.DeviceType)).
			Msg("unrecognized device type skipped")
		return false
	}
	return true
}

func (b *Bridge) deviceTopic(device Device) string {
	return DeviceTopic(b.params.TopicPrefix, device.Title, device.ID)
}

func (b *Bridge) publishDevice(device Device) {
	if !b.accepts(device) {
		return
	}

	topic := b.deviceTopic(device)
	meta, _ := DescribeMeta(device, b.params.Precision)

	for key, value := range meta {
		b.conn.Publish(MetaKeyTopic(topic, key), value, true)
	}
	b.conn.Publish(MetaTopic(topic), meta.JSON(), true)

	b.publishValue(topic, device)
}

func (b *Bridge) publishValue(topic string, device Device) {
	value, ok := EncodeValue(device.DeviceType, device.Level)
	if !ok {
		b.log.Error().Str("device", device.ID).Msg("device has no level, value not published")
		return
	}
	b.conn.Publish(topic, value, true)
}
