package adapters

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"zway-to-mqtt/application"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevicesYAML = `
devices:
  - id: ZWayVDev_zway_2-0-37
    title: Lamp
    deviceType: switchBinary
    level: "off"
  - id: ZWayVDev_zway_5-0-49-1
    title: Temperature
    deviceType: sensorMultilevel
    level: 21.5
    scaleTitle: "°C"
  - id: ZWayVDev_zway_7-0-67-1
    title: Heating
    deviceType: thermostat
    level: 72
    max: 85
`

type recordedEvent struct {
	event  application.DeviceEvent
	device application.Device
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) handler(event application.DeviceEvent) application.DeviceHandler {
	return func(device application.Device) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, recordedEvent{event: event, device: device})
	}
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *eventRecorder) subscribe(registry *FileDeviceRegistry) []application.Subscription {
	return []application.Subscription{
		registry.On(application.DeviceEventCreated, r.handler(application.DeviceEventCreated)),
		registry.On(application.DeviceEventRemoved, r.handler(application.DeviceEventRemoved)),
		registry.On(application.DeviceEventLevelChanged, r.handler(application.DeviceEventLevelChanged)),
	}
}

func writeDevicesFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestRegistry(t *testing.T, metrics *Metrics) (*FileDeviceRegistry, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devices.yaml")
	writeDevicesFile(t, path, testDevicesYAML)

	registry, err := NewFileDeviceRegistry(FileDeviceRegistryParams{Path: path, Metrics: metrics})
	require.NoError(t, err)
	require.NotNil(t, registry)

	return registry, path
}

func TestNewFileDeviceRegistry(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	var devices []application.Device
	registry.ForEach(func(device application.Device) {
		devices = append(devices, device)
	})

	require.Len(t, devices, 3)
	assert.Equal(t, application.Device{
		ID:         "ZWayVDev_zway_2-0-37",
		Title:      "Lamp",
		DeviceType: application.DeviceTypeSwitchBinary,
		Level:      "off",
	}, devices[0])
	assert.Equal(t, 21.5, devices[1].Level)
	assert.Equal(t, "°C", devices[1].ScaleTitle)
	assert.Equal(t, 72, devices[2].Level)
	assert.Equal(t, 85, devices[2].Max)
}

func TestNewFileDeviceRegistry_NoPath(t *testing.T) {
	registry, err := NewFileDeviceRegistry(FileDeviceRegistryParams{})
	require.Error(t, err)
	require.Nil(t, registry)
}

func TestNewFileDeviceRegistry_MissingFile(t *testing.T) {
	registry, err := NewFileDeviceRegistry(FileDeviceRegistryParams{
		Path: filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.Error(t, err)
	require.Nil(t, registry)
}

func TestNewFileDeviceRegistry_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	writeDevicesFile(t, path, "devices: [")

	registry, err := NewFileDeviceRegistry(FileDeviceRegistryParams{Path: path})
	require.Error(t, err)
	require.Nil(t, registry)
}

func TestFileDeviceRegistry_PerformCommand(t *testing.T) {
	metrics := NewMetrics()
	registry, _ := newTestRegistry(t, metrics)

	recorder := &eventRecorder{}
	recorder.subscribe(registry)

	err := registry.PerformCommand("ZWayVDev_zway_2-0-37", "on", nil)
	require.NoError(t, err)

	err = registry.PerformCommand("ZWayVDev_zway_7-0-67-1", "exact", map[string]any{"level": 68})
	require.NoError(t, err)

	// same level again, no event
	err = registry.PerformCommand("ZWayVDev_zway_7-0-67-1", "exact", map[string]any{"level": 68})
	require.NoError(t, err)

	// accepted but without level effect
	err = registry.PerformCommand("ZWayVDev_zway_7-0-67-1", "update", nil)
	require.NoError(t, err)

	events := recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, application.DeviceEventLevelChanged, events[0].event)
	assert.Equal(t, "on", events[0].device.Level)
	assert.Equal(t, application.DeviceEventLevelChanged, events[1].event)
	assert.Equal(t, 68, events[1].device.Level)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("on", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("exact", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("other", "success")))
}

func TestFileDeviceRegistry_PerformCommand_Close(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	recorder := &eventRecorder{}
	recorder.subscribe(registry)

	require.NoError(t, registry.PerformCommand("ZWayVDev_zway_2-0-37", "close", nil))

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, "closed", events[0].device.Level)
}

func TestFileDeviceRegistry_PerformCommand_NotFound(t *testing.T) {
	metrics := NewMetrics()
	registry, _ := newTestRegistry(t, metrics)

	err := registry.PerformCommand("unknown", "on", nil)
	require.ErrorIs(t, err, ErrDeviceNotFound)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("on", "failed")))
}

func TestFileDeviceRegistry_Unsubscribe(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	recorder := &eventRecorder{}
	for _, s := range recorder.subscribe(registry) {
		s.Unsubscribe()
	}

	require.NoError(t, registry.PerformCommand("ZWayVDev_zway_2-0-37", "on", nil))
	assert.Empty(t, recorder.all())
}

func TestFileDeviceRegistry_Reload(t *testing.T) {
	registry, path := newTestRegistry(t, nil)

	recorder := &eventRecorder{}
	recorder.subscribe(registry)

	writeDevicesFile(t, path, `
devices:
  - id: ZWayVDev_zway_2-0-37
    title: Lamp
    deviceType: switchBinary
    level: "on"
  - id: ZWayVDev_zway_7-0-67-1
    title: Heating
    deviceType: thermostat
    level: 72
    max: 85
  - id: ZWayVDev_zway_9-0-98-1
    title: Front Door
    deviceType: doorlock
    level: closed
`)

	require.NoError(t, registry.Reload())

	events := recorder.all()
	require.Len(t, events, 3)

	assert.Equal(t, application.DeviceEventRemoved, events[0].event)
	assert.Equal(t, "ZWayVDev_zway_5-0-49-1", events[0].device.ID)

	assert.Equal(t, application.DeviceEventLevelChanged, events[1].event)
	assert.Equal(t, "ZWayVDev_zway_2-0-37", events[1].device.ID)
	assert.Equal(t, "on", events[1].device.Level)

	assert.Equal(t, application.DeviceEventCreated, events[2].event)
	assert.Equal(t, "ZWayVDev_zway_9-0-98-1", events[2].device.ID)
}

func TestFileDeviceRegistry_Reload_TitleChange(t *testing.T) {
	registry, path := newTestRegistry(t, nil)

	recorder := &eventRecorder{}
	recorder.subscribe(registry)

	writeDevicesFile(t, path, `
devices:
  - id: ZWayVDev_zway_2-0-37
    title: Desk Lamp
    deviceType: switchBinary
    level: "off"
  - id: ZWayVDev_zway_5-0-49-1
    title: Temperature
    deviceType: sensorMultilevel
    level: 21.5
    scaleTitle: "°C"
  - id: ZWayVDev_zway_7-0-67-1
    title: Heating
    deviceType: thermostat
    level: 72
    max: 85
`)

	require.NoError(t, registry.Reload())

	events := recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, application.DeviceEventRemoved, events[0].event)
	assert.Equal(t, "Lamp", events[0].device.Title)
	assert.Equal(t, application.DeviceEventCreated, events[1].event)
	assert.Equal(t, "Desk Lamp", events[1].device.Title)
}

func TestFileDeviceRegistry_Reload_Malformed(t *testing.T) {
	registry, path := newTestRegistry(t, nil)

	writeDevicesFile(t, path, "devices: [")
	require.Error(t, registry.Reload())

	count := 0
	registry.ForEach(func(device application.Device) { count++ })
	assert.Equal(t, 3, count)
}

func TestFileDeviceRegistry_Watch(t *testing.T) {
	registry, path := newTestRegistry(t, nil)

	recorder := &eventRecorder{}
	recorder.subscribe(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- registry.Watch(ctx)
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	writeDevicesFile(t, path, `
devices:
  - id: ZWayVDev_zway_2-0-37
    title: Lamp
    deviceType: switchBinary
    level: "on"
  - id: ZWayVDev_zway_5-0-49-1
    title: Temperature
    deviceType: sensorMultilevel
    level: 21.5
    scaleTitle: "°C"
  - id: ZWayVDev_zway_7-0-67-1
    title: Heating
    deviceType: thermostat
    level: 72
    max: 85
`)

	assert.Eventually(t, func() bool {
		for _, e := range recorder.all() {
			if e.device.ID == "ZWayVDev_zway_2-0-37" && e.device.Level == "on" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
