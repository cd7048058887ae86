package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"zway-to-mqtt/application"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrDeviceNotFound   = fmt.Errorf("device not found")
	ErrDevicesFileEmpty = fmt.Errorf("devices file is empty")
)

type DeviceModel struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	DeviceType string `yaml:"deviceType"`
	Level      any    `yaml:"level"`
	ScaleTitle string `yaml:"scaleTitle,omitempty"`
	Max        any    `yaml:"max,omitempty"`
}

type DevicesFile struct {
	Devices []DeviceModel `yaml:"devices"`
}

type FileDeviceRegistryParams struct {
	Path string

	Metrics *Metrics

	Log zerolog.Logger
}

// FileDeviceRegistry is a device registry backed by a YAML file. Edits to
// the file are turned into created, removed and level-changed events.
type FileDeviceRegistry struct {
	params FileDeviceRegistryParams

	mu       sync.RWMutex
	devices  []application.Device
	handlers map[application.DeviceEvent]map[uint64]application.DeviceHandler
	nextID   uint64

	log zerolog.Logger
}

func NewFileDeviceRegistry(params FileDeviceRegistryParams) (*FileDeviceRegistry, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("devices file path is required")
	}

	devices, err := loadDevices(params.Path)
	if err != nil {
		return nil, err
	}

	return &FileDeviceRegistry{
		params:   params,
		devices:  devices,
		handlers: map[application.DeviceEvent]map[uint64]application.DeviceHandler{},
		log:      params.Log,
	}, nil
}

func (r *FileDeviceRegistry) ForEach(fn func(device application.Device)) {
	r.mu.RLock()
	devices := make([]application.Device, len(r.devices))
	copy(devices, r.devices)
	r.mu.RUnlock()

	for _, device := range devices {
		fn(device)
	}
}

func (r *FileDeviceRegistry) On(event application.DeviceEvent, handler application.DeviceHandler) application.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	if r.handlers[event] == nil {
		r.handlers[event] = map[uint64]application.DeviceHandler{}
	}
	r.handlers[event][r.nextID] = handler

	return &subscription{registry: r, event: event, id: r.nextID}
}

func (r *FileDeviceRegistry) PerformCommand(deviceID string, command string, args map[string]any) error {
	r.mu.Lock()
	idx := r.indexOf(deviceID)
	if idx < 0 {
		r.mu.Unlock()
		r.params.Metrics.observeCommand(commandLabel(command), ErrDeviceNotFound)
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	level, ok := commandLevel(command, args)
	if !ok {
		r.mu.Unlock()
		r.params.Metrics.observeCommand(commandLabel(command), nil)
		r.log.Info().Str("device", deviceID).Str("command", command).Msg("command has no level effect")
		return nil
	}

	changed := fmt.Sprint(r.devices[idx].Level) != fmt.Sprint(level)
	r.devices[idx].Level = level
	device := r.devices[idx]
	r.mu.Unlock()

	r.params.Metrics.observeCommand(commandLabel(command), nil)
	if changed {
		r.emit(application.DeviceEventLevelChanged, device)
	}
	return nil
}

// Reload re-reads the devices file and emits events for the differences.
func (r *FileDeviceRegistry) Reload() error {
	devices, err := loadDevices(r.params.Path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.devices
	r.devices = devices
	r.mu.Unlock()

	type pending struct {
		event  application.DeviceEvent
		device application.Device
	}
	var events []pending

	current := make(map[string]application.Device, len(devices))
	for _, device := range devices {
		current[device.ID] = device
	}

	old := make(map[string]application.Device, len(previous))
	for _, device := range previous {
		old[device.ID] = device
		next, ok := current[device.ID]
		switch {
		case !ok:
			events = append(events, pending{application.DeviceEventRemoved, device})
		case next.Title != device.Title || next.DeviceType != device.DeviceType:
			events = append(events, pending{application.DeviceEventRemoved, device})
		}
	}

	for _, device := range devices {
		prev, ok := old[device.ID]
		switch {
		case !ok, prev.Title != device.Title || prev.DeviceType != device.DeviceType:
			events = append(events, pending{application.DeviceEventCreated, device})
		case fmt.Sprint(prev.Level) != fmt.Sprint(device.Level):
			events = append(events, pending{application.DeviceEventLevelChanged, device})
		}
	}

	r.log.Debug().Int("devices", len(devices)).Int("events", len(events)).Msg("devices reloaded")

	for _, e := range events {
		r.emit(e.event, e.device)
	}
	return nil
}

// Watch reloads the registry whenever the devices file changes, until ctx is
// done. The parent directory is watched so editors replacing the file are
// noticed too.
func (r *FileDeviceRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := filepath.Clean(r.params.Path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	r.log.Info().Str("path", path).Msg("watching devices file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.log.Error().Err(err).Msg("failed to reload devices file")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("devices file watcher error")
		}
	}
}

func (r *FileDeviceRegistry) emit(event application.DeviceEvent, device application.Device) {
	r.mu.RLock()
	handlers := make([]application.DeviceHandler, 0, len(r.handlers[event]))
	for _, handler := range r.handlers[event] {
		handlers = append(handlers, handler)
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(device)
	}
}

func (r *FileDeviceRegistry) indexOf(deviceID string) int {
	for i, device := range r.devices {
		if device.ID == deviceID {
			return i
		}
	}
	return -1
}

var _ application.DeviceRegistry = &FileDeviceRegistry{}

type subscription struct {
	registry *FileDeviceRegistry
	event    application.DeviceEvent
	id       uint64
}

func (s *subscription) Unsubscribe() {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	delete(s.registry.handlers[s.event], s.id)
}

func commandLevel(command string, args map[string]any) (any, bool) {
	switch command {
	case "on", "off", "open":
		return command, true
	case "close":
		return "closed", true
	case "exact":
		level, ok := args["level"]
		return level, ok
	}
	return nil, false
}

func commandLabel(command string) string {
	switch command {
	case "on", "off", "open", "close", "exact":
		return command
	}
	return "other"
}

func loadDevices(path string) ([]application.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// a truncated file is usually still being written
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDevicesFileEmpty, path)
	}

	var file DevicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	devices := make([]application.Device, 0, len(file.Devices))
	for _, model := range file.Devices {
		devices = append(devices, application.Device{
			ID:         model.ID,
			Title:      model.Title,
			DeviceType: application.DeviceType(model.DeviceType),
			Level:      model.Level,
			ScaleTitle: model.ScaleTitle,
			Max:        model.Max,
		})
	}
	return devices, nil
}
