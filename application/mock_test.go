package application

import (
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock

	handlers MQTTHandlers
}

func (m *MockMQTTClient) SetHandlers(handlers MQTTHandlers) {
	m.handlers = handlers
	m.Called(handlers)
}

func (m *MockMQTTClient) Connect() error {
	return m.Called().Error(0)
}

func (m *MockMQTTClient) Disconnect() {
	m.Called()
}

func (m *MockMQTTClient) Subscribe(qos byte, topics ...string) error {
	return m.Called(qos, topics).Error(0)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	return m.Called(topic, qos, retained, msg).Error(0)
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Status() MQTTStatus {
	return m.Called().Get(0).(MQTTStatus)
}

var _ MQTTClient = &MockMQTTClient{}

type published struct {
	Topic    string
	Value    string
	Retained bool
}

// Published returns the publishes seen by the mock, in call order.
func (m *MockMQTTClient) Published() []published {
	var out []published
	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}
		out = append(out, published{
			Topic:    call.Arguments.String(0),
			Value:    call.Arguments.Get(3).(string),
			Retained: call.Arguments.Bool(2),
		})
	}
	return out
}

// PublishedMap returns the last value published per topic.
func (m *MockMQTTClient) PublishedMap() map[string]string {
	out := map[string]string{}
	for _, p := range m.Published() {
		out[p.Topic] = p.Value
	}
	return out
}

// newConnectedMock returns a client mock whose Connect and Disconnect report
// back through the registered handlers like the paho adapter does.
func newConnectedMock() *MockMQTTClient {
	m := &MockMQTTClient{}
	m.On("SetHandlers", mock.Anything).Return()
	m.On("Connect").Run(func(args mock.Arguments) {
		m.handlers.OnConnect()
	}).Return(nil)
	m.On("Disconnect").Run(func(args mock.Arguments) {
		m.handlers.OnConnectionLost(fmt.Errorf("closed"))
	}).Return()
	m.On("Subscribe", byte(0), mock.Anything).Return(nil)
	m.On("Publish", mock.Anything, byte(0), mock.Anything, mock.Anything).Return(nil)
	return m
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type performedCommand struct {
	DeviceID string
	Command  string
	Args     map[string]any
}

type fakeRegistry struct {
	mu       sync.Mutex
	devices  []Device
	handlers map[DeviceEvent]map[int]DeviceHandler
	nextID   int
	commands []performedCommand

	performErr   error
	performPanic bool
}

func newFakeRegistry(devices ...Device) *fakeRegistry {
	return &fakeRegistry{devices: devices, handlers: map[DeviceEvent]map[int]DeviceHandler{}}
}

func (r *fakeRegistry) ForEach(fn func(device Device)) {
	r.mu.Lock()
	devices := append([]Device(nil), r.devices...)
	r.mu.Unlock()

	for _, d := range devices {
		fn(d)
	}
}

func (r *fakeRegistry) On(event DeviceEvent, handler DeviceHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	if r.handlers[event] == nil {
		r.handlers[event] = map[int]DeviceHandler{}
	}
	r.handlers[event][r.nextID] = handler
	return &fakeSubscription{registry: r, event: event, id: r.nextID}
}

func (r *fakeRegistry) PerformCommand(deviceID string, command string, args map[string]any) error {
	if r.performPanic {
		panic("device exploded")
	}

	r.mu.Lock()
	r.commands = append(r.commands, performedCommand{DeviceID: deviceID, Command: command, Args: args})
	r.mu.Unlock()

	return r.performErr
}

func (r *fakeRegistry) handlerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

func (r *fakeRegistry) emit(event DeviceEvent, device Device) {
	r.mu.Lock()
	var handlers []DeviceHandler
	for _, h := range r.handlers[event] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(device)
	}
}

type fakeSubscription struct {
	registry *fakeRegistry
	event    DeviceEvent
	id       int
}

func (s *fakeSubscription) Unsubscribe() {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	delete(s.registry.handlers[s.event], s.id)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }
