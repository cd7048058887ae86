package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

const (
	ReconnectDelayStep = 1000 * time.Millisecond
	ReconnectDelayMax  = 60000 * time.Millisecond
)

type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnecting
)

var connectionStateNames = map[ConnectionState]string{
	ConnectionDisconnected:  "disconnected",
	ConnectionConnecting:    "connecting",
	ConnectionConnected:     "connected",
	ConnectionDisconnecting: "disconnecting",
}

func (s ConnectionState) String() string {
	return connectionStateNames[s]
}

func parseConnectionState(name string) ConnectionState {
	for state, n := range connectionStateNames {
		if n == name {
			return state
		}
	}
	return ConnectionDisconnected
}

const (
	eventConnect   = "connect"
	eventConnected = "connected"
	eventLost      = "lost"
	eventStop      = "stop"
)

func newConnectionFSM() *fsm.FSM {
	var (
		disconnected  = ConnectionDisconnected.String()
		connecting    = ConnectionConnecting.String()
		connected     = ConnectionConnected.String()
		disconnecting = ConnectionDisconnecting.String()
	)

	return fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{disconnected}, Dst: connecting},
			{Name: eventConnected, Src: []string{connecting}, Dst: connected},
			{Name: eventLost, Src: []string{connecting, connected, disconnecting}, Dst: disconnected},
			{Name: eventStop, Src: []string{disconnected, connecting, connected}, Dst: disconnecting},
		},
		fsm.Callbacks{},
	)
}

// ReconnectDelay returns the wait before reconnect attempt n.
func ReconnectDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * ReconnectDelayStep
	if delay > ReconnectDelayMax {
		return ReconnectDelayMax
	}
	return delay
}

type Timer interface {
	Stop() bool
}

type ConnectionManagerParams struct {
	Client MQTTClient

	// Filters are requested in a single subscribe after every connect.
	Filters []string

	// OnReady runs after the subscribe of every successful connect. The
	// session only stays valid while IsCurrent reports true for it.
	OnReady func(session uint64)
	// OnLost runs when the session drops, before a reconnect is scheduled.
	OnLost    func()
	OnMessage func(msg MQTTMessage)

	AfterFunc func(d time.Duration, f func()) Timer

	Log zerolog.Logger
}

func (p *ConnectionManagerParams) EnsureDefaults() {
	if p.AfterFunc == nil {
		p.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
}

// ConnectionManager owns the single MQTT session and reconnects it with a
// linear backoff until Stop is called.
type ConnectionManager struct {
	params ConnectionManagerParams

	mu             sync.Mutex
	state          *fsm.FSM
	attemptCount   int
	session        uint64
	stopped        bool
	reconnectTimer Timer

	log zerolog.Logger
}

func NewConnectionManager(params ConnectionManagerParams) (*ConnectionManager, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("Client is nil")
	}
	params.EnsureDefaults()

	m := &ConnectionManager{
		params: params,
		state:  newConnectionFSM(),
		log:    params.Log,
	}

	params.Client.SetHandlers(MQTTHandlers{
		OnConnect:        m.OnConnected,
		OnConnectionLost: m.OnDisconnected,
		OnMessage:        m.onMessage,
	})

	return m, nil
}

func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return parseConnectionState(m.state.Current())
}

func (m *ConnectionManager) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptCount
}

// IsCurrent reports whether session is the live connected session.
func (m *ConnectionManager) IsCurrent(session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == session && m.state.Is(ConnectionConnected.String())
}

func (m *ConnectionManager) Start() {
	m.mu.Lock()
	m.stopped = false
	err := m.state.Event(context.Background(), eventConnect)
	m.mu.Unlock()

	if err != nil {
		m.log.Debug().Err(err).Msg("start ignored")
		return
	}

	m.connect()
}

func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	err := m.state.Event(context.Background(), eventStop)
	m.mu.Unlock()

	if err != nil {
		m.log.Debug().Err(err).Msg("stop ignored")
		return
	}

	m.params.Client.Disconnect()
}

func (m *ConnectionManager) OnConnected() {
	m.mu.Lock()
	err := m.state.Event(context.Background(), eventConnected)
	if err == nil {
		m.attemptCount = 0
		m.session++
	}
	session := m.session
	stopped := m.stopped
	m.mu.Unlock()

	if err != nil {
		if stopped {
			m.log.Info().Msg("connected after stop, closing session")
			m.params.Client.Disconnect()
			return
		}
		m.log.Warn().Err(err).Msg("unexpected connect callback")
		return
	}

	m.log.Info().Msg("connected")

	if len(m.params.Filters) > 0 {
		if err := m.params.Client.Subscribe(0, m.params.Filters...); err != nil {
			m.log.Error().Err(err).Strs("filters", m.params.Filters).Msg("subscribe failed")
		}
	}

	if !m.IsCurrent(session) {
		m.log.Info().Msg("session lost before ready")
		return
	}

	if m.params.OnReady != nil {
		m.params.OnReady(session)
	}
}

func (m *ConnectionManager) OnDisconnected(cause error) {
	m.mu.Lock()
	stopping := m.state.Is(ConnectionDisconnecting.String())
	err := m.state.Event(context.Background(), eventLost)
	m.mu.Unlock()

	if err != nil {
		m.log.Debug().Err(err).Msg("disconnect callback ignored")
		return
	}

	if m.params.OnLost != nil {
		m.params.OnLost()
	}

	if stopping {
		m.log.Info().Msg("disconnected due to stop, not reconnecting")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || !m.state.Is(ConnectionDisconnected.String()) {
		return
	}

	delay := ReconnectDelay(m.attemptCount)
	m.log.Error().Err(cause).Dur("delay", delay).Msg("disconnected, will retry to connect")
	m.reconnectTimer = m.params.AfterFunc(delay, m.reconnect)
}

func (m *ConnectionManager) Publish(topic string, value string, retained bool) {
	if m.State() != ConnectionConnected {
		return
	}

	if err := m.params.Client.Publish(topic, 0, retained, value); err != nil {
		m.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
	}
}

func (m *ConnectionManager) reconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil

	if !m.state.Is(ConnectionDisconnected.String()) {
		state := m.state.Current()
		m.mu.Unlock()
		m.log.Info().Str("state", state).Msg("connection already in progress, cancelling reconnect")
		return
	}

	attempt := m.attemptCount
	m.attemptCount++
	err := m.state.Event(context.Background(), eventConnect)
	m.mu.Unlock()

	if err != nil {
		m.log.Warn().Err(err).Msg("reconnect transition failed")
		return
	}

	m.log.Info().Int("attempt", attempt).Msg("trying to reconnect")
	m.connect()
}

func (m *ConnectionManager) connect() {
	if err := m.params.Client.Connect(); err != nil {
		m.log.Error().Err(err).Msg("connect failed")
		m.OnDisconnected(err)
	}
}

func (m *ConnectionManager) onMessage(msg MQTTMessage) {
	if m.params.OnMessage == nil {
		return
	}
	m.params.OnMessage(msg)
}
