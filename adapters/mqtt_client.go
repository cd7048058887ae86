package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"zway-to-mqtt/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout    = 30 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultSubscribeTimeout  = 5 * time.Second
	MQTTDefaultDisconnectQuiesce = 250 // milliseconds
)

var (
	ErrMQTTNotConnected     = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout   = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout   = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
	ErrMQTTClosed           = fmt.Errorf("closed")
)

type MQTTClientParams struct {
	ClientID string
	Username string
	Password string
	MQTTUrl  string

	// WillTopic enables a retained last will carrying WillPayload.
	WillTopic   string
	WillPayload string

	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Metrics *Metrics

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient adapts paho to application.MQTTClient. Paho's own reconnect
// logic is disabled, session recovery belongs to the connection manager.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	connected          uint64
	msgCount           uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	handlers application.MQTTHandlers
	mu       sync.RWMutex

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{params: params, log: params.Log}
	m.client = m.newMqttClient()

	t := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&t)

	return m
}

func (m *MQTTClient) SetHandlers(handlers application.MQTTHandlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = handlers
}

// Connect blocks until the session is up or the connect timeout elapses. An
// already open session is reported again through OnConnect, so the caller's
// state machine always sees the connect it asked for.
func (m *MQTTClient) Connect() error {
	if atomic.LoadUint64(&m.connected) == 1 {
		m.log.Debug().Msg("already connected")
		m.notifyConnect()
		return nil
	}

	tc := time.NewTimer(m.params.ConnectTimeout)
	defer tc.Stop()

	token := m.client.Connect()
	select {
	case <-tc.C:
		return ErrMQTTConnectTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	return nil
}

func (m *MQTTClient) Disconnect() {
	m.client.Disconnect(MQTTDefaultDisconnectQuiesce)
	m.OnConnectionLost(m.client, ErrMQTTClosed)
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	err := m.publish(topic, qos, retained, msg)
	m.params.Metrics.observePublish(err)
	if err != nil {
		return err
	}

	t := time.Now()
	m.msgCountUpdateTime.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)
	return nil
}

func (m *MQTTClient) publish(topic string, qos byte, retained bool, msg any) error {
	tc := time.NewTimer(m.params.PublishTimeout)
	defer tc.Stop()

	token := m.client.Publish(topic, qos, retained, msg)
	select {
	case <-tc.C:
		return ErrMQTTPublishTimeout
	case <-token.Done():
		return token.Error()
	}
}

// Subscribe requests all topics in a single SUBSCRIBE packet.
func (m *MQTTClient) Subscribe(qos byte, topics ...string) error {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = qos
	}

	tc := time.NewTimer(m.params.SubscribeTimeout)
	defer tc.Stop()

	token := m.client.SubscribeMultiple(filters, m.PublishHandler)
	select {
	case <-tc.C:
		return ErrMQTTSubscribeTimeout
	case <-token.Done():
		return token.Error()
	}
}

func (m *MQTTClient) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	m.params.Metrics.observeMessage()

	m.mu.RLock()
	onMessage := m.handlers.OnMessage
	m.mu.RUnlock()

	if onMessage != nil {
		onMessage(msg)
	}
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
	m.params.Metrics.observeConnect()
	m.notifyConnect()
}

func (m *MQTTClient) notifyConnect() {
	m.mu.RLock()
	onConnect := m.handlers.OnConnect
	m.mu.RUnlock()

	if onConnect != nil {
		onConnect()
	}
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
	m.params.Metrics.observeConnectionLost()

	m.mu.RLock()
	onConnectionLost := m.handlers.OnConnectionLost
	m.mu.RUnlock()

	if onConnectionLost != nil {
		onConnectionLost(err)
	}
}

func (m *MQTTClient) newMqttClient() mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.MQTTUrl)
	opts.SetClientID(m.params.ClientID)
	opts.SetUsername(m.params.Username)
	opts.SetPassword(m.params.Password)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(m.params.ConnectTimeout)

	if m.params.WillTopic != "" {
		opts.SetWill(m.params.WillTopic, m.params.WillPayload, 0, true)
	}

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.MQTTClient = &MQTTClient{}
