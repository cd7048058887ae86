package application

import "time"

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
}

// MQTTHandlers receives the session callbacks of an MQTTClient. OnConnectionLost
// is also called when a connect attempt fails and after an explicit Disconnect.
type MQTTHandlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnMessage        func(msg MQTTMessage)
}

type MQTTClient interface {
	SetHandlers(handlers MQTTHandlers)

	Connect() error
	Disconnect()
	Subscribe(qos byte, topics ...string) error
	Publish(topic string, qos byte, retained bool, msg any) error

	IsConnected() bool
	Status() MQTTStatus
}
