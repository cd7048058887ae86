package adapters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	BrokerConnected  prometheus.Gauge
	ConnectsTotal    prometheus.Counter
	DisconnectsTotal prometheus.Counter
	PublishedTotal   *prometheus.CounterVec
	ReceivedTotal    prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zway_mqtt_broker_connected",
			Help: "The connectivity status to the MQTT broker (1=connected, 0=disconnected).",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zway_mqtt_connects_total",
			Help: "Total number of successful MQTT connects.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zway_mqtt_disconnects_total",
			Help: "Total number of MQTT sessions lost or closed.",
		}),
		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zway_mqtt_published_total",
			Help: "Total number of MQTT publishes.",
		}, []string{"status"}), // status: success/failed
		ReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zway_mqtt_received_total",
			Help: "Total number of inbound MQTT messages.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zway_device_commands_total",
			Help: "Total number of commands performed on registry devices.",
		}, []string{"command", "status"}),
	}

	m.registry.MustRegister(
		m.BrokerConnected,
		m.ConnectsTotal,
		m.DisconnectsTotal,
		m.PublishedTotal,
		m.ReceivedTotal,
		m.CommandsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeConnect() {
	if m == nil {
		return
	}
	m.BrokerConnected.Set(1)
	m.ConnectsTotal.Inc()
}

func (m *Metrics) observeConnectionLost() {
	if m == nil {
		return
	}
	m.BrokerConnected.Set(0)
	m.DisconnectsTotal.Inc()
}

func (m *Metrics) observePublish(err error) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) observeMessage() {
	if m == nil {
		return
	}
	m.ReceivedTotal.Inc()
}

func (m *Metrics) observeCommand(command string, err error) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
