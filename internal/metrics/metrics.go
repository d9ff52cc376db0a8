// Package metrics exposes Prometheus counters for sends and discovery.
//
// A nil *Collector is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartplug"

// Send results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Discovery packet results.
const (
	PacketAccepted = "accepted"
	PacketFiltered = "filtered"
	PacketInvalid  = "invalid"
)

// Collector holds all smartplug metrics.
type Collector struct {
	sendsTotal       *prometheus.CounterVec   // By transport and result
	sendDuration     *prometheus.HistogramVec // By transport
	discoveryPackets *prometheus.CounterVec   // By result
	discoveryRounds  prometheus.Counter
	discoveryDevices *prometheus.GaugeVec // By status
}

// NewCollector creates and registers metrics with reg. A nil registerer
// disables metrics and returns a nil collector.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, nil // Metrics disabled
	}

	c := &Collector{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "sends_total",
			Help:      "Total number of requests sent to devices",
		}, []string{"transport", "result"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "send_duration_seconds",
			Help:      "Round trip time of device requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"transport"}),

		discoveryPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "packets_total",
			Help:      "Discovery replies received, by outcome",
		}, []string{"result"}), // result: accepted, filtered, invalid

		discoveryRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "rounds_total",
			Help:      "Discovery broadcast rounds sent",
		}),

		discoveryDevices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "devices",
			Help:      "Known devices by status",
		}, []string{"status"}),
	}

	for _, col := range []prometheus.Collector{
		c.sendsTotal,
		c.sendDuration,
		c.discoveryPackets,
		c.discoveryRounds,
		c.discoveryDevices,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveSend records one request.
func (c *Collector) ObserveSend(transport string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	c.sendsTotal.WithLabelValues(transport, result).Inc()
	c.sendDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// DiscoveryPacket records one received discovery reply.
func (c *Collector) DiscoveryPacket(result string) {
	if c == nil {
		return
	}
	c.discoveryPackets.WithLabelValues(result).Inc()
}

// DiscoveryRound records one broadcast round.
func (c *Collector) DiscoveryRound() {
	if c == nil {
		return
	}
	c.discoveryRounds.Inc()
}

// SetDevices sets the number of known devices per status.
func (c *Collector) SetDevices(online, offline int) {
	if c == nil {
		return
	}
	c.discoveryDevices.WithLabelValues("online").Set(float64(online))
	c.discoveryDevices.WithLabelValues("offline").Set(float64(offline))
}

// Handler serves the metrics in g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
