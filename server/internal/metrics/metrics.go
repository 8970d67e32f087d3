package metrics

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/roomcast/roomcast/pkg/types"
)

const namespace = "roomcast"

// Error kinds used as the errors_total label.
const (
	KindProtocol      = "protocol"
	KindAuthorization = "authorization"
	KindDispatch      = "dispatch"
)

// knownTypes bounds the cardinality of messages_total.
var knownTypes = map[string]struct{}{
	types.TypeInit:       {},
	types.TypeVote:       {},
	types.TypeUpdateMeta: {},
	types.TypeClearVote:  {},
	types.TypeKick:       {},
}

// Metrics groups the server's collectors.
type Metrics struct {
	rooms       prometheus.Gauge
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	broadcasts  prometheus.Counter
	deliveries  prometheus.Counter
	rejected    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms currently held by the registry.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Client frames decoded, by message type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Rejected frames and failed deliveries, by kind.",
		}, []string{"kind"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Room snapshots fanned out to members.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Snapshots enqueued to individual members.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_rejected_total",
			Help: "WebSocket upgrades refused by the admission rate limit.",
		}),
	}
	reg.MustRegister(m.rooms, m.connections, m.messages, m.errors,
		m.broadcasts, m.deliveries, m.rejected)
	return m
}

// SetRooms records the registry size.
func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

// ConnOpened increments the open connection gauge.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnClosed decrements the open connection gauge.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Message counts one decoded frame. Unrecognized types share one label.
func (m *Metrics) Message(typ string) {
	if m == nil {
		return
	}
	if _, ok := knownTypes[typ]; !ok {
		typ = "unknown"
	}
	m.messages.WithLabelValues(typ).Inc()
}

// Error counts one failure of the given kind.
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Broadcast records one fan-out and its per-member outcome.
func (m *Metrics) Broadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(delivered))
	if failed > 0 {
		m.errors.WithLabelValues(KindDispatch).Add(float64(failed))
	}
}

// Rejected counts one refused upgrade.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// Handler serves the registry's metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Summarize gathers g and returns the sum of every family's samples keyed by
// family name. Counters and gauges contribute their value; other types are
// skipped.
func Summarize(g prometheus.Gatherer) (map[string]float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = sumFamily(mf)
	}
	return out, nil
}

// Names returns the sorted keys of a Summarize result.
func Names(summary map[string]float64) []string {
	names := make([]string, 0, len(summary))
	for n := range summary {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			total += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += m.GetGauge().GetValue()
		}
	}
	return total
}
