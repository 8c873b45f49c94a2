// Package metrics keeps in-process counters and gauges for the signaling
// relay and exposes them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// Counter names.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	DecodeErrors      = "decode_errors"
	FramesIgnored     = "frames_ignored"
	FramesUnbound     = "frames_unbound"
	DeliveriesDropped = "deliveries_dropped"
	ChatRejected      = "chat_rejected"
	AuditDropped      = "audit_dropped"
	AuditFailed       = "audit_failed"
)

// Gauge names.
const (
	OpenConnections = "open_connections"
	ActiveRooms     = "active_rooms"
)

const namespace = "smartdoc_relay"

// FrameReceived returns the counter name for an inbound frame of the given
// message type.
func FrameReceived(messageType string) string {
	return "frames_received:" + messageType
}

// Metrics is a concurrency-safe registry of monotonic counters and gauges.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]int64
}

// New returns an empty registry.
func New() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

// Inc adds one to the named counter.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add adds delta to the named counter.
func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Get returns the current value of the named counter.
func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// SetGauge sets the named gauge.
func (m *Metrics) SetGauge(name string, v int64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

// Gauge returns the current value of the named gauge.
func (m *Metrics) Gauge(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot copies all counters and gauges.
func (m *Metrics) Snapshot() (counters map[string]uint64, gauges map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters = make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	gauges = make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return counters, gauges
}

// PrometheusHandler serves the registry in Prometheus text format. Counters
// share one metric family with an `event` label; each gauge is its own
// family.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		counters, gauges := m.Snapshot()

		var b strings.Builder
		fmt.Fprintf(&b, "# HELP %s_events_total Relay event counters.\n", namespace)
		fmt.Fprintf(&b, "# TYPE %s_events_total counter\n", namespace)
		escape := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
		for _, k := range sortedKeys(counters) {
			fmt.Fprintf(&b, "%s_events_total{event=\"%s\"} %d\n", namespace, escape.Replace(k), counters[k])
		}

		for _, k := range sortedKeys(gauges) {
			fmt.Fprintf(&b, "# TYPE %s_%s gauge\n", namespace, k)
			fmt.Fprintf(&b, "%s_%s %d\n", namespace, k, gauges[k])
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
