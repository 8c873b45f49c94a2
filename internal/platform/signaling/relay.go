package signaling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/audit"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
)

// Options controls the transport side of the relay.
type Options struct {
	Path            string
	SendBuffer      int
	MaxMessageBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Path:            "/webrtc-signaling",
		SendBuffer:      256,
		MaxMessageBytes: 64 * 1024,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
	}
}

// PingPeriod is how often the write pump pings an idle peer. It must be
// shorter than PongWait.
func (o Options) PingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

type inboundFrame struct {
	from *Connection
	env  Envelope
}

// Relay is the signaling event loop. Every mutation of the registry and the
// room directory happens on the goroutine running Run; pumps talk to it only
// through channels.
type Relay struct {
	registry *Registry
	rooms    *Directory
	router   *Router

	register   chan *Connection
	unregister chan *Connection
	inbound    chan inboundFrame
	done       chan struct{}

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewRelay creates a relay. A nil metrics registry or recorder is replaced
// with a private one and a no-op respectively.
func NewRelay(logger zerolog.Logger, m *metrics.Metrics, recorder audit.Recorder) *Relay {
	if m == nil {
		m = metrics.New()
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	logger = logger.With().Str("component", "signaling").Logger()

	registry := NewRegistry()
	rooms := NewDirectory(registry)
	router := NewRouter(registry, rooms, logger)
	router.metrics = m
	router.audit = recorder

	return &Relay{
		registry:   registry,
		rooms:      rooms,
		router:     router,
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		inbound:    make(chan inboundFrame),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run processes connection events until ctx is cancelled. On return every
// connection's outbound queue has been closed.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Strs("types", messageTypeStrings(r.router.Types())).Msg("signaling relay started")
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.register:
			r.registry.Add(c)
			r.metrics.Inc(metrics.ConnectionsOpened)
			r.logger.Debug().Str("connection_id", c.ID).Str("remote_addr", c.RemoteAddr).Msg("connection opened")
		case c := <-r.unregister:
			r.disconnect(c)
		case in := <-r.inbound:
			if !r.registry.Has(in.from) {
				continue
			}
			r.router.Route(in.from, in.env)
		}
		r.updateGauges()
	}
}

func (r *Relay) disconnect(c *Connection) {
	if !r.registry.Has(c) {
		return
	}
	r.router.Disconnect(c)
	r.registry.Remove(c)
	c.close()
	r.metrics.Inc(metrics.ConnectionsClosed)
	r.logger.Debug().Str("connection_id", c.ID).Msg("connection closed")
}

func (r *Relay) shutdown() {
	close(r.done)
	conns := r.registry.Connections()
	for _, c := range conns {
		r.disconnect(c)
	}
	r.updateGauges()
	r.logger.Info().Int("closed", len(conns)).Msg("signaling relay stopped")
}

func (r *Relay) updateGauges() {
	r.metrics.SetGauge(metrics.OpenConnections, int64(r.registry.Len()))
	r.metrics.SetGauge(metrics.ActiveRooms, int64(r.rooms.RoomCount()))
}

// Register hands a new connection to the event loop. It reports false when
// the relay has stopped.
func (r *Relay) Register(c *Connection) bool {
	select {
	case r.register <- c:
		return true
	case <-r.done:
		return false
	}
}

// Unregister asks the event loop to release the connection. Releasing an
// unknown or already released connection is a no-op.
func (r *Relay) Unregister(c *Connection) {
	select {
	case r.unregister <- c:
	case <-r.done:
	}
}

// Dispatch hands a decoded envelope from c to the event loop. It returns
// once the envelope has been accepted or the relay has stopped.
func (r *Relay) Dispatch(c *Connection, env Envelope) {
	select {
	case r.inbound <- inboundFrame{from: c, env: env}:
	case <-r.done:
	}
}

// Metrics returns the registry the relay reports into.
func (r *Relay) Metrics() *metrics.Metrics {
	return r.metrics
}

func messageTypeStrings(types []MessageType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
