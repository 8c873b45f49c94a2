// Package audit records telemedicine room attendance (who joined or left
// which consultation room, and when). Only membership metadata is written;
// signaling payloads and chat text never reach this package.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
)

// Action is the kind of attendance change.
type Action string

const (
	ActionJoined Action = "joined"
	ActionLeft   Action = "left"
)

// Event is one attendance record.
type Event struct {
	ID           uuid.UUID
	Action       Action
	RoomID       string
	UserID       string
	ConnectionID string
	RemoteAddr   string
	OccurredAt   time.Time
}

// Recorder accepts attendance events. Implementations must not block the
// caller; the relay event loop calls Record inline.
type Recorder interface {
	Record(event Event)
}

// Nop discards every event. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(Event) {}

// Store persists a single event.
type Store interface {
	Insert(ctx context.Context, event Event) error
}

// PGStore writes events to the telemedicine_session_audit table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO telemedicine_session_audit (
			id, action, room_id, user_id, connection_id, remote_addr, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		event.ID, string(event.Action), event.RoomID, event.UserID,
		event.ConnectionID, event.RemoteAddr, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert session audit %s: %w", event.ID, err)
	}
	return nil
}

const insertTimeout = 5 * time.Second

// Sink is an asynchronous Recorder in front of a Store. Events are queued in
// a bounded buffer and written by Run; when the buffer is full the event is
// dropped and counted.
type Sink struct {
	store   Store
	queue   chan Event
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSink creates a sink with room for size pending events.
func NewSink(store Store, size int, logger zerolog.Logger, m *metrics.Metrics) *Sink {
	if size <= 0 {
		size = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Sink{
		store:   store,
		queue:   make(chan Event, size),
		logger:  logger.With().Str("component", "audit").Logger(),
		metrics: m,
	}
}

// Record enqueues the event, filling in the id and time when missing.
func (s *Sink) Record(event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case s.queue <- event:
	default:
		s.metrics.Inc(metrics.AuditDropped)
		s.logger.Warn().
			Str("room_id", event.RoomID).
			Str("action", string(event.Action)).
			Msg("audit queue full, dropping event")
	}
}

// Pending returns the number of queued events.
func (s *Sink) Pending() int {
	return len(s.queue)
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case event := <-s.queue:
			s.write(ctx, event)
		}
	}
}

func (s *Sink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	for {
		select {
		case event := <-s.queue:
			s.write(ctx, event)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, event); err != nil {
		s.metrics.Inc(metrics.AuditFailed)
		s.logger.Error().Err(err).
			Str("room_id", event.RoomID).
			Str("action", string(event.Action)).
			Msg("failed to write session audit")
	}
}
