package signaling

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/audit"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
)

type handlerFunc func(from *Connection, env Envelope)

// Router classifies inbound envelopes and delivers them through the room
// directory. Dispatch goes through an explicit table keyed by message type;
// types without an entry are ignored.
//
// Like Registry and Directory, a Router must only be used from one goroutine.
type Router struct {
	registry *Registry
	rooms    *Directory
	handlers map[MessageType]handlerFunc

	logger  zerolog.Logger
	metrics *metrics.Metrics
	audit   audit.Recorder
	now     func() time.Time
	newID   func() string
}

// NewRouter creates a router over the given registry and directory.
func NewRouter(registry *Registry, rooms *Directory, logger zerolog.Logger) *Router {
	r := &Router{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
		metrics:  metrics.New(),
		audit:    audit.Nop{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	r.handlers = map[MessageType]handlerFunc{
		TypeJoinRoom:     r.handleJoin,
		TypeLeaveRoom:    r.handleLeave,
		TypeOffer:        r.handleRelay,
		TypeAnswer:       r.handleRelay,
		TypeICECandidate: r.handleRelay,
		TypeChatMessage:  r.handleChat,
	}
	return r
}

// Types lists the message types the router handles.
func (r *Router) Types() []MessageType {
	out := make([]MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Route dispatches one decoded envelope received from a connection.
func (r *Router) Route(from *Connection, env Envelope) {
	h, ok := r.handlers[env.Type]
	if !ok {
		r.metrics.Inc(metrics.FramesIgnored)
		return
	}
	r.metrics.Inc(metrics.FrameReceived(string(env.Type)))
	h(from, env)
}

// Disconnect performs the implicit leave of a closing connection.
func (r *Router) Disconnect(c *Connection) {
	r.leave(c)
}

func (r *Router) handleJoin(from *Connection, env Envelope) {
	if _, bound := r.registry.Lookup(from); bound {
		r.leave(from)
	}

	members := r.rooms.Join(from, env.RoomID, env.UserID)

	r.sendServer(from, TypeRoomMembers, env.RoomID, env.UserID, MembersPayload{Members: members})
	r.broadcastServer(env.RoomID, from, TypeUserJoined, env.UserID, UserPayload{UserID: env.UserID})

	r.audit.Record(audit.Event{
		Action:       audit.ActionJoined,
		RoomID:       env.RoomID,
		UserID:       env.UserID,
		ConnectionID: from.ID,
		RemoteAddr:   from.RemoteAddr,
		OccurredAt:   r.now().UTC(),
	})

	r.logger.Info().
		Str("room_id", env.RoomID).
		Str("user_id", env.UserID).
		Str("connection_id", from.ID).
		Int("members", r.rooms.MemberCount(env.RoomID)).
		Msg("participant joined room")
}

func (r *Router) handleLeave(from *Connection, _ Envelope) {
	r.leave(from)
}

func (r *Router) leave(c *Connection) {
	b, ok := r.rooms.Leave(c)
	if !ok {
		return
	}

	// A user with another open connection in the room has not left.
	stillPresent := r.rooms.HasUser(b.RoomID, b.UserID)
	if !stillPresent {
		r.broadcastServer(b.RoomID, nil, TypeUserLeft, b.UserID, UserPayload{UserID: b.UserID})
	}

	r.audit.Record(audit.Event{
		Action:       audit.ActionLeft,
		RoomID:       b.RoomID,
		UserID:       b.UserID,
		ConnectionID: c.ID,
		RemoteAddr:   c.RemoteAddr,
		OccurredAt:   r.now().UTC(),
	})

	r.logger.Info().
		Str("room_id", b.RoomID).
		Str("user_id", b.UserID).
		Str("connection_id", c.ID).
		Bool("still_present", stillPresent).
		Bool("room_closed", !r.rooms.HasRoom(b.RoomID)).
		Msg("participant left room")
}

// handleRelay forwards offer, answer and ice-candidate messages. The data
// field is passed through untouched.
func (r *Router) handleRelay(from *Connection, env Envelope) {
	b, ok := r.binding(from, env.Type)
	if !ok {
		return
	}

	frame, err := Encode(Envelope{
		Type:         env.Type,
		Data:         env.Data,
		RoomID:       b.RoomID,
		UserID:       b.UserID,
		TargetUserID: env.TargetUserID,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", from.ID).Msg("failed to encode relayed message")
		return
	}

	if env.TargetUserID == "" {
		r.broadcast(b.RoomID, from, frame)
		return
	}

	delivered := 0
	for _, m := range r.rooms.Members(b.RoomID) {
		if m == from {
			continue
		}
		if mb, ok := r.registry.Lookup(m); ok && mb.UserID == env.TargetUserID {
			r.deliver(m, frame)
			delivered++
		}
	}
	if delivered == 0 {
		r.logger.Debug().
			Str("room_id", b.RoomID).
			Str("target_user_id", env.TargetUserID).
			Str("type", string(env.Type)).
			Msg("unicast target not in room")
	}
}

func (r *Router) handleChat(from *Connection, env Envelope) {
	b, ok := r.binding(from, env.Type)
	if !ok {
		return
	}

	chat, err := decodeChat(env.Data)
	if err != nil {
		r.metrics.Inc(metrics.ChatRejected)
		r.logger.Warn().Err(err).
			Str("room_id", b.RoomID).
			Str("connection_id", from.ID).
			Msg("dropping chat message")
		return
	}
	chat.stamp(r.newID(), b.UserID, r.now())

	out, err := serverEnvelope(TypeChatMessage, b.RoomID, b.UserID, chat)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to build chat message")
		return
	}
	frame, err := Encode(out)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode chat message")
		return
	}

	r.broadcast(b.RoomID, nil, frame)
}

func (r *Router) binding(from *Connection, typ MessageType) (Binding, bool) {
	b, ok := r.registry.Lookup(from)
	if !ok {
		r.metrics.Inc(metrics.FramesUnbound)
		r.logger.Debug().
			Str("connection_id", from.ID).
			Str("type", string(typ)).
			Msg("dropping message from connection outside any room")
	}
	return b, ok
}

func (r *Router) sendServer(to *Connection, typ MessageType, roomID, userID string, payload any) {
	frame, ok := r.serverFrame(typ, roomID, userID, payload)
	if ok {
		r.deliver(to, frame)
	}
}

func (r *Router) broadcastServer(roomID string, exclude *Connection, typ MessageType, userID string, payload any) {
	frame, ok := r.serverFrame(typ, roomID, userID, payload)
	if ok {
		r.broadcast(roomID, exclude, frame)
	}
}

func (r *Router) serverFrame(typ MessageType, roomID, userID string, payload any) ([]byte, bool) {
	env, err := serverEnvelope(typ, roomID, userID, payload)
	if err == nil {
		var frame []byte
		if frame, err = Encode(env); err == nil {
			return frame, true
		}
	}
	r.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to encode server message")
	return nil, false
}

// broadcast delivers frame to every member of roomID except exclude.
func (r *Router) broadcast(roomID string, exclude *Connection, frame []byte) {
	for _, m := range r.rooms.Members(roomID) {
		if m == exclude {
			continue
		}
		r.deliver(m, frame)
	}
}

// deliver never blocks. Closed or saturated recipients are skipped.
func (r *Router) deliver(to *Connection, frame []byte) {
	if to.enqueue(frame) {
		return
	}
	r.metrics.Inc(metrics.DeliveriesDropped)
	r.logger.Debug().Str("connection_id", to.ID).Bool("closed", to.closed).Msg("delivery skipped")
}
