package signaling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
)

// Preflight header values. echo joins list entries with a bare ",", so each
// value is passed as a single pre-joined entry.
const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "GET, POST, OPTIONS, PUT, DELETE"
)

// Handler upgrades HTTP requests to signaling sockets and runs the per
// connection pumps.
type Handler struct {
	relay    *Relay
	opts     Options
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler feeding the given relay.
func NewHandler(relay *Relay, opts Options, logger zerolog.Logger) *Handler {
	def := DefaultOptions()
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}

	return &Handler{
		relay: relay,
		opts:  opts,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the web app's origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "signaling").Logger(),
	}
}

// RegisterRoutes registers the signaling endpoint on the provided Echo group.
// All methods are routed so that CORS preflight and the non-upgrade error
// reach the handler.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.Any(h.opts.Path, h.HandleConnect, CORS())
}

// CORS returns the middleware answering browser preflight requests for the
// signaling endpoint.
func CORS() echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{corsAllowHeaders},
		AllowMethods: []string{corsAllowMethods},
	})
}

// HandleConnect upgrades the request, registers the connection with the
// relay and starts its read and write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	if !gorillawebsocket.IsWebSocketUpgrade(c.Request()) {
		return c.String(http.StatusBadRequest, "Expected WebSocket connection")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Warn().Err(err).Str("remote_addr", c.RealIP()).Msg("websocket upgrade failed")
		return nil
	}

	conn := NewConnection(uuid.New().String(), c.RealIP(), h.opts.SendBuffer)
	if !h.relay.Register(conn) {
		_ = ws.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, "relay stopped"),
			time.Now().Add(h.opts.WriteWait))
		ws.Close()
		return nil
	}

	go h.writePump(conn, ws)
	go h.readPump(conn, ws)

	return nil
}

// readPump decodes inbound frames and hands them to the relay. It exits on
// the first read error and releases the connection.
func (h *Handler) readPump(conn *Connection, ws Conn) {
	defer func() {
		h.relay.Unregister(conn)
		ws.Close()
	}()

	ws.SetReadLimit(h.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure, gorillawebsocket.CloseNoStatusReceived) {
				h.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("unexpected websocket close")
			}
			return
		}

		env, err := Decode(frame)
		if err != nil {
			h.relay.Metrics().Inc(metrics.DecodeErrors)
			h.logger.Warn().Err(err).
				Str("connection_id", conn.ID).
				Msg("dropping malformed signaling frame")
			continue
		}

		h.relay.Dispatch(conn, env)
	}
}

// writePump drains the connection's outbound queue and keeps the socket
// alive with pings. A closed queue ends the session with a close frame.
func (h *Handler) writePump(conn *Connection, ws Conn) {
	ticker := time.NewTicker(h.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
				h.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
