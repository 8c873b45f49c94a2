package middleware

import (
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger logs one line per HTTP request. Successful WebSocket upgrades are
// logged with status 101 when the handler returns, which is before the
// signaling session ends.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get(requestIDKey).(string)
			upgrade := gorillawebsocket.IsWebSocketUpgrade(req)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			status := c.Response().Status
			if upgrade && err == nil && (status == 0 || status == http.StatusOK) {
				// The hijacked connection never reports back through echo.
				status = http.StatusSwitchingProtocols
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Bool("websocket", upgrade).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
