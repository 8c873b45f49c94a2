package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the echo context key holding the request id.
const requestIDKey = "request_id"

const maxRequestIDLength = 128

// RequestID propagates a caller supplied X-Request-ID or assigns a new UUID,
// echoing it on the response and storing it under "request_id".
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" || len(rid) > maxRequestIDLength {
				rid = uuid.New().String()
			}

			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)

			return next(c)
		}
	}
}
