package middleware

import (
	"time"

	"negotiation-engine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogger logs one structured line per request, tagged with the
// request id set by echo's RequestID middleware.
func RequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			log.Info("Request handled",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"remote_ip", c.RealIP(),
				"latency", time.Since(start).String())
			return nil
		}
	}
}
