package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/metrics"
)

// Metrics records request counts, latency and error kinds per route
// template, so ids in paths do not explode label cardinality.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			code := status(c, err)
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(code)).Inc()
			m.HTTPDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			if err != nil {
				m.HTTPErrors.WithLabelValues(string(apperr.KindOf(err))).Inc()
			}
			return err
		}
	}
}
