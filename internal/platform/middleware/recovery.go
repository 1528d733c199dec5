package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// Recovery turns a handler panic into an Internal error and logs it with the
// route and the caller. http.ErrAbortHandler is passed on to net/http.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if perr, ok := r.(error); ok && errors.Is(perr, http.ErrAbortHandler) {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				uid, _ := c.Get("user_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("user_id", uid).
					Str("method", c.Request().Method).
					Str("route", c.Path())
				if perr, ok := r.(error); ok {
					evt = evt.Err(perr)
				} else {
					evt = evt.Interface("panic", r)
				}
				evt.Bytes("stack", debug.Stack()).Msg("panic recovered")

				err = apperr.New(apperr.Internal, "internal server error")
			}()
			return next(c)
		}
	}
}
