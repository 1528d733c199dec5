package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Response converts any error into a status code and response body.
// Internal causes are never exposed.
func Response(err error) (int, Body) {
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Kind == Internal {
			msg = "internal server error"
		}
		return Status(ae.Kind), Body{Kind: ae.Kind, Message: msg}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := KindForStatus(he.Code)
		msg := fmt.Sprintf("%v", he.Message)
		if kind == Internal {
			msg = "internal server error"
		}
		return he.Code, Body{Kind: kind, Message: msg}
	}

	return http.StatusInternalServerError, Body{Kind: Internal, Message: "internal server error"}
}

// HTTPErrorHandler renders errors as {kind, message} and logs internal ones.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Response(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
