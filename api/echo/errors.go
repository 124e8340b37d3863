package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	serrors "github.com/daylog-io/authd/errors"
)

// errorBody is the uniform error response shape. Data.Code is the stable
// machine-readable kind clients branch on; Message is human-readable only.
type errorBody struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Data    errorData `json:"data"`
}

type errorData struct {
	Code serrors.Code `json:"code"`
}

// ErrorHandler is the echo HTTPErrorHandler for the whole server. Every
// error reaching it maps to a fixed status and code; raw error text from
// lower layers is logged but never surfaced.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var authErr *serrors.Error
	if errors.As(err, &authErr) {
		if cause := authErr.Unwrap(); cause != nil {
			log.Debug().
				Err(cause).
				Str("code", string(authErr.Code)).
				Str("path", c.Request().URL.Path).
				Msg("Request rejected")
		}
		writeError(c, authErr.Status, authErr.Code, authErr.Message)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == http.StatusNotFound {
			writeError(c, http.StatusNotFound, "NotFound", "resource not found")
			return
		}
		writeError(c, httpErr.Code, "RequestError", "request rejected")
		return
	}

	log.Error().
		Err(err).
		Str("path", c.Request().URL.Path).
		Msg("Unhandled error")
	writeError(c, http.StatusInternalServerError, "InternalError", "internal server error")
}

func writeError(c echo.Context, status int, code serrors.Code, message string) {
	err := c.JSON(status, errorBody{
		Status:  "error",
		Message: message,
		Data:    errorData{Code: code},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}
