package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/autoflow/pkg/schema"
)

// errorBody is the JSON envelope of every error response.
type errorBody struct {
	Error *schema.AutoflowError `json:"error"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeCompile,
		schema.ErrCodeUnsupportedOperand, schema.ErrCodeActionUnavailable:
		return http.StatusBadRequest
	case schema.ErrCodePrecondition, schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var afErr *schema.AutoflowError
	var httpErr *echo.HTTPError
	status := http.StatusInternalServerError
	body := errorBody{}

	switch {
	case errors.As(err, &afErr):
		status = StatusFor(afErr.Code)
		body.Error = afErr
	case errors.As(err, &httpErr):
		status = httpErr.Code
		code := schema.ErrCodeExecution
		switch {
		case status == http.StatusNotFound:
			code = schema.ErrCodeNotFound
		case status < http.StatusInternalServerError:
			code = schema.ErrCodeValidation
		}
		body.Error = schema.NewErrorf(code, "%v", httpErr.Message)
	default:
		body.Error = schema.NewError(schema.ErrCodeExecution, err.Error())
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "write error response", "error", err)
	}
}
