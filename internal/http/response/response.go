package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		_ = c.Error(err)
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError maps a service error to its HTTP status and uses code
// only for the generic fallback.
func RespondServiceError(c *gin.Context, code string, err error) {
	status, mapped := StatusFor(err)
	if mapped != "" {
		code = mapped
	}
	RespondError(c, status, code, err)
}

// StatusFor classifies err by the sentinels and typed errors the services
// return.
func StatusFor(err error) (int, string) {
	var conflict *apperr.ConflictingWriteError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, apperr.ErrConflict), errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrCanceled):
		return http.StatusConflict, "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, ""
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
