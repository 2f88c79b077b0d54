package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorKind struct {
	target error
	status int
	code   string
}

var errorKinds = []errorKind{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrRoundClosed, http.StatusConflict, "round_closed"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// StatusFor maps a use case error to its HTTP status and code
func StatusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func respondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// storage details stay in the log
		logger.Error(c.Request.Context()).Err(err).Msg("request failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_argument", Message: msg})
}
