package http

import (
	"net/http"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var statusByCode = map[string]int{
	domain.CodeRoomFull:          http.StatusConflict,
	domain.CodeRoomClosed:        http.StatusGone,
	domain.CodeForbidden:         http.StatusForbidden,
	domain.CodeNotFound:          http.StatusNotFound,
	domain.CodeInvalidTransition: http.StatusConflict,
	domain.CodeInvalidRoom:       http.StatusBadRequest,
	domain.CodeUnauthenticated:   http.StatusUnauthorized,
	domain.CodeTransportFailure:  http.StatusServiceUnavailable,
	domain.CodeInternal:          http.StatusInternalServerError,
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeServiceError maps err onto the wire envelope. Internal errors keep
// their details in the log only.
func writeServiceError(c *gin.Context, err error) {
	code := domain.Code(err)
	status := statusByCode[code]
	msg := err.Error()
	if code == domain.CodeInternal {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("internal error")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: msg})
}
