package http

import (
	"net/http"
	"time"

	"github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/astro-web3/records-gateway/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every response the gateway itself rejects.
type ErrorResponse struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor is the single place rejection kinds become HTTP statuses.
func StatusFor(kind gate.Kind) int {
	switch kind {
	case gate.KindMissingAuthorizationHeader:
		return http.StatusBadRequest
	case gate.KindInvalidToken, gate.KindLoggedOutToken, gate.KindMissingRoles:
		return http.StatusUnauthorized
	case gate.KindTokenNotFound:
		return http.StatusNotFound
	case gate.KindInsufficientRoles:
		return http.StatusForbidden
	case gate.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError maps err to a status and writes the error body. Errors that
// are not gate rejections become 500 with a generic message.
func abortWithError(c *gin.Context, err error) {
	kind, ok := gate.KindOf(err)
	if !ok {
		abortWithStatus(c, http.StatusInternalServerError, "", "internal server error")
		return
	}
	abortWithStatus(c, StatusFor(kind), kind.String(), kind.Message())
}

func abortWithStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		Path:      c.Request.URL.Path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: logger.RequestID(c.Request.Context()),
	})
}
