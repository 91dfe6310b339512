package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/webill/internal/logging"
	"github.com/septivank/webill/internal/service"
	"go.uber.org/zap"
)

// Response is the envelope of every API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, kind, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			Kind:      kind,
			RequestID: requestID(c),
		},
	})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, "BAD_REQUEST", service.KindValidation.String(), message)
}

// StatusOf maps a failure class to its HTTP status
func StatusOf(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders a core error. Causes of dependency failures stay in the logs.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := StatusOf(kind)
	logger := logging.WithRequestID(h.logger, requestID(c))

	message := "internal error"
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Err.Error()
		if svcErr.Detail != "" {
			message += ": " + svcErr.Detail
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
	} else {
		logger.Info("request rejected", zap.String("code", service.CodeOf(err)), zap.String("message", message))
	}

	fail(c, status, service.CodeOf(err), kind.String(), message)
}
