// Package attachment contains the HTTP handlers of the attachment API
package attachment

import (
	"errors"
	"net/http"
	"strings"

	"bitwise74/attachment-api/internal/service"
	"bitwise74/attachment-api/internal/storage"
	"bitwise74/attachment-api/pkg/middleware"
	"bitwise74/attachment-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var publicValidationErrors = []error{
	validators.ErrFileTooLarge,
	validators.ErrFileNameTooLong,
	validators.ErrFileNameInvalid,
	validators.ErrFileTypeBlocked,
	validators.ErrNoFile,
}

// abortWithError maps a service error to its status code. Only storage
// failures are logged, their details never reach the client.
func abortWithError(c *gin.Context, err error, msg string) {
	requestID := c.GetString("requestID")

	status := http.StatusInternalServerError
	public := "Internal server error"

	switch {
	case errors.Is(err, service.ErrNotFound):
		status, public = http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrUnauthorized):
		status, public = http.StatusForbidden, "You don't have access to this resource"
	case errors.Is(err, service.ErrUnsupportedContext):
		status, public = http.StatusUnprocessableEntity, "Unsupported context type"
	case errors.Is(err, service.ErrValidationFailed):
		status, public = http.StatusBadRequest, validationMessage(err)
		if errors.Is(err, validators.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
	case middleware.IsBodyTooLarge(err):
		status, public = http.StatusRequestEntityTooLarge, "Request body size exceeds limit"
	}

	if status == http.StatusInternalServerError {
		zap.L().Error(msg, zap.Error(err), zap.String("request_id", requestID))
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":     public,
		"requestID": requestID,
	})
}

func abortBadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":     msg,
		"requestID": c.GetString("requestID"),
	})
}

func validationMessage(err error) string {
	for _, known := range publicValidationErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	// Unsafe path errors carry the resolved path
	if errors.Is(err, storage.ErrUnsafePath) {
		return "invalid identifier"
	}

	return strings.TrimPrefix(err.Error(), service.ErrValidationFailed.Error()+": ")
}
