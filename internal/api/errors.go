package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/apperr"

	"github.com/gin-gonic/gin"
)

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders a service error. Internal causes never reach the client.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := "internal server error"

	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind != apperr.KindInternal {
		message = appErr.Message
	}

	c.AbortWithStatusJSON(statusFor(kind), errorBody(string(kind), message))
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.InvalidArgument("%s", message))
}
