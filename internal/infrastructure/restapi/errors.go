package restapi

import (
	"errors"
	"net/http"

	"wallet_session/internal/domain/entity"

	"github.com/gin-gonic/gin"
)

// APIError is the error body of every failed request.
type APIError struct {
	Kind    entity.ErrorKind `json:"kind,omitempty"`
	Message string           `json:"message"`
}

// statusFor maps session error kinds to HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, entity.ErrUnknownContract) {
		return http.StatusNotFound
	}
	switch entity.KindOf(err) {
	case entity.KindNoProviderDetected:
		return http.StatusNotFound
	case entity.KindUserRejected:
		return http.StatusForbidden
	case entity.KindChainSetupFailed:
		return http.StatusConflict
	case entity.KindNoAccountsReturned:
		return http.StatusFailedDependency
	case entity.KindDecodeError:
		return http.StatusUnprocessableEntity
	case entity.KindTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toAPIError(err error) APIError {
	var se *entity.SessionError
	if errors.As(err, &se) {
		return APIError{Kind: se.Kind, Message: se.Message}
	}
	return APIError{Message: err.Error()}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": toAPIError(err)})
}

func abortBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": APIError{Message: message}})
}
