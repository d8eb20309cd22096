package api

import (
	"net/http"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidModelType, types.KindInvalidParameters, types.KindDuplicateJob:
		return http.StatusBadRequest
	case types.KindUnknownJob:
		return http.StatusNotFound
	case types.KindJobNotTerminal:
		return http.StatusConflict
	case types.KindWorkerError, types.KindDecodeError:
		return http.StatusBadGateway
	case types.KindTransportFailure:
		return http.StatusGatewayTimeout
	case types.KindRegistryClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"message": err.Error(), "kind": types.KindOf(err)})
}
