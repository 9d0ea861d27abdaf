package handler

import (
	"errors"
	"net/http"

	"github.com/eduvox/viva-gateway/internal/response"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/gin-gonic/gin"
)

// classify maps a domain error to its HTTP status and response code. The
// taxonomy is fixed: transport failures resolve to tagged errors, so every
// branch here is an expected shape.
func classify(err error) (int, response.ErrCode) {
	var (
		validationErr  *viva.ValidationError
		invalidState   *viva.InvalidStateError
		backendErr     *viva.BackendError
		unavailableErr *viva.BackendUnavailableError
		connectionErr  *viva.ConnectionError
		mediaErr       *viva.MediaError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, response.ErrValidation
	case errors.As(err, &invalidState):
		return http.StatusConflict, response.ErrInvalidState
	case errors.As(err, &unavailableErr):
		return http.StatusServiceUnavailable, response.ErrBackendUnavailable
	case errors.As(err, &backendErr):
		return http.StatusBadGateway, response.ErrBackend
	case errors.As(err, &connectionErr):
		return http.StatusBadGateway, response.ErrConnection
	case errors.As(err, &mediaErr):
		return http.StatusConflict, response.ErrMedia
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromErr writes the standard error envelope for a domain error.
func failFromErr(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		response.Fail(c, status, code)
		return
	}
	response.FailWithMessage(c, status, code, err.Error())
}
