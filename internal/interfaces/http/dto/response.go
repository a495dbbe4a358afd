// Package dto holds devicecore's local HTTP wire shapes, grounded on the
// teacher's internal/application/dto.APIResponse envelope, trimmed from
// pagination/validation-error support to the plain success/error shape
// the four local pairing endpoints need.
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgeweave/devicecore/pkg/errors"
)

// Envelope wraps every local HTTP response in a consistent shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the wire-visible error kind and a human message.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SendSuccess writes data wrapped in a successful Envelope.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// SendError writes err as a failed Envelope, mapping its Kind to an HTTP
// status the way the teacher's error middleware maps AppError.Code.
func SendError(c *gin.Context, err error) {
	kind := errors.Kind("invalidParams")
	msg := err.Error()
	if ae, ok := err.(*errors.Error); ok {
		kind = ae.Kind()
	}
	c.JSON(statusFor(kind), Envelope{Error: &ErrorBody{Kind: string(kind), Message: msg}})
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.InvalidParams, errors.InvalidFormat, errors.InvalidCommandName,
		errors.InvalidPropValue, errors.TypeMismatch, errors.PropertyMissing:
		return http.StatusBadRequest
	case errors.UnknownSession, errors.ComponentNotFound:
		return http.StatusNotFound
	case errors.CommitmentMismatch, errors.InvalidAuthCode, errors.AccessDenied, errors.InvalidGrant:
		return http.StatusUnauthorized
	case errors.DeviceBusy, errors.InvalidState, errors.AlreadyRegistered, errors.AlreadyExpired:
		return http.StatusConflict
	case errors.TraitNotSupported:
		return http.StatusNotImplemented
	case errors.NetworkError, errors.UnableToAuthenticate:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
