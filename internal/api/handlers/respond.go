package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "catalogsync/pkg/errors"
)

// statusFor maps an error kind to the HTTP status the API answers with.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindParse, apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindDuplicateKey, apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindExternalService:
		return http.StatusBadGateway
	case apperrors.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": apperrors.KindOf(err)}

	var validErr *apperrors.ErrValidation
	if errors.As(err, &validErr) && len(validErr.Fields) > 0 {
		body["fields"] = validErr.Fields
	}
	var dupErr *apperrors.ErrDuplicateKey
	if errors.As(err, &dupErr) && dupErr.Field != "" {
		body["field"] = dupErr.Field
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		body["error"] = "internal server error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	respondError(c, &apperrors.ErrValidation{Message: err.Error()})
}

// bindOptionalJSON decodes the body into v when one was sent.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}
