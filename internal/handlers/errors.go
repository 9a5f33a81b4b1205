package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/pricing"
	"github.com/imrishuroy/photo-orderflow/internal/session"
)

// errorStatus maps engine errors to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrStorage):
		return http.StatusServiceUnavailable, "storage_error"
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrImmutableRecord):
		return http.StatusConflict, "immutable_record"
	case errors.Is(err, orders.ErrSessionFinalized):
		return http.StatusConflict, "session_finalized"
	case errors.Is(err, orders.ErrDuplicateReference):
		return http.StatusConflict, "duplicate_reference"
	case errors.Is(err, orders.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, orders.ErrEmptyOrder):
		return http.StatusUnprocessableEntity, "empty_order"
	case errors.Is(err, orders.ErrInvalidEmail):
		return http.StatusUnprocessableEntity, "invalid_email"
	case errors.Is(err, pricing.ErrUnknownProduct):
		return http.StatusUnprocessableEntity, "unknown_product"
	case errors.Is(err, session.ErrInvalidItem):
		return http.StatusUnprocessableEntity, "invalid_item"
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest, "invalid_session"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	body := gin.H{"error": code}
	if status != http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		body["detail"] = err.Error()
	}
	c.JSON(status, body)
}
