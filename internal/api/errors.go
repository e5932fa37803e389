package api

import (
	"errors"
	"net/http"

	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/services"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Validation errors are caller-correctable (400), state errors describe
// misuse (404/409/422). Store failures never expose their text.
var errorMappings = []errorMapping{
	{services.ErrInvalidLineItem, http.StatusBadRequest, "invalid_line_item"},
	{services.ErrInvalidInvoice, http.StatusBadRequest, "invalid_invoice"},
	{services.ErrMissingCancellationReason, http.StatusBadRequest, "missing_cancellation_reason"},
	{services.ErrInvalidPaymentAmount, http.StatusBadRequest, "invalid_payment_amount"},
	{services.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found"},
	{services.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{services.ErrInvoiceLocked, http.StatusConflict, "invoice_locked"},
	{services.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
}

// respondError writes the JSON error for err
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{
				"error":   m.code,
				"message": err.Error(),
			})
			return
		}
	}

	log := logger.WithComponent("api")
	log.Error().Err(err).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "the invoice service is temporarily unavailable, please retry",
	})
}

func respondBadRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": "invalid_request", "message": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
