package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront_backend/internal/payments/gateway"
	"storefront_backend/internal/payments/service"
	"storefront_backend/internal/payments/transport"
	"storefront_backend/platform/httpkit"
	"storefront_backend/platform/validator"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgBodyTooLarge     = "callback body too large"

	maxCallbackBytes = 64 << 10
	eventStatus      = "payment_status"
)

// New creates a new payments handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Initiate opens a checkout session.
// POST /api/v1/payments
func (h *Handler) Initiate(c *gin.Context) {
	var req transport.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if httpkit.MustGetIdentity(c) == nil {
		return
	}

	result, err := h.svc.Initiate(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// Verify reports the status of a reference.
// GET /api/v1/payments/:ref/verify
func (h *Handler) Verify(c *gin.Context) {
	if httpkit.MustGetIdentity(c) == nil {
		return
	}
	result, err := h.svc.Verify(c.Request.Context(), c.Param("ref"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Events streams status changes of a reference as Server-Sent Events.
// GET /api/v1/payments/:ref/events
func (h *Handler) Events(c *gin.Context) {
	if httpkit.MustGetIdentity(c) == nil {
		return
	}
	stream, err := h.svc.Watch(c.Request.Context(), c.Param("ref"))
	if httpkit.HandleError(c, err) {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream
		if !ok {
			return false
		}
		c.SSEvent(eventStatus, ev)
		return true
	})
}

// Callback applies an outcome reported by the payment provider.
// POST /api/v1/public/payments/callback
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes+1))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if len(body) > maxCallbackBytes {
		httpkit.Error(c, http.StatusRequestEntityTooLarge, msgBodyTooLarge, nil)
		return
	}

	err = h.svc.HandleCallback(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}
