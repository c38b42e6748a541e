// Package payments provides the payment initiation and verification module.
// It issues server references, answers verification polls, streams status
// pushes and applies signed gateway callbacks.
package payments

import (
	"context"

	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/payments/handler"
	"storefront_backend/internal/payments/service"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/validator"
)

// Module is the payments bounded context module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the payments module.
func NewModule(deps service.Deps, cfg config.PaymentConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(deps, cfg, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "payments"
}

// Service returns the payments service for use by the scheduler.
func (m *Module) Service() *service.Service {
	return m.service
}

// ExpireIfPending fails a session that outlived its TTL.
func (m *Module) ExpireIfPending(ctx context.Context, reference string) error {
	return m.service.ExpireIfPending(ctx, reference)
}

// RegisterRoutes registers the payments routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	payments := ctx.Protected.Group("/payments")
	payments.POST("", m.handler.Initiate)
	payments.GET("/:ref/verify", m.handler.Verify)
	payments.GET("/:ref/events", m.handler.Events)

	callbacks := ctx.Public.Group("/payments")
	callbacks.Use(ctx.CallbackRateLimiter.RateLimit())
	callbacks.POST("/callback", m.handler.Callback)
}

var _ apphttp.Module = (*Module)(nil)
