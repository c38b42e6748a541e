// Package orders provides the order status coordination bounded context.
// Status mutations go through a lease-guarded update path with deterministic
// idempotency keys; the client half lives in orders/coordinator.
package orders

import (
	"context"

	"storefront_backend/internal/events"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/handler"
	"storefront_backend/internal/orders/repository"
	"storefront_backend/internal/orders/service"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/validator"
)

// Module is the orders bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the orders module with all its dependencies.
// cache may be nil when Redis is not configured.
func NewModule(store repository.Store, cache service.LeaseCache, bus events.Bus, recorder monitoring.Recorder, cfg config.CoordinationConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(store, cache, bus, recorder, cfg, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "orders"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts order routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

// ReapExpiredLeases implements scheduler.LeaseReaper.
func (m *Module) ReapExpiredLeases(ctx context.Context) (int, error) {
	return m.service.ReapExpiredLeases(ctx)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
