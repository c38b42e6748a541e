// Package notification pushes coordination and payment events to connected
// clients. It subscribes to domain events and inverts the dependency: the
// orders and payments modules never know who is listening.
package notification

import (
	"context"
	"net/http"
	"strings"

	"storefront_backend/internal/events"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/notification/sse"
	"storefront_backend/platform/httpkit"
	"storefront_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// Module handles all notification-related event subscriptions.
type Module struct {
	sse *sse.Service
	log *logger.Logger
}

// New creates a new notification module.
func New(log *logger.Logger) *Module {
	return &Module{sse: sse.New(log), log: log}
}

func (m *Module) Name() string { return "notification" }

// SSE exposes the stream service.
func (m *Module) SSE() *sse.Service { return m.sse }

// RegisterRoutes registers notification API routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	notifications := ctx.Protected.Group("/notifications")
	notifications.GET("/stream", m.stream)
}

// stream serves GET /api/v1/notifications/stream?topics=order:<id>,payment:<ref>
// The admin topic is restricted to admins.
func (m *Module) stream(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	topics := sse.ParseTopics(c.Query("topics"))
	if len(topics) == 0 {
		httpkit.Error(c, http.StatusBadRequest, "at least one topic is required", nil)
		return
	}
	for _, t := range topics {
		if !validTopic(t) {
			httpkit.Error(c, http.StatusBadRequest, "unknown topic", t)
			return
		}
		if t == sse.TopicAdmin && !identity.HasRole(httpkit.RoleAdmin) {
			httpkit.Error(c, http.StatusForbidden, "forbidden", nil)
			return
		}
	}
	m.sse.Stream(c, identity.UserID(), topics)
}

func validTopic(t string) bool {
	if t == sse.TopicAdmin {
		return true
	}
	kind, id, ok := strings.Cut(t, ":")
	return ok && id != "" && (kind == "order" || kind == "payment")
}

// RegisterHandlers subscribes the module to the events it forwards.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.OrderStatusChanged{}.EventName(), m)
	bus.Subscribe(events.TargetInvalidated{}.EventName(), m)
	bus.Subscribe(events.PaymentSettled{}.EventName(), m)
	bus.Subscribe(events.AlertFired{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.OrderStatusChanged:
		m.sse.Publish(sse.OrderTopic(e.OrderID.String()), sse.Event{Type: sse.EventOrderStatus, Data: e})
		if e.Bypass {
			m.sse.Publish(sse.TopicAdmin, sse.Event{Type: sse.EventOrderStatus, Message: "status forced by admin", Data: e})
		}
	case events.TargetInvalidated:
		m.handleTargetInvalidated(e)
	case events.PaymentSettled:
		ev := sse.Event{Type: sse.EventPaymentSettled, Data: e}
		m.sse.Publish(sse.PaymentTopic(e.Reference), ev)
		m.sse.Publish(sse.OrderTopic(e.OrderID.String()), ev)
	case events.AlertFired:
		m.sse.Publish(sse.TopicAdmin, sse.Event{Type: sse.EventAlertFired, Message: e.RuleID, Data: e})
		m.log.Warn("monitoring alert fired", "rule", e.RuleID, "severity", e.Severity, "value", e.Value, "threshold", e.Threshold)
	}
	return nil
}

func (m *Module) handleTargetInvalidated(e events.TargetInvalidated) {
	var topic string
	switch e.TargetType {
	case "order":
		topic = sse.OrderTopic(e.TargetID)
	case "payment":
		topic = sse.PaymentTopic(e.TargetID)
	default:
		return
	}
	m.sse.Publish(topic, sse.Event{Type: sse.EventInvalidated, Message: e.Reason, Data: e})
}

// Close disconnects all streams.
func (m *Module) Close() { m.sse.Close() }
