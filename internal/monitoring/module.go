package monitoring

import (
	apphttp "storefront_backend/internal/http"
	"storefront_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Module exposes the aggregator over HTTP and implements http.Module.
type Module struct {
	agg      *Aggregator
	gatherer prometheus.Gatherer
}

// NewModule creates the monitoring module.
func NewModule(agg *Aggregator, gatherer prometheus.Gatherer) *Module {
	return &Module{agg: agg, gatherer: gatherer}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "monitoring"
}

// Aggregator returns the shared aggregator.
func (m *Module) Aggregator() *Aggregator {
	return m.agg
}

// RegisterRoutes mounts /metrics and the admin monitoring endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})))

	admin := ctx.Admin.Group("/monitoring")
	admin.GET("/snapshot", m.getSnapshot)
	admin.GET("/alerts", m.getAlerts)
}

// GET /api/v1/admin/monitoring/snapshot
func (m *Module) getSnapshot(c *gin.Context) {
	httpkit.OK(c, m.agg.Snapshot())
}

// GET /api/v1/admin/monitoring/alerts
func (m *Module) getAlerts(c *gin.Context) {
	httpkit.OK(c, gin.H{"alerts": m.agg.Evaluate(c.Request.Context())})
}

var _ apphttp.Module = (*Module)(nil)
