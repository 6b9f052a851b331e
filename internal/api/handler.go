// Package api is the HTTP/websocket ops surface of the execution core.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/position"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/internal/strategy"
	"execution-core/pkg/db"
)

var log = logrus.WithField("component", "api")

// Server wires HTTP endpoints around the managers and the event bus.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Store      *persistence.Store
	Orders     *order.Manager
	Risk       *risk.Manager
	Positions  *position.Manager
	Strategies *strategy.Runner
	Reconciler *reconciliation.Service
	Metrics    *monitor.SystemMetrics
	JWTSecret  string
	Meta       SystemMeta

	started time.Time
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	Paper       bool     `json:"paper"`
	Symbols     []string `json:"symbols"`
	UseMockFeed bool     `json:"use_mock_feed"`
	Version     string   `json:"version"`
}

// Options tune the middleware stack.
type Options struct {
	RateLimit float64 // requests per second per client IP
	RateBurst int
}

// NewServer builds the router. DB and Store may be nil when persistence is off,
// Strategies when no strategy is configured.
func NewServer(s *Server, opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                                       // Panic recovery (first)
	r.Use(RequestIDMiddleware())                                // Request ID tracking
	r.Use(RequestLogger(s.Metrics))                             // Request logging (after ID is set)
	r.Use(newIPLimiter(opts.RateLimit, opts.RateBurst).Handler) // Rate limiting
	r.Use(CORSMiddleware())                                     // CORS (last before routes)

	s.Router = r
	s.started = time.Now()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/queue", s.getQueueSize)
		api.GET("/stats", s.getStats)
		api.GET("/orders", s.getLiveOrders)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/stops", s.getPendingStops)
		api.GET("/positions", s.getPositions)
		api.GET("/risk/drawdown", s.getDrawdownInfo)
		api.GET("/risk/metrics", s.getRiskMetrics)
		api.GET("/risk/report", s.getRiskReport)
		api.GET("/strategies", s.getStrategies)
		api.GET("/reconciliation", s.getReconciliation)

		history := api.Group("/history")
		{
			history.GET("/orders", s.getOrderHistory)
			history.GET("/fills", s.getFillHistory)
			history.GET("/risk-events", s.getRiskEvents)
		}

		// Operator actions
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/risk/reset-drawdown", s.resetDrawdown)
			protected.POST("/risk/block", s.blockTrading)
			protected.POST("/risk/clear", s.clearBlock)
			protected.POST("/orders/close", s.closePosition)
			protected.POST("/strategies/:id/pause", s.pauseStrategy)
			protected.POST("/strategies/:id/resume", s.resumeStrategy)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	if s.Orders == nil || !s.Orders.Stats().Running {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "order_worker": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "order_worker": true})
}
