package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"execution-core/internal/order"
	"execution-core/pkg/db"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		return 100
	}
	return n
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"meta":       s.Meta,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"blocked":    s.Risk != nil && s.Risk.IsBlocked(),
		"persisted":  s.DB != nil,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	resp := gin.H{}
	if s.Metrics != nil {
		resp["system"] = s.Metrics.GetSnapshot()
	}
	if s.Store != nil {
		resp["batch_writer"] = s.Store.Metrics()
	}
	if s.Bus != nil {
		resp["bus_dropped"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getQueueSize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queue_size": s.Orders.QueueSize()})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Orders.Stats())
}

type liveOrderView struct {
	Order order.Order      `json:"order"`
	Meta  *order.OrderMeta `json:"meta,omitempty"`
}

func (s *Server) getLiveOrders(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	strategy := c.Query("strategy_id")

	out := make([]liveOrderView, 0)
	for _, o := range s.Orders.LiveOrders() {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if strategy != "" && o.StrategyID != strategy {
			continue
		}
		v := liveOrderView{Order: o}
		if meta, ok := s.Orders.Meta(o.ID); ok {
			v.Meta = &meta
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "count": len(out)})
}

// getOrder prefers the live view and falls back to the journal.
func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")
	if o, ok := s.Orders.Order(id); ok {
		meta, _ := s.Orders.Meta(id)
		c.JSON(http.StatusOK, gin.H{"source": "live", "order": o, "meta": meta})
		return
	}
	if s.DB == nil {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order is not live and persistence is disabled")
		return
	}
	row, err := s.DB.Queries().GetOrder(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": "journal", "order": row})
}

func (s *Server) getPendingStops(c *gin.Context) {
	stops := s.Orders.PendingStops()
	c.JSON(http.StatusOK, gin.H{"stops": stops, "count": len(stops)})
}

func (s *Server) getPositions(c *gin.Context) {
	if s.Positions == nil {
		respondError(c, http.StatusServiceUnavailable, "NOT_READY", "position manager not configured")
		return
	}
	positions := s.Positions.Positions()
	c.JSON(http.StatusOK, gin.H{
		"positions":          positions,
		"unrealised_pnl":     s.Positions.TotalUnrealisedPnL(),
		"maintenance_margin": s.Positions.TotalMaintenanceMargin(),
	})
}

func (s *Server) getDrawdownInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.Risk.GetDrawdownInfo())
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Risk.GetMetrics())
}

func (s *Server) getRiskReport(c *gin.Context) {
	c.String(http.StatusOK, s.Risk.ReportText(s.Meta.Symbols...))
}

func (s *Server) requireDB(c *gin.Context) bool {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "PERSISTENCE_DISABLED", "database not configured")
		return false
	}
	return true
}

func (s *Server) getOrderHistory(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	rows, err := s.DB.Queries().ListOrders(c.Request.Context(), c.Query("strategy_id"), queryLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": rows})
}

func (s *Server) getFillHistory(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	rows, err := s.DB.Queries().ListFills(c.Request.Context(), c.Query("order_id"), queryLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": rows})
}

func (s *Server) getRiskEvents(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	rows, err := s.DB.Queries().ListRiskEvents(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (s *Server) resetDrawdown(c *gin.Context) {
	log.WithField("operator", CurrentOperator(c)).Warn("drawdown reset requested")
	s.Risk.ResetDrawdown()
	c.JSON(http.StatusOK, s.Risk.GetDrawdownInfo())
}

func (s *Server) blockTrading(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "reason is required")
		return
	}
	log.WithField("operator", CurrentOperator(c)).Warnf("manual block: %s", req.Reason)
	s.Risk.Block("manual: " + req.Reason)
	c.JSON(http.StatusOK, s.Risk.GetDrawdownInfo())
}

func (s *Server) clearBlock(c *gin.Context) {
	log.WithField("operator", CurrentOperator(c)).Warn("manual block cleared")
	s.Risk.ClearBlock()
	c.JSON(http.StatusOK, s.Risk.GetDrawdownInfo())
}

func (s *Server) closePosition(c *gin.Context) {
	var req struct {
		StrategyID string          `json:"strategy_id"`
		Symbol     string          `json:"symbol"`
		Price      decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.StrategyID == "" || req.Symbol == "" {
		respondError(c, http.StatusBadRequest, "MISSING_FIELDS", "strategy_id and symbol are required")
		return
	}

	log.WithField("operator", CurrentOperator(c)).Infof("close requested for %s/%s", req.StrategyID, req.Symbol)
	if !s.Orders.SubmitMarketClose(req.StrategyID, req.Symbol, req.Price) {
		respondError(c, http.StatusUnprocessableEntity, "CLOSE_REJECTED", "close order was not accepted; see logs")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "queue_size": s.Orders.QueueSize()})
}

func (s *Server) getStrategies(c *gin.Context) {
	if s.Strategies == nil {
		c.JSON(http.StatusOK, gin.H{"strategies": []any{}, "stats": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": s.Strategies.Strategies(), "stats": s.Strategies.Stats()})
}

func (s *Server) pauseStrategy(c *gin.Context)  { s.toggleStrategy(c, true) }
func (s *Server) resumeStrategy(c *gin.Context) { s.toggleStrategy(c, false) }

func (s *Server) toggleStrategy(c *gin.Context, pause bool) {
	id := c.Param("id")
	ok := false
	if s.Strategies != nil {
		if pause {
			ok = s.Strategies.Pause(id)
		} else {
			ok = s.Strategies.Resume(id)
		}
	}
	if !ok {
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", "strategy not found")
		return
	}
	log.WithField("operator", CurrentOperator(c)).Infof("strategy %s paused=%v", id, pause)
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": pause})
}

func (s *Server) getReconciliation(c *gin.Context) {
	if s.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_DISABLED", "reconciliation not configured")
		return
	}
	report := s.Reconciler.Reconcile()
	c.JSON(http.StatusOK, gin.H{"report": report, "has_diffs": report.HasDiffs(), "runs": s.Reconciler.Runs()})
}
