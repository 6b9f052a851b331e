// Package reconciliation cross-checks the order manager's per-strategy
// positions against the position ledger.
package reconciliation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/position"
)

var log = logrus.WithField("component", "reconciliation")

// Tolerance is the largest difference treated as equal, matching position rounding.
var Tolerance = decimal.New(1, -7)

// PositionBook is the position ledger.
type PositionBook interface {
	Positions() []position.Position
}

// StrategyBook is the order manager's view of strategy positions.
type StrategyBook interface {
	StrategyPosition(strategyID, symbol string) decimal.Decimal
}

// Report contains reconciliation results.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Checked   int            `json:"checked"`
	Diffs     []PositionDiff `json:"diffs"`
}

// HasDiffs reports whether any position disagreed.
func (r Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// PositionDiff is one (strategy, symbol) that disagrees.
type PositionDiff struct {
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	LedgerQty  decimal.Decimal `json:"ledger_qty"`
	OrderQty   decimal.Decimal `json:"order_qty"`
	Difference decimal.Decimal `json:"difference"`
}

// Service handles periodic reconciliation.
type Service struct {
	ledger   PositionBook
	orders   StrategyBook
	interval time.Duration

	mu   sync.Mutex
	last *Report
	runs uint64
}

func NewService(ledger PositionBook, orders StrategyBook, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{ledger: ledger, orders: orders, interval: interval}
}

// Start begins periodic reconciliation; it returns immediately.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Reconcile()
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Infof("reconciliation started (interval: %v)", s.interval)
}

// Reconcile compares every strategy slot of the ledger with the order manager.
func (s *Service) Reconcile() Report {
	report := Report{Timestamp: time.Now()}
	for _, p := range s.ledger.Positions() {
		if p.StrategyID == "" {
			continue
		}
		report.Checked++
		orderQty := s.orders.StrategyPosition(p.StrategyID, p.Symbol)
		diff := p.Amount.Sub(orderQty)
		if diff.Abs().GreaterThan(Tolerance) {
			report.Diffs = append(report.Diffs, PositionDiff{
				StrategyID: p.StrategyID,
				Symbol:     p.Symbol,
				LedgerQty:  p.Amount,
				OrderQty:   orderQty,
				Difference: diff,
			})
		}
	}
	sort.Slice(report.Diffs, func(i, j int) bool {
		a, b := report.Diffs[i], report.Diffs[j]
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		return a.Symbol < b.Symbol
	})

	for _, d := range report.Diffs {
		log.WithFields(logrus.Fields{"strategy": d.StrategyID, "symbol": d.Symbol}).
			Errorf("position mismatch: ledger=%s orders=%s diff=%s", d.LedgerQty, d.OrderQty, d.Difference)
	}
	if !report.HasDiffs() {
		log.Debugf("reconciliation ok: %d positions", report.Checked)
	}

	s.mu.Lock()
	s.last = &report
	s.runs++
	s.mu.Unlock()
	return report
}

// Last returns the most recent report, if any.
func (s *Service) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Runs counts completed reconciliations.
func (s *Service) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
