package position

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/margin"
	"execution-core/pkg/common"
)

type memStore struct {
	mu    sync.Mutex
	saved []Position
}

func (s *memStore) SavePosition(p Position) {
	s.mu.Lock()
	s.saved = append(s.saved, p)
	s.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	mm := margin.NewManager()
	mm.UpdateMargin(margin.Response{Symbol: "ETHUSDT", Brackets: []margin.Bracket{
		{Bracket: 1, NotionalFloor: dec("0"), NotionalCap: dec("100000"), MaintMarginRatio: dec("0.005"), Cum: dec("0")},
	}})
	store := &memStore{}
	return NewManager(mm, NewFeeSchedule(Fees{}), store), store
}

func fill(strategy string, side common.Side, qty, price string) Fill {
	return Fill{Symbol: "ETHUSDT", StrategyID: strategy, Side: side, Qty: dec(qty), Price: dec(price), IsTaker: true}
}

func TestStrategiesAreIsolated(t *testing.T) {
	m, store := newTestManager(t)
	m.OnFill(fill("StratA", common.SideBuy, "1", "2000"))
	m.OnFill(fill("StratB", common.SideSell, "0.5", "2100"))

	a, ok := m.Position("ETHUSDT", "StratA")
	require.True(t, ok)
	assertDec(t, "1", a.Amount, "A")
	b, _ := m.Position("ETHUSDT", "StratB")
	assertDec(t, "-0.5", b.Amount, "B")

	agg, ok := m.AggregatePosition("ETHUSDT")
	require.True(t, ok)
	assertDec(t, "0.5", agg.Amount, "aggregate")

	acct, _ := m.Position("ETHUSDT", "")
	assertDec(t, "0.5", acct.Amount, "account")
	assert.Len(t, store.saved, 4)
}

func TestRealizedListenerPerKey(t *testing.T) {
	m, _ := newTestManager(t)
	var events []RealizedPnL
	m.AddRealizedPnLListener(func(ev RealizedPnL) { panic("faulty listener") })
	m.AddRealizedPnLListener(func(ev RealizedPnL) { events = append(events, ev) })

	m.OnFill(fill("StratA", common.SideBuy, "1", "2000"))
	m.OnFill(fill("StratA", common.SideSell, "1", "2100"))

	require.Len(t, events, 2)
	for _, ev := range events {
		assertDec(t, "100", ev.Net, "net")
	}
	a, _ := m.Position("ETHUSDT", "StratA")
	assert.True(t, a.IsFlat())
}

func TestMarkPriceRevalues(t *testing.T) {
	m, _ := newTestManager(t)
	var upnl, mm decimal.Decimal
	m.AddUnrealisedPnLListener(func(v decimal.Decimal) { upnl = v })
	m.AddMaintenanceMarginListener(func(v decimal.Decimal) { mm = v })

	m.OnFill(fill("StratA", common.SideBuy, "2", "2000"))
	m.OnMarkPrice(common.MarkPrice{Symbol: "ETHUSDT", Price: dec("2100")})

	a, _ := m.Position("ETHUSDT", "StratA")
	assertDec(t, "200", a.UnrealisedPnL, "strategy upnl")
	assertDec(t, "21", a.MaintenanceMargin, "strategy mm")
	assertDec(t, "200", upnl, "account upnl total")
	assertDec(t, "21", mm, "account mm total")
	assertDec(t, "200", m.TotalUnrealisedPnL(), "total")
}

func TestMarkPriceWithoutBracketSkipsMargin(t *testing.T) {
	m := NewManager(margin.NewManager(), nil, nil)
	m.OnFill(Fill{Symbol: "BTCUSDT", Side: common.SideBuy, Qty: dec("1"), Price: dec("100")})
	m.OnMarkPrice(common.MarkPrice{Symbol: "BTCUSDT", Price: dec("110")})

	p, _ := m.Position("BTCUSDT", "")
	assert.True(t, p.MaintenanceMargin.IsZero())
	assertDec(t, "10", p.UnrealisedPnL, "upnl still updated")
}

func TestInitialPositionsAndReset(t *testing.T) {
	m, _ := newTestManager(t)
	m.InitialPositions([]ExchangePosition{{Symbol: "ETHUSDT", Amount: dec("3"), EntryPrice: dec("1500")}})
	assertDec(t, "3", m.PositionAmount("ETHUSDT", ""), "seeded")

	m.OnFill(fill("", common.SideSell, "3", "1600"))
	require.True(t, m.ResetPosition("ETHUSDT", ""))
	p, _ := m.Position("ETHUSDT", "")
	assert.True(t, p.EntryPrice.IsZero())
	assertDec(t, "300", p.NetRealizedPnL, "realized kept")
	assert.False(t, m.ResetPosition("ETHUSDT", "nobody"))
}

func TestConcurrentFillsSerialised(t *testing.T) {
	m, _ := newTestManager(t)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnFill(fill("StratA", common.SideBuy, "0.01", "2000"))
		}()
	}
	wg.Wait()
	assertDec(t, "1", m.PositionAmount("ETHUSDT", "StratA"), "no lost updates")
	a, _ := m.Position("ETHUSDT", "StratA")
	assertDec(t, "2000", a.EntryPrice, "entry")
}
