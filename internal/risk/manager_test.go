package risk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/position"
	"execution-core/pkg/common"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// permissive leaves every limit open except the ones a test sets.
func permissive() Config {
	return Config{
		MaxDrawdown:      decimal.Zero,
		MinOrderSize:     decimal.Zero,
		MaxOrderValue:    dec("1000000000000"),
		MaxPositionValue: dec("1000000000000"),
		MaxLeverage:      dec("1000"),
		MaxOpenOrders:    1000000000,
		MaxLossPerDay:    dec("1"),
		MaxVaRRatio:      dec("1"),
	}
}

func newRM(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := permissive()
	if mutate != nil {
		mutate(&cfg)
	}
	rm := NewInMemory(cfg, nil)
	rm.SetAUM(dec("1000000"))
	return rm
}

func order(symbol string, side common.Side, qty, price string) Order {
	o := Order{Symbol: symbol, Side: side, Type: common.OrderTypeMarket, Quantity: dec(qty)}
	if price != "" {
		o.Price = dec(price)
	}
	return o
}

func TestValidatePreorder(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MinOrderSize = dec("5") })
	tests := []struct {
		name string
		o    Order
		want error
	}{
		{"missing symbol", order("", common.SideBuy, "10", "1"), ErrInvalidOrder},
		{"zero qty", order("BTCUSDC", common.SideBuy, "0", "1"), ErrInvalidOrder},
		{"below min", order("BTCUSDC", common.SideBuy, "4", "1"), ErrBelowMinSize},
		{"negative qty uses abs", order("BTCUSDC", common.SideBuy, "-4", "1"), ErrBelowMinSize},
		{"negative qty at min", order("BTCUSDC", common.SideBuy, "-5", "1"), nil},
		{"ok", order("BTCUSDC", common.SideBuy, "5", "1"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rm.ValidatePreorder(tt.o)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, expected %v", err, tt.want)
			}
		})
	}
}

func TestDrawdownRunningMax(t *testing.T) {
	rm := NewInMemory(permissive(), nil)
	rm.OnWalletBalanceUpdate(dec("1000"))
	rm.SetAUM(dec("900"))
	rm.SetAUM(dec("950"))

	info := rm.GetDrawdownInfo()
	assert.True(t, info.CurrentDrawdown.Equal(dec("0.1")), "ratio keeps the worst point, got %s", info.CurrentDrawdown)
	assert.True(t, info.PeakAUM.Equal(dec("1000")))
	assert.True(t, info.InitialAUM.Equal(dec("1000")))

	rm.SetAUM(dec("1100"))
	info = rm.GetDrawdownInfo()
	assert.True(t, info.CurrentDrawdown.IsZero(), "new peak resets the episode")
	assert.True(t, info.PeakAUM.Equal(dec("1100")))
	assert.True(t, info.InitialAUM.Equal(dec("1000")), "initial AUM never changes")
	assert.True(t, info.LifetimePnLRatio.Equal(dec("0.1")))
}

func TestDrawdownBlocksUntilReset(t *testing.T) {
	bus := events.NewBus()
	blocked, unsub := bus.Subscribe(events.EventRiskBlocked, 16)
	defer unsub()

	cfg := permissive()
	cfg.MaxDrawdown = dec("0.2")
	rm := NewInMemory(cfg, bus)
	rm.OnWalletBalanceUpdate(dec("1000"))
	rm.OnMarkPriceUpdate("BTCUSDC", dec("100"))
	ok := order("BTCUSDC", common.SideBuy, "1", "100")
	require.NoError(t, rm.ValidateOrder(ok))

	rm.OnWalletBalanceUpdate(dec("700"))
	err := rm.ValidateOrder(ok)
	require.ErrorIs(t, err, ErrDrawdown)
	assert.Equal(t, "max drawdown exceeded: 0.3000 > 0.2", err.Error())
	require.True(t, rm.IsBlocked())

	// Recovery does not lift the latch.
	rm.OnWalletBalanceUpdate(dec("990"))
	for _, o := range []Order{ok, order("ETHUSDC", common.SideSell, "3", "50")} {
		assert.ErrorIs(t, rm.ValidateOrder(o), ErrTradingBlocked)
	}
	assert.Len(t, blocked, 3, "every blocked validation republishes the event")

	info := rm.GetDrawdownInfo()
	assert.Equal(t, StateBlocked, info.State)
	assert.Contains(t, info.BlockReason, "drawdown")

	rm.ResetDrawdown()
	assert.False(t, rm.IsBlocked())
	assert.NoError(t, rm.ValidateOrder(ok))
	info = rm.GetDrawdownInfo()
	assert.True(t, info.PeakAUM.Equal(dec("990")))
	assert.True(t, info.CurrentDrawdown.IsZero())
}

func TestWalletBalanceIncludesUnrealisedPnL(t *testing.T) {
	cfg := permissive()
	cfg.MaxDrawdown = dec("0.1")
	rm := NewInMemory(cfg, nil)

	rm.OnUnrealisedPnLUpdate(dec("200"))
	rm.OnWalletBalanceUpdate(dec("1000"))
	info := rm.GetDrawdownInfo()
	assert.True(t, info.WalletBalance.Equal(dec("1000")))
	assert.True(t, info.AUM.Equal(dec("1200")), "aum %s", info.AUM)

	// an unrealised update alone does not move AUM
	rm.OnUnrealisedPnLUpdate(dec("-500"))
	assert.True(t, rm.GetDrawdownInfo().AUM.Equal(dec("1200")))
	rm.OnWalletBalanceUpdate(dec("1000"))
	info = rm.GetDrawdownInfo()
	assert.True(t, info.AUM.Equal(dec("500")))
	assert.Equal(t, "0.5833", info.CurrentDrawdown.StringFixed(4))
}

func TestResetDrawdownKeepsOtherBlocks(t *testing.T) {
	rm := newRM(t, nil)
	rm.Block("manual kill switch")
	rm.ResetDrawdown()
	assert.True(t, rm.IsBlocked())
	assert.ErrorIs(t, rm.ValidateOrder(order("BTCUSDC", common.SideBuy, "1", "1")), ErrTradingBlocked)

	rm.ClearBlock()
	assert.False(t, rm.IsBlocked())
}

func TestWhitelist(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.AllowedSymbols = []string{"BTCUSDC"} })
	rm.OnMarkPriceUpdate("ETHUSDC", dec("2000"))
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "2", "2000")), ErrSymbolNotAllowed)
	assert.NoError(t, rm.ValidateOrder(order("BTCUSDC", common.SideBuy, "2", "30000")))

	rm.AddSymbol("ETHUSDC", SymbolOptions{})
	assert.NoError(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "2", "2000")))
	rm.RemoveSymbol("ETHUSDC")
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "2", "2000")), ErrSymbolNotAllowed)
}

func TestPerSymbolMinOrderSize(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MinOrderSize = dec("1") })
	rm.AddSymbol("ETHUSDC", SymbolOptions{MinOrderSize: decimal.NewNullDecimal(dec("7"))})
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "6", "100")), ErrBelowMinSize)
	assert.NoError(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "7", "100")))
}

func TestPriceResolution(t *testing.T) {
	rm := newRM(t, nil)
	noPrice := order("BTCUSDC", common.SideBuy, "1", "")
	assert.ErrorIs(t, rm.ValidateOrder(noPrice), ErrNoPrice)
	rm.OnMarkPriceUpdate("BTCUSDC", dec("35000"))
	assert.NoError(t, rm.ValidateOrder(noPrice))

	zero := order("BTCUSDC", common.SideBuy, "1", "0")
	assert.NoError(t, rm.ValidateOrder(zero), "zero price falls back to mark")

	rm.SetPriceProvider(func(string) (decimal.Decimal, error) { return decimal.Zero, errors.New("provider down") })
	assert.NoError(t, rm.ValidateOrder(noPrice), "provider error falls back to cache")

	rm.SetPriceProvider(func(string) (decimal.Decimal, error) { return decimal.Zero, nil })
	assert.ErrorIs(t, rm.ValidateOrder(noPrice), ErrNoPrice, "provider without price short-circuits")

	rm.SetPriceProvider(nil)
	assert.NoError(t, rm.ValidateOrder(noPrice))
}

func TestValueAndLeverageCaps(t *testing.T) {
	rm := newRM(t, func(c *Config) {
		c.MaxOrderValue = dec("1000")
	})
	assert.ErrorIs(t, rm.ValidateOrder(order("BTCUSDC", common.SideBuy, "20", "100")), ErrOrderValue)
	assert.NoError(t, rm.ValidateOrder(order("BTCUSDC", common.SideBuy, "5", "100")))

	rm = newRM(t, func(c *Config) {
		c.MaxPositionValue = dec("1000")
		c.MaxLeverage = dec("0.5")
	})
	rm.OnWalletBalanceUpdate(dec("1000"))
	rm.OnMarkPriceUpdate("ETHUSDC", dec("100"))
	rm.OnPositionAmountUpdate("ETHUSDC", dec("5"))

	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "6", "100")), ErrPositionValue)
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "4", "100")), ErrLeverage)
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "1", "100")), ErrLeverage)

	cfg := rm.GetConfig()
	cfg.MaxLeverage = dec("1")
	rm.UpdateConfig(cfg)
	assert.NoError(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "1", "100")))
}

func TestReducingOrderBypassesCaps(t *testing.T) {
	rm := newRM(t, func(c *Config) {
		c.MaxPositionValue = dec("600")
		c.MaxLeverage = dec("10")
	})
	rm.OnMarkPriceUpdate("ETHUSDC", dec("100"))
	rm.OnPositionAmountUpdate("ETHUSDC", dec("10"))
	assert.NoError(t, rm.ValidateOrder(order("ETHUSDC", common.SideSell, "5", "100")))
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideSell, "25", "100")), ErrPositionValue, "flip beyond cap")
}

func TestZeroAUMSkipsLeverage(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxLeverage = dec("0.01") })
	rm.SetAUM(decimal.Zero)
	assert.NoError(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "100", "100")))
}

func TestOpenOrders(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxOpenOrders = 2 })
	rm.OnOpenOrdersUpdate("XRPUSDC", 2)
	o := order("XRPUSDC", common.SideBuy, "1", "1")
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrOpenOrders)
	rm.OnOpenOrdersUpdate("XRPUSDC", 1)
	assert.NoError(t, rm.ValidateOrder(o))
}

func TestOpenOrdersFromPositionSource(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxOpenOrders = 2 })
	pm := position.NewManager(nil, nil, nil)
	pm.SetOpenOrders("LTCUSDC", "", 2)
	rm.SetPositionSource(pm)

	o := order("LTCUSDC", common.SideBuy, "1", "10")
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrOpenOrders)
	pm.SetOpenOrders("LTCUSDC", "", 1)
	assert.NoError(t, rm.ValidateOrder(o))
}

func TestDailyLoss(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxLossPerDay = dec("0.10") })
	rm.OnWalletBalanceUpdate(dec("1000"))
	o := order("BTCUSDC", common.SideBuy, "1", "100")

	rm.UpdateDailyLoss(dec("-100"), "BTCUSDC")
	assert.NoError(t, rm.ValidateOrder(o), "loss at threshold is allowed")

	rm.UpdateDailyLoss(dec("-100"), "BTCUSDC")
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrDailyLoss)
	assert.ErrorIs(t, rm.ValidateOrder(order("ETHUSDC", common.SideBuy, "1", "100")), ErrDailyLoss, "global bucket")

	rm.UpdateDailyLoss(dec("5"), "ETHUSDC")
	assert.True(t, rm.DailyLoss(GlobalBucket).Equal(dec("-195")))

	rm.ResetDailyLoss()
	assert.True(t, rm.DailyLoss("BTCUSDC").IsZero())
	assert.True(t, rm.DailyLoss(GlobalBucket).IsZero())
	assert.NoError(t, rm.ValidateOrder(o))
}

func TestVaR(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxVaRRatio = dec("0.15") })
	o := order("ETHUSDC", common.SideBuy, "1", "100")

	rm.SetSymbolVaR("ETHUSDC", dec("200"), dec("1000"))
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrVaR)
	rm.SetSymbolVaR("ETHUSDC", dec("150"), dec("1000"))
	assert.NoError(t, rm.ValidateOrder(o), "ratio at threshold is allowed")

	rm.SetVaR(dec("300"), dec("1000"))
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrVaR)
	assert.True(t, rm.VaR().Equal(dec("300")))
}

func TestVaRAssessment(t *testing.T) {
	rm := newRM(t, nil)
	assert.True(t, rm.VaRAssessment("BTCUSDC").Equal(dec("1")))
	rm.SetSymbolVaR("BTCUSDC", dec("90"), dec("100"))
	assert.True(t, rm.VaRAssessment("BTCUSDC").IsZero())
	rm.SetSymbolVaR("BTCUSDC", dec("60"), dec("100"))
	assert.True(t, rm.VaRAssessment("BTCUSDC").Equal(dec("0.5")))
	rm.SetSymbolVaR("BTCUSDC", dec("40"), dec("100"))
	assert.True(t, rm.VaRAssessment("BTCUSDC").Equal(dec("1")))
}

func TestOrderRateLimit(t *testing.T) {
	rm := newRM(t, func(c *Config) {
		c.OrderRateLimit = 0.001
		c.OrderRateBurst = 2
	})
	o := order("BTCUSDC", common.SideBuy, "1", "1")
	assert.NoError(t, rm.ValidateOrder(o))
	assert.NoError(t, rm.ValidateOrder(o))
	assert.ErrorIs(t, rm.ValidateOrder(o), ErrRateLimited)

	m := rm.GetMetrics()
	assert.EqualValues(t, 3, m.ChecksTotal)
	assert.EqualValues(t, 1, m.RejectionsTotal)
}

func TestMissingSideTreatedAsBuy(t *testing.T) {
	rm := newRM(t, func(c *Config) { c.MaxPositionValue = dec("5") })
	rm.OnPositionAmountUpdate("SOLUSDC", dec("-1"))
	o := order("SOLUSDC", "", "1", "10")
	assert.NoError(t, rm.ValidateOrder(o), "buy against a short reduces")
}

func TestReportText(t *testing.T) {
	rm := newRM(t, nil)
	rm.AddSymbol("BTCUSDC", SymbolOptions{})
	rm.OnPositionAmountUpdate("BTCUSDC", dec("2"))
	rm.OnMarkPriceUpdate("BTCUSDC", dec("30000"))
	rm.SetVaR(dec("200"), dec("1000"))

	text := rm.ReportText()
	assert.Contains(t, text, "[BTCUSDC]")
	assert.Contains(t, text, "qty=2")
	assert.Contains(t, text, "price=30000")
	assert.Contains(t, text, "Global VaR=200, PV=1000, Ratio=0.2000")
}

func TestPeriodicReports(t *testing.T) {
	rm := newRM(t, nil)
	path := filepath.Join(t.TempDir(), "risk", "report.log")
	require.NoError(t, rm.StartPeriodicReports(context.Background(), path, 10*time.Millisecond))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(b), "Risk report")
	}, time.Second, 10*time.Millisecond)

	rm.StopPeriodicReports()
	rm.StopPeriodicReports()
}
