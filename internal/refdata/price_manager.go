package refdata

import (
	"sync"

	"github.com/shopspring/decimal"

	"execution-core/pkg/cache"
	"execution-core/pkg/common"
)

// MarkPriceListener receives every accepted mark price update.
type MarkPriceListener func(common.MarkPrice)

// PriceManager keeps the latest mark price per symbol and fans updates out to listeners.
type PriceManager struct {
	cache *cache.PriceCache

	mu        sync.RWMutex
	listeners []MarkPriceListener
}

func NewPriceManager() *PriceManager {
	return &PriceManager{cache: cache.NewPriceCache()}
}

// AddListener registers fn for mark price updates.
func (p *PriceManager) AddListener(fn MarkPriceListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// OnMarkPrice stores the price and notifies listeners.
// Non-positive prices and updates older than the stored one are dropped.
func (p *PriceManager) OnMarkPrice(mp common.MarkPrice) {
	if !mp.Price.IsPositive() {
		log.WithField("symbol", mp.Symbol).Warnf("ignoring non-positive mark price %s", mp.Price)
		return
	}
	if !p.cache.Set(mp.Symbol, mp.Price, mp.EventTime) {
		return
	}

	p.mu.RLock()
	listeners := append([]MarkPriceListener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, fn := range listeners {
		notify(fn, mp)
	}
}

// MarkPrice returns the latest price for symbol.
func (p *PriceManager) MarkPrice(symbol string) (decimal.Decimal, bool) {
	return p.cache.Get(symbol)
}

// Prices returns a copy of all known mark prices.
func (p *PriceManager) Prices() map[string]decimal.Decimal {
	return p.cache.All()
}

func notify(fn MarkPriceListener, mp common.MarkPrice) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("symbol", mp.Symbol).Errorf("mark price listener panicked: %v", r)
		}
	}()
	fn(mp)
}
