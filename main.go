package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/api"
	"execution-core/internal/events"
	"execution-core/internal/indicators"
	"execution-core/internal/margin"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/position"
	"execution-core/internal/reconciliation"
	"execution-core/internal/refdata"
	"execution-core/internal/risk"
	"execution-core/internal/strategy"
	"execution-core/pkg/common"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/decimalx"
)

const version = "0.3.0"

var log = logrus.WithField("component", "main")

// account folds realized and unrealised PnL into the wallet feed seen by risk.
// The wallet is pushed only from the unrealised totals, which the position
// manager publishes after a fill has been applied to every slot.
type account struct {
	mu     sync.Mutex
	wallet decimal.Decimal
	risk   *risk.Manager
}

func newAccount(wallet decimal.Decimal, rm *risk.Manager) *account {
	rm.OnWalletBalanceUpdate(wallet)
	return &account{wallet: wallet, risk: rm}
}

func (a *account) attach(positions *position.Manager) {
	positions.AddRealizedPnLListener(a.onRealized)
	positions.AddUnrealisedPnLListener(a.onUnrealised)
}

func (a *account) onRealized(ev position.RealizedPnL) {
	// aggregate slots only; strategy slots repeat the same trade
	if ev.StrategyID != "" {
		return
	}
	a.risk.UpdateDailyLoss(ev.Net, ev.Symbol)
	a.mu.Lock()
	a.wallet = a.wallet.Add(ev.Net)
	a.mu.Unlock()
}

func (a *account) onUnrealised(total decimal.Decimal) {
	a.risk.OnUnrealisedPnLUpdate(total)
	a.mu.Lock()
	wallet := a.wallet
	a.mu.Unlock()
	a.risk.OnWalletBalanceUpdate(wallet)
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	tokenFor := flag.String("token", "", "print an ops API token for this operator and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	setupLogging(cfg)

	if *tokenFor != "" {
		tok, err := api.GenerateToken(*tokenFor, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			logrus.Fatalf("token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("execution core stopped: %v", err)
	}
}

func run(cfg *config.Config) error {
	engine, err := config.LoadEngine(cfg.EngineFile)
	if err != nil {
		return err
	}
	symbols := engine.SymbolNames()
	if len(cfg.Symbols) > 0 {
		symbols = cfg.Symbols
	}
	log.Infof("execution core %s starting: %d symbols, %d strategies, paper venue", version, len(symbols), len(engine.Strategies))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	metrics := monitor.NewSystemMetrics()
	writer := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	writer.SetLatency(metrics.DBLatency)
	store := persistence.NewStore(writer)

	bus := events.NewBus()

	// Reference data, margin and fees
	prices := refdata.NewPriceManager()
	refs := refdata.NewManager(prices)
	margins := margin.NewManager()
	fees := position.NewFeeSchedule(engine.Fees)
	rm := risk.NewInMemory(engine.Risk, bus)
	for _, sc := range engine.Symbols {
		refs.Set(sc.ReferenceData)
		if len(sc.Brackets) > 0 {
			margins.UpdateMargin(margin.Response{Symbol: sc.Symbol, Brackets: sc.Brackets})
		}
		if sc.Fees != nil {
			fees.Set(sc.Symbol, *sc.Fees)
		}
		rm.AddSymbol(sc.Symbol, risk.SymbolOptions{MinOrderSize: sc.MinOrderSize})
	}

	// Positions and risk inputs
	positions := position.NewManager(margins, fees, store)
	acct := newAccount(engine.InitialAUM, rm)
	acct.attach(positions)
	rm.SetPositionSource(positions)
	rm.SetPriceProvider(func(symbol string) (decimal.Decimal, error) {
		p, ok := prices.MarkPrice(symbol)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", risk.ErrNoPrice, symbol)
		}
		return p, nil
	})
	positions.AddMaintenanceMarginListener(rm.OnMaintenanceMarginUpdate)
	positions.AddPositionListener(func(p position.Position) {
		if p.StrategyID == "" {
			rm.OnPositionAmountUpdate(p.Symbol, p.Amount)
		}
		bus.Publish(events.EventPositionChange, p)
	})

	// Order path
	paper := order.NewPaperExecutor(order.PaperConfig{
		SlippageBps: decimalx.FromFloat(cfg.PaperSlippageBps),
		LatencyMin:  time.Duration(cfg.PaperLatencyMinMs) * time.Millisecond,
		LatencyMax:  time.Duration(cfg.PaperLatencyMaxMs) * time.Millisecond,
	}, prices.MarkPrice)

	var (
		orders   *order.Manager
		async    *order.AsyncExecutor
		executor order.Executor = paper
	)
	sink := func(ev order.OrderEvent) { orders.OnOrderEvent(ev) }
	if cfg.PaperLatencyMaxMs > 0 {
		// simulated venue latency must not stall the FCFS worker
		async = order.NewAsyncExecutor(paper, sink, 8)
		executor = async
	}
	orders = order.NewManager(order.Config{
		QueueSize: cfg.QueueSize,
		PoolSize:  cfg.PoolSize,
		IDPrefix:  cfg.IDPrefix,
	}, executor, rm, refs)
	paper.SetSink(sink)
	orders.SetFillSink(positions)
	orders.SetJournal(store)
	orders.SetBus(bus)
	orders.SetMetrics(metrics)
	orders.AddOpenOrdersListener(rm.OnOpenOrdersUpdate)

	// Market data
	var stream *market.StreamClient
	if !cfg.UseMockFeed {
		stream = market.NewStreamClient(cfg.FeedURL)
	}
	feed := market.NewFeed(stream, bus, engine.CandleInterval, symbols...)
	feed.AddMarkListener(prices.OnMarkPrice)
	prices.AddListener(func(mp common.MarkPrice) {
		metrics.IncrementTicks()
		positions.OnMarkPrice(mp)
		rm.OnMarkPrice(mp)
		paper.OnMarkPrice(mp)
	})

	// Strategies
	runner := strategy.NewRunner(orders, indicators.NewEngine(indicators.DefaultPeriods(), 0))
	for _, sc := range engine.Strategies {
		b, err := sc.Binding()
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
		runner.Add(b)
	}

	// Start everything
	orders.Start(ctx)
	feed.Start(ctx)
	if cfg.UseMockFeed {
		(&market.MockFeed{Feed: feed}).Start(ctx)
		log.Warn("using synthetic market data")
	}
	runner.Start(ctx, bus)
	reconciler := reconciliation.NewService(positions, orders, time.Minute)
	reconciler.Start(ctx)
	(&monitor.Monitor{Bus: bus, Metrics: metrics}).Start(ctx)
	store.RecordRiskEvents(ctx, bus)
	if err := rm.StartPeriodicReports(ctx, cfg.ReportPath, cfg.ReportInterval, symbols...); err != nil {
		log.Warnf("risk reports disabled: %v", err)
	}
	if async != nil {
		go func() {
			for res := range async.Results() {
				metrics.ExecLatency.RecordDuration(res.Latency)
			}
		}()
	}

	srv := api.NewServer(&api.Server{
		Bus:        bus,
		DB:         database,
		Store:      store,
		Orders:     orders,
		Risk:       rm,
		Positions:  positions,
		Strategies: runner,
		Reconciler: reconciler,
		Metrics:    metrics,
		JWTSecret:  cfg.JWTSecret,
		Meta: api.SystemMeta{
			Paper:       true,
			Symbols:     symbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     version,
		},
	}, api.Options{RateLimit: cfg.APIRateLimit, RateBurst: cfg.APIRateBurst})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("ops API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
	case err := <-serveErr:
		log.Errorf("ops API failed: %v", err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}

	cancel()
	runner.Stop()
	if !orders.Stop(5 * time.Second) {
		log.Warn("order worker did not stop in time")
	}
	if async != nil {
		async.Close()
	}
	feed.Wait()
	rm.StopPeriodicReports()
	if err := writer.Close(); err != nil {
		log.Errorf("flush on shutdown: %v", err)
	}

	st := orders.Stats()
	log.Infof("stopped: submitted=%d filled=%d rejected=%d", st.Submitted, st.Filled, st.Rejected)
	return nil
}
