package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cross-arb-bot/internal/alerts"
	"cross-arb-bot/internal/config"
	"cross-arb-bot/internal/dash"
	"cross-arb-bot/internal/exec"
	"cross-arb-bot/internal/feed"
	"cross-arb-bot/internal/funding"
	"cross-arb-bot/internal/history"
	"cross-arb-bot/internal/ledger"
	"cross-arb-bot/internal/market"
	"cross-arb-bot/internal/metrics"
	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/risk"
	"cross-arb-bot/internal/state/sqlite"
	"cross-arb-bot/internal/strategy"
	"cross-arb-bot/internal/venue"
	"cross-arb-bot/internal/venue/rest"
	"cross-arb-bot/internal/venue/ws"

	"go.uber.org/zap"
)

// App wires both venues into one scan-evaluate-execute engine. The same
// binary trades any two venues the config names; nothing below this layer
// knows which concrete venues are attached.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	venueA    venue.Adapter
	venueB    venue.Adapter
	feedA     *ws.Feed
	feedB     *ws.Feed
	pairsSync *pairs.Synchronizer
	funding   *funding.Cache
	fetcher   *market.Fetcher
	vol       *market.VolTracker
	evaluator *strategy.Evaluator
	sizer     *strategy.Sizer
	executor  *exec.Executor
	gate      *risk.Gate
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	history   *history.Writer
	feed      *feed.Publisher

	mu            sync.Mutex
	opportunities []strategy.Opportunity
	balances      map[string]float64
	equities      map[string]float64
	openNotional  map[string]float64
	openPositions int
	running       bool

	stopOnce sync.Once
	stop     context.CancelFunc
	execWG   sync.WaitGroup
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	venueA, feedA, err := buildVenue(cfg.VenueA, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	venueB, feedB, err := buildVenue(cfg.VenueB, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	prom := metrics.NewPrometheus()
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	a := &App{
		cfg:          cfg,
		log:          log,
		store:        store,
		venueA:       venueA,
		venueB:       venueB,
		feedA:        feedA,
		feedB:        feedB,
		metrics:      prom.Metrics,
		prom:         prom,
		alerts:       alertsClient,
		balances:     make(map[string]float64),
		equities:     make(map[string]float64),
		openNotional: make(map[string]float64),
	}

	s := cfg.Strategy
	a.pairsSync = pairs.NewSynchronizer(venueA, venueB, s.QuoteCurrency, s.PairRefreshInterval, log)
	a.funding = funding.NewCache(venueA, venueB, cfg.Funding.RefreshInterval, log)
	// A venue without a ws_url runs REST only; a typed-nil feed must not
	// reach the fetcher as a non-nil interface.
	var srcA, srcB market.BookSource
	if feedA != nil {
		srcA = feedA
	}
	if feedB != nil {
		srcB = feedB
	}
	a.fetcher = market.NewFetcher(venueA, venueB, srcA, srcB, s.BookDepth, s.BookFreshness,
		s.BaseAllocationUSD, cfg.VenueA.MinNotionalUSD, cfg.VenueB.MinNotionalUSD)
	a.vol = market.NewVolTracker(64)
	a.evaluator = strategy.NewEvaluator(
		cfg.VenueA.Name, cfg.VenueB.Name,
		cfg.VenueA.TakerFee, cfg.VenueB.TakerFee,
		a.funding, s.MinProfitMargin, s.SlippageAllowance)
	a.sizer = strategy.NewSizer(s.DepthDiscount, s.PositionRiskFraction, s.BookDepth)
	a.ledger = ledger.New(s.BaseAllocationUSD, s.MaxAllocationUSD, s.CompoundPercent, s.CompoundEnabled, store, log)
	a.gate = risk.NewGate(cfg.Risk, a.ledger, a.forceClose, log)
	a.executor = exec.New(
		[]venue.Adapter{venueA, venueB},
		a, store, alertsClient, prom.Metrics.CompensationFailures,
		s.OrderWait, s.OrderPollInterval, s.CompensationWindow, log)

	a.history, err = history.New(cfg.History, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.feed, err = feed.New(cfg.Feed, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func buildVenue(cfg config.VenueConfig, log *zap.Logger) (venue.Adapter, *ws.Feed, error) {
	keyVar, secretVar := config.CredentialEnvNames(cfg.Name)
	key := strings.TrimSpace(os.Getenv(keyVar))
	secret := strings.TrimSpace(os.Getenv(secretVar))
	if key == "" || secret == "" {
		return nil, nil, fmt.Errorf("%s and %s are required", keyVar, secretVar)
	}
	client := rest.New(cfg.Name, cfg.BaseURL, key, secret, cfg.Timeout, log)
	limited := venue.NewLimited(client, cfg.RateLimit, cfg.RateBurst, cfg.MaxInflight)
	var bookFeed *ws.Feed
	if cfg.WSURL != "" {
		bookFeed = ws.New(cfg.Name, cfg.WSURL, cfg.ReconnectDelay, cfg.PingInterval, 20, log)
	}
	return limited, bookFeed, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	defer cancel()
	defer a.store.Close()
	defer a.feed.Close()
	defer a.history.Close()

	if err := a.ledger.Restore(ctx); err != nil {
		a.log.Warn("ledger restore failed", zap.Error(err))
	}
	if err := a.pairsSync.Refresh(ctx); err != nil {
		return fmt.Errorf("initial pair discovery: %w", err)
	}
	a.watchFeeds()
	a.refreshBalances(ctx)
	a.funding.Refresh(ctx, a.pairsSync.Pairs())
	a.history.Start(ctx)

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("background loop exited", zap.String("loop", name), zap.Error(err))
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
		}()
	}

	if a.feedA != nil {
		background("book feed "+a.venueA.Name(), a.feedA.Run)
	}
	if a.feedB != nil {
		background("book feed "+a.venueB.Name(), a.feedB.Run)
	}
	background("pair sync", a.runPairSync)
	background("funding", func(ctx context.Context) error {
		return a.funding.Run(ctx, a.pairsSync.Pairs)
	})
	background("risk monitor", a.gate.Run)
	background("balances", a.runBalances)
	background("scan", a.runScans)
	dashServer := dash.NewServer(a.cfg.Dash.Addr, a, a.prom.Handler(), a.log)
	background("dash", dashServer.Run)

	a.log.Info("engine started",
		zap.String("venue_a", a.venueA.Name()),
		zap.String("venue_b", a.venueB.Name()),
		zap.Int("pairs", len(a.pairsSync.Pairs())))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	// Scans stop with the context; attempts that already placed a leg run
	// on detached contexts and are drained here.
	a.execWG.Wait()
	wg.Wait()
	a.log.Info("engine stopped")
	return runErr
}

func (a *App) runPairSync(ctx context.Context) error {
	err := a.pairsSync.Run(ctx)
	return err
}

func (a *App) watchFeeds() {
	universe := a.pairsSync.Pairs()
	symbolsA := make([]string, 0, len(universe))
	symbolsB := make([]string, 0, len(universe))
	for _, pair := range universe {
		symbolsA = append(symbolsA, pair.SymbolA)
		symbolsB = append(symbolsB, pair.SymbolB)
	}
	if a.feedA != nil {
		a.feedA.Watch(symbolsA)
	}
	if a.feedB != nil {
		a.feedB.Watch(symbolsB)
	}
	a.metrics.PairsTracked.Set(float64(len(universe)))
}

func (a *App) runBalances(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Strategy.BalanceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.refreshBalances(ctx)
		}
	}
}

func (a *App) refreshBalances(ctx context.Context) {
	quote := a.cfg.Strategy.QuoteCurrency
	total := 0.0
	balances := make(map[string]float64, 2)
	equities := make(map[string]float64, 2)
	for _, adapter := range []venue.Adapter{a.venueA, a.venueB} {
		balance, err := adapter.Balance(ctx, quote)
		if err != nil {
			// Carry the last good reading forward; Free feeds sizing and
			// Total feeds equity, so both survive a failed refresh.
			a.log.Warn("balance refresh failed",
				zap.String("venue", adapter.Name()), zap.Error(err))
			a.mu.Lock()
			priorFree := a.balances[adapter.Name()]
			priorTotal := a.equities[adapter.Name()]
			a.mu.Unlock()
			balances[adapter.Name()] = priorFree
			equities[adapter.Name()] = priorTotal
			total += priorTotal
			continue
		}
		balances[adapter.Name()] = balance.Free
		equities[adapter.Name()] = balance.Total
		total += balance.Total
	}
	a.mu.Lock()
	a.balances = balances
	a.equities = equities
	a.mu.Unlock()
	a.ledger.SetEquity(ctx, total)
	a.metrics.EquityUSD.Set(total)
	a.metrics.AllocationUSD.Set(a.ledger.AllocationUSD())
}

func (a *App) runScans(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Strategy.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.scanOnce(ctx)
		}
	}
}

type candidate struct {
	opp  strategy.Opportunity
	snap market.Snapshot
}

// scanOnce sweeps the universe through a bounded worker pool, ranks what
// clears the threshold, and pushes the best candidate into execution.
func (a *App) scanOnce(ctx context.Context) {
	universe := a.pairsSync.Pairs()
	a.metrics.PairsTracked.Set(float64(len(universe)))
	a.watchFeeds()

	jobs := make(chan pairs.Pair)
	results := make(chan candidate, len(universe))
	var wg sync.WaitGroup
	workers := a.cfg.Strategy.MaxConcurrentChecks
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pair := range jobs {
				a.checkPair(ctx, pair, results)
			}
		}()
	}
	for _, pair := range universe {
		select {
		case jobs <- pair:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	candidates := make([]candidate, 0, len(universe))
	for cand := range results {
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].opp.NetEdge > candidates[j].opp.NetEdge
	})
	if top := a.cfg.Strategy.TopOpportunities; len(candidates) > top {
		candidates = candidates[:top]
	}

	ranked := make([]strategy.Opportunity, 0, len(candidates))
	for _, cand := range candidates {
		ranked = append(ranked, cand.opp)
		a.metrics.OpportunitiesFound.Inc()
		a.history.EnqueueOpportunity(history.Opportunity{
			Time:       cand.opp.Detected,
			Base:       cand.opp.Pair.Base,
			BuyVenue:   cand.opp.BuyVenue,
			SellVenue:  cand.opp.SellVenue,
			EntryPrice: cand.opp.EntryPrice,
			ExitPrice:  cand.opp.ExitPrice,
			RawSpread:  cand.opp.RawSpread,
			NetEdge:    cand.opp.NetEdge,
		})
	}
	a.mu.Lock()
	a.opportunities = ranked
	a.mu.Unlock()
	a.publish(ctx, ranked)

	if len(candidates) > 0 && ctx.Err() == nil {
		a.tryExecute(ctx, candidates[0])
	}
}

func (a *App) checkPair(ctx context.Context, pair pairs.Pair, results chan<- candidate) {
	snap, err := a.fetcher.PairBooks(ctx, pair)
	if err != nil {
		if errors.Is(err, venue.ErrBadSymbol) || errors.Is(err, venue.ErrNoMarket) {
			a.log.Debug("pair skipped", zap.String("base", pair.Base), zap.Error(err))
		} else if ctx.Err() == nil {
			a.log.Warn("snapshot failed", zap.String("base", pair.Base), zap.Error(err))
		}
		return
	}
	a.vol.Observe(pair.Base, snap.BookA.MidPrice())
	if opp, ok := a.evaluator.Evaluate(pair, snap.BookA, snap.BookB); ok {
		results <- candidate{opp: opp, snap: snap}
	}
}

func (a *App) tryExecute(ctx context.Context, cand candidate) {
	opp := cand.opp
	buyBook, sellBook := a.legBooks(cand)

	a.mu.Lock()
	open := a.openPositions
	a.mu.Unlock()

	allocation := a.ledger.AllocationUSD()
	check := risk.EntryCheck{
		OpenPositions:   open,
		NotionalUSD:     allocation,
		OpenNotionalUSD: a.exposure(opp.Pair.Base),
		BuyDepthUSD:     buyBook.DepthUSD(venue.Sell, a.cfg.Strategy.BookDepth),
		SellDepthUSD:    sellBook.DepthUSD(venue.Buy, a.cfg.Strategy.BookDepth),
		Volatility:      a.vol.Volatility(opp.Pair.Base),
	}
	if err := a.gate.CanEnter(check); err != nil {
		a.log.Debug("entry blocked", zap.String("base", opp.Pair.Base), zap.Error(err))
		return
	}

	a.mu.Lock()
	balance := a.balances[opp.BuyVenue]
	a.mu.Unlock()
	amount, err := a.sizer.Size(opp, buyBook, sellBook, allocation, balance)
	if err != nil {
		a.log.Debug("sizing rejected", zap.String("base", opp.Pair.Base), zap.Error(err))
		return
	}

	a.mu.Lock()
	a.openPositions++
	a.openNotional[opp.Pair.Base] += allocation
	a.mu.Unlock()
	a.execWG.Add(1)
	go func() {
		defer a.execWG.Done()
		defer a.releaseAttempt(opp.Pair.Base, allocation)
		res := a.executor.Execute(ctx, opp, amount)
		a.record(res)
	}()
}

// exposure reports the notional already committed to one base across
// attempts still in flight.
func (a *App) exposure(base string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openNotional[base]
}

// releaseAttempt returns an attempt's position slot and notional once it
// reaches a terminal state.
func (a *App) releaseAttempt(base string, usd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openPositions--
	a.openNotional[base] -= usd
	if a.openNotional[base] <= 0 {
		delete(a.openNotional, base)
	}
}

func (a *App) legBooks(cand candidate) (buy, sell venue.OrderBook) {
	if cand.opp.BuyVenue == a.venueA.Name() {
		return cand.snap.BookA, cand.snap.BookB
	}
	return cand.snap.BookB, cand.snap.BookA
}

func (a *App) record(res exec.Result) {
	ctx := context.Background()
	switch res.State {
	case exec.StateSettled:
		a.metrics.AttemptsSettled.Inc()
		a.ledger.Settle(ctx, res.ProfitUSD)
		msg := fmt.Sprintf("settled %s %s->%s qty %.6f profit %.4f USD",
			res.Opportunity.Pair.Base, res.Opportunity.BuyVenue, res.Opportunity.SellVenue,
			res.Amount, res.ProfitUSD)
		if err := a.alerts.Send(ctx, msg); err != nil {
			a.log.Warn("alert delivery failed", zap.Error(err))
		}
	case exec.StateFailed:
		a.metrics.AttemptsFailed.Inc()
		a.ledger.Fail(ctx)
		a.log.Warn("attempt failed",
			zap.String("attempt", res.AttemptID),
			zap.String("base", res.Opportunity.Pair.Base),
			zap.Error(res.Err))
	default:
		a.metrics.AttemptsAborted.Inc()
		a.ledger.Abort(ctx)
	}
	a.metrics.AllocationUSD.Set(a.ledger.AllocationUSD())
	a.history.EnqueueAttempt(history.Attempt{
		Time:       res.Finished,
		AttemptID:  res.AttemptID,
		Base:       res.Opportunity.Pair.Base,
		BuyVenue:   res.Opportunity.BuyVenue,
		SellVenue:  res.Opportunity.SellVenue,
		State:      string(res.State),
		Amount:     res.Amount,
		EntryPrice: res.Opportunity.EntryPrice,
		ExitPrice:  res.Opportunity.ExitPrice,
		RawSpread:  res.Opportunity.RawSpread,
		Threshold:  res.Opportunity.Threshold,
		NetEdge:    res.Opportunity.NetEdge,
		ProfitUSD:  res.ProfitUSD,
	})
}

func (a *App) publish(ctx context.Context, ranked []strategy.Opportunity) {
	if a.feed == nil {
		return
	}
	status := a.Status()
	a.feed.PublishStatus(ctx, feed.StatusSnapshot{
		Running:       status.Running,
		Paused:        status.Paused,
		PauseReason:   status.Blocked,
		EquityUSD:     status.EquityUSD,
		AllocationUSD: status.AllocationUSD,
		DailyPnLUSD:   status.DailyPnLUSD,
		TotalPnLUSD:   status.TotalPnLUSD,
		OpenPositions: status.OpenPositions,
		Pairs:         status.Pairs,
		UpdatedAtMS:   time.Now().UTC().UnixMilli(),
	})
	opps := make([]feed.OpportunitySnapshot, 0, len(ranked))
	for _, opp := range ranked {
		opps = append(opps, feed.OpportunitySnapshot{
			Base:       opp.Pair.Base,
			BuyVenue:   opp.BuyVenue,
			SellVenue:  opp.SellVenue,
			EntryPrice: opp.EntryPrice,
			ExitPrice:  opp.ExitPrice,
			RawSpread:  opp.RawSpread,
			NetEdge:    opp.NetEdge,
			DetectedMS: opp.Detected.UnixMilli(),
		})
	}
	a.feed.PublishOpportunities(ctx, opps)
}

// Reprice re-runs evaluation on fresh books just before placement. A
// flipped direction counts as drift, not a new signal.
func (a *App) Reprice(ctx context.Context, opp strategy.Opportunity) (strategy.Opportunity, bool, error) {
	snap, err := a.fetcher.PairBooks(ctx, opp.Pair)
	if err != nil {
		return opp, false, err
	}
	fresh, ok := a.evaluator.Evaluate(opp.Pair, snap.BookA, snap.BookB)
	if !ok || fresh.BuyVenue != opp.BuyVenue {
		return opp, false, nil
	}
	return fresh, true, nil
}

func (a *App) forceClose(ctx context.Context, reason string) {
	// Attempts are self-contained (entry and exit settle together), so a
	// hard breach has no resting position to flatten; it pauses admissions
	// and pages the operator.
	a.log.Error("hard risk breach", zap.String("reason", reason))
	if err := a.alerts.Send(ctx, "RISK BREACH: trading paused: "+reason); err != nil {
		a.log.Warn("alert delivery failed", zap.Error(err))
	}
}

// Status implements the operator surface.
func (a *App) Status() dash.Status {
	paused, reason := a.gate.Paused()
	trades, wins := a.ledger.Counts()
	a.mu.Lock()
	balances := make(map[string]float64, len(a.balances))
	for name, free := range a.balances {
		balances[name] = free
	}
	open := a.openPositions
	running := a.running
	a.mu.Unlock()
	return dash.Status{
		Running:       running,
		Paused:        paused,
		Blocked:       reason,
		EquityUSD:     a.ledger.EquityUSD(),
		AllocationUSD: a.ledger.AllocationUSD(),
		DailyPnLUSD:   a.ledger.DailyPnLUSD(),
		TotalPnLUSD:   a.ledger.TotalPnLUSD(),
		Trades:        trades,
		Wins:          wins,
		OpenPositions: open,
		Pairs:         len(a.pairsSync.Pairs()),
		Balances:      balances,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (a *App) Opportunities() []strategy.Opportunity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]strategy.Opportunity(nil), a.opportunities...)
}

func (a *App) Pause(reason string) { a.gate.Pause(reason) }

func (a *App) Resume() { a.gate.Resume() }

// Stop ends the run loop; in-flight attempts still drain.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.stop != nil {
			a.stop()
		}
	})
}
