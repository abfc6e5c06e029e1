// Package engine wires the detectors, memory system, scheduler, risk
// pipeline, and execution router into a single-process reactor: one
// scheduler loop owning bounded queues, a tick-based periodic task list,
// and passive read consumers.
// It is the composition root cmd/ictengine drives; no package above it
// in the import graph.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/baseline"
	"github.com/ictengine/core/internal/broker"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/detect"
	"github.com/ictengine/core/internal/execution"
	"github.com/ictengine/core/internal/httpapi"
	"github.com/ictengine/core/internal/memory"
	memcache "github.com/ictengine/core/internal/memory/cache"
	"github.com/ictengine/core/internal/mtf"
	"github.com/ictengine/core/internal/orchestrator"
	"github.com/ictengine/core/internal/pattern"
	"github.com/ictengine/core/internal/persistence/postgres"
	"github.com/ictengine/core/internal/risk"
	"github.com/ictengine/core/internal/scheduler"
	"github.com/ictengine/core/internal/sharedmem"
	"github.com/ictengine/core/internal/telemetry"
)

// Watchlist is one (symbol, timeframes) stream the engine polls the
// broker for and schedules detection against.
type Watchlist struct {
	Symbol     string
	Timeframes []bar.Timeframe
}

// Options configures the composition root; DataDir roots every persisted
// artifact (memory/, status/, journal/, reports/system_status/).
type Options struct {
	Config     *config.Config
	DataDir    string
	Transport  broker.Transport
	Watchlist  []Watchlist
	HTTPConfig httpapi.Config
	PollEvery  time.Duration
}

// latestIndex is the small in-memory latest-by-stream index the
// orchestrator's doc comment calls for: it holds the most recent
// memory-enhanced, MTF-validated patterns per (symbol, timeframe), plus
// the most recent raw bar per (symbol, timeframe) so higher-timeframe
// context is available to the MTF validator without a second broker
// round trip per candidate.
type latestIndex struct {
	mu      sync.RWMutex
	byTF    map[string][]pattern.Pattern // "symbol|timeframe" -> patterns
	lastBar map[string]bar.Bar           // "symbol|timeframe" -> most recent closed bar
	prevBar map[string]bar.Bar           // "symbol|timeframe" -> bar before lastBar
}

func newLatestIndex() *latestIndex {
	return &latestIndex{
		byTF:    make(map[string][]pattern.Pattern),
		lastBar: make(map[string]bar.Bar),
		prevBar: make(map[string]bar.Bar),
	}
}

func streamKey(symbol string, tf bar.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

func (l *latestIndex) store(symbol string, tf bar.Timeframe, patterns []pattern.Pattern) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byTF[streamKey(symbol, tf)] = patterns
}

func (l *latestIndex) storeBars(symbol string, tf bar.Timeframe, bars []bar.Bar) {
	if len(bars) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := streamKey(symbol, tf)
	if len(bars) >= 2 {
		l.prevBar[key] = bars[len(bars)-2]
	}
	l.lastBar[key] = bars[len(bars)-1]
}

// higherTFContext derives an mtf.HigherTFContext for (symbol, tf) from the
// last two polled bars: trend direction from the latest bar's candle
// color, swing price/direction from the prior bar's extreme, and ATR from
// the single-bar true range. This is a pragmatic engine-level derivation
// (no detector computes H4/M15 context directly) rather than a
// distinct detection algorithm.
func (l *latestIndex) higherTFContext(symbol string, tf bar.Timeframe) (mtf.HigherTFContext, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := streamKey(symbol, tf)
	last, ok := l.lastBar[key]
	if !ok {
		return mtf.HigherTFContext{}, false
	}
	ctx := mtf.HigherTFContext{
		ATR: last.High - last.Low,
	}
	if last.Bullish() {
		ctx.TrendDirection = pattern.Bullish
	} else {
		ctx.TrendDirection = pattern.Bearish
	}
	ctx.HasTrend = true

	if prev, ok := l.prevBar[key]; ok {
		if prev.Bullish() {
			ctx.SwingPrice = prev.High
			ctx.SwingDirection = pattern.Bullish
		} else {
			ctx.SwingPrice = prev.Low
			ctx.SwingDirection = pattern.Bearish
		}
		ctx.HasSwing = true
	}
	return ctx, true
}

// Patterns implements orchestrator.PatternsSource.
func (l *latestIndex) Patterns(symbol string, timeframes []string) []pattern.Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []pattern.Pattern
	for _, tf := range timeframes {
		out = append(out, l.byTF[fmt.Sprintf("%s|%s", symbol, tf)]...)
	}
	return out
}

// multiJournal fans out every trade event to the canonical JSONL journal
// and, when configured, a durable Postgres mirror. Append returns the
// canonical journal's error; the durable mirror's error is ignored.
type multiJournal struct {
	canonical execution.Journal
	durable   execution.Journal // nil when no Postgres DSN is configured
}

func (j *multiJournal) Append(ev execution.Event) error {
	err := j.canonical.Append(ev)
	if j.durable != nil {
		_ = j.durable.Append(ev)
	}
	return err
}

// Engine owns every long-lived component and the goroutines that move
// data along the signal path A -> F -> C -> D -> E -> H -> I -> B.
type Engine struct {
	opts Options

	store        *memory.Store
	unified      *memory.UnifiedSystem
	validator    *mtf.Validator
	riskPipe     *risk.Pipeline
	execRouter   *execution.Router
	brokerAdp    *broker.Adapter
	pool         *scheduler.Pool
	cache        *sharedmem.Cache
	monitor      *baseline.Monitor
	sampler      *baseline.Sampler
	orch         *orchestrator.Orchestrator
	telemetry    *telemetry.Registry
	httpServer   *httpapi.Server
	index        *latestIndex
	arenas       map[string]*pattern.Arena
	obBridge     *detect.OBBlackBox
	weightMirror *memcache.WeightMirror      // optional, nil unless configured
	viewMirror   *memcache.ConsolidatedMirror // optional, nil unless configured

	// lastSignal tracks the most recent approved signal per symbol for
	// cooldown enforcement. Confined to the result-consumer goroutine, so
	// no lock is needed.
	lastSignal map[string]time.Time

	memoryPath string
	stop       chan struct{}
	wg         sync.WaitGroup
}

// New builds every component and wires them together without starting any
// goroutines. Start launches the reactor.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
		opts.Config = cfg
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 15 * time.Second
	}

	memoryPath := filepath.Join(opts.DataDir, "memory", "historical_analysis_cache.json")
	store, err := memory.Import(memoryPath, &cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("import historical memory: %w", err)
	}

	reg := telemetry.New()

	e := &Engine{
		opts:       opts,
		store:      store,
		unified:    memory.NewUnifiedSystem(store),
		validator:  mtf.New(&cfg.MTFValidator),
		riskPipe:   risk.New(&cfg.RiskPolicy),
		cache:      sharedmem.New(),
		monitor:    baseline.New(cfg.Baseline),
		telemetry:  reg,
		index:      newLatestIndex(),
		arenas:     make(map[string]*pattern.Arena),
		obBridge:   detect.NewOBBlackBox(filepath.Join(opts.DataDir, "journal")),
		lastSignal: make(map[string]time.Time),
		memoryPath: memoryPath,
		stop:       make(chan struct{}),
	}

	if cfg.Persistence.RedisAddr != "" {
		e.weightMirror = memcache.New(cfg.Persistence.RedisAddr, cfg.Persistence.RedisDB)
		store.SetMirror(e.weightMirror)
		e.viewMirror = memcache.NewConsolidatedMirror(cfg.Persistence.RedisAddr, cfg.Persistence.RedisDB)
	}

	e.cache.PreloadCommonConfig(map[string]interface{}{
		"min_gap_pips":             cfg.PatternDetectors.MinGapPips,
		"ob_impulse_multiplier":    cfg.PatternDetectors.OBImpulseMultiplier,
		"swing_window":             cfg.PatternDetectors.SwingWindow,
		"liquidity_tolerance_pips": cfg.PatternDetectors.LiquidityTolerancePips,
		"displacement_min_run":     cfg.PatternDetectors.DisplacementMinRun,
		"displacement_multiplier":  cfg.PatternDetectors.DisplacementMultiplier,
	}, time.Hour)

	store.SetDirtyHook(func() {
		go func() {
			if err := store.Export(memoryPath); err != nil {
				log.Warn().Err(err).Msg("historical memory export on dirty-hook failed")
			}
		}()
	})

	e.sampler = baseline.NewSampler(e.monitor, filepath.Join(opts.DataDir, "reports", "system_status"), time.Duration(cfg.Baseline.MonitoringIntervalSec)*time.Second)

	var journal execution.Journal = execution.NewFileJournal(filepath.Join(opts.DataDir, "journal"))
	if cfg.Persistence.PostgresDSN != "" {
		db, err := postgres.Open(cfg.Persistence.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("durable trade journal unavailable, continuing with JSONL journal only")
		} else {
			timeout := time.Duration(cfg.Persistence.PostgresTimeoutSec) * time.Second
			journal = &multiJournal{
				canonical: journal,
				durable:   postgres.NewTradeJournal(db, timeout),
			}
		}
	}
	snapshotter := execution.NewFileSnapshotter(filepath.Join(opts.DataDir, "status", "active_positions.json"))

	if opts.Transport != nil {
		e.brokerAdp = broker.New(opts.Transport, cfg.Broker)
		e.execRouter = execution.New(e.brokerAdp, journal, snapshotter)
	}

	e.orch = orchestrator.New(e.index, e.cache, cfg.Orchestrator)

	defaultTFs := []string{"M5", "M15", "H1", "H4"}
	e.httpServer = httpapi.New(opts.HTTPConfig, e.orch, e.execRouter, e.monitor, e.sampler, reg, defaultTFs)

	e.pool = scheduler.New(&cfg.Scheduler, e.analyze)

	return e, nil
}

// analyze is the scheduler's AnalysisFunc: pure detection, no I/O, run on
// a worker goroutine.
func (e *Engine) analyze(task scheduler.AnalysisTask) ([]pattern.Pattern, error) {
	arena := e.arenaFor(task.Symbol, task.Timeframe)
	patterns := detect.RunAll(task.Bars, task.Symbol, task.Timeframe, arena, &e.opts.Config.PatternDetectors, task.KindFilter)
	patterns = e.obBridge.Tee(patterns, time.Now())
	for i := range patterns {
		e.telemetry.PatternsDetected.WithLabelValues(string(patterns[i].Kind), patterns[i].Symbol).Inc()
	}
	e.index.storeBars(task.Symbol, task.Timeframe, task.Bars)
	return patterns, nil
}

func (e *Engine) arenaFor(symbol string, tf bar.Timeframe) *pattern.Arena {
	key := streamKey(symbol, tf)
	if a, ok := e.arenas[key]; ok {
		return a
	}
	a := pattern.NewArena()
	e.arenas[key] = a
	return a
}

// Start launches the scheduler, baseline sampler, HTTP surface, result
// consumer, and polling loop. It returns once every goroutine has been
// launched; call Stop (or cancel ctx) to drain and shut down.
func (e *Engine) Start(ctx context.Context) error {
	e.pool.Start()

	e.wg.Add(1)
	go e.consumeResults(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sampler.Run(e.stop)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	if e.opts.Transport != nil {
		e.wg.Add(1)
		go e.pollLoop(ctx)
	}

	log.Info().Int("watchlist_streams", len(e.opts.Watchlist)).Msg("engine started")
	return nil
}

// pollLoop fetches the latest bars for every watched (symbol, timeframe)
// stream and submits an AnalysisTask, coalescing on backpressure by
// dropping the cycle's task for that stream.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			for _, w := range e.opts.Watchlist {
				for _, tf := range w.Timeframes {
					bars, err := e.brokerAdp.FetchBars(ctx, w.Symbol, tf, e.opts.Config.Scheduler.MinBars+50)
					if err != nil {
						log.Warn().Err(err).Str("symbol", w.Symbol).Str("tf", string(tf)).Msg("fetch bars failed")
						continue
					}
					if tf == bar.H4 || tf == bar.M15 {
						e.index.storeBars(w.Symbol, tf, bars)
					}
					task := scheduler.AnalysisTask{
						ID:        fmt.Sprintf("%s-%s-%d", w.Symbol, tf, time.Now().UnixNano()),
						Symbol:    w.Symbol,
						Timeframe: tf,
						Bars:      bars,
					}
					if err := e.pool.Submit(task); err != nil {
						log.Warn().Err(err).Str("symbol", w.Symbol).Msg("submit coalesced: queue full")
					}
				}
			}
		}
	}
}

// consumeResults drains the pool's result channel, running each pattern
// through the Unified Memory System, MTF validation, the Risk Pipeline,
// and (on approval) the Execution Router -- the full signal path.
func (e *Engine) consumeResults(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-e.pool.Results():
			if !ok {
				return
			}
			if res.Err != nil {
				log.Warn().Err(res.Err).Str("task", res.TaskID).Msg("analysis task failed")
				continue
			}
			e.handlePatterns(ctx, res.Patterns)
		}
	}
}

func (e *Engine) handlePatterns(ctx context.Context, patterns []pattern.Pattern) {
	if len(patterns) == 0 {
		return
	}

	now := time.Now()
	enhanced := make([]pattern.Pattern, len(patterns))
	for i, p := range patterns {
		p = e.unified.Enhance(p)
		if h4, ok := e.index.higherTFContext(p.Symbol, bar.H4); ok {
			m15, _ := e.index.higherTFContext(p.Symbol, bar.M15)
			p, _ = e.validator.Validate(p, h4, m15, now)
		}
		enhanced[i] = p
	}

	by := map[string][]pattern.Pattern{}
	for _, p := range enhanced {
		by[streamKey(p.Symbol, p.Timeframe)] = append(by[streamKey(p.Symbol, p.Timeframe)], p)
	}
	symbolsTouched := map[string]struct{}{}
	for _, p := range enhanced {
		e.index.store(p.Symbol, p.Timeframe, by[streamKey(p.Symbol, p.Timeframe)])
		symbolsTouched[p.Symbol] = struct{}{}
	}

	if e.viewMirror != nil {
		for symbol := range symbolsTouched {
			tfs := e.opts.Config.Orchestrator.ScalpingTimeframes
			view := e.orch.Get(symbol, tfs, now)
			key := symbol + "|" + fmt.Sprint(tfs)
			ttl := time.Duration(e.opts.Config.Orchestrator.ConsolidatedTTLMs) * time.Millisecond
			if err := e.viewMirror.Set(key, view, ttl); err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("consolidated view mirror publish failed")
			}
		}
	}

	if e.execRouter == nil || e.brokerAdp == nil {
		return
	}

	threshold := e.opts.Config.Orchestrator.HighConfidenceThreshold
	for _, p := range enhanced {
		if p.EnhancedConfidence < threshold {
			continue
		}
		e.maybeTrade(ctx, p)
	}
}

// maybeTrade evaluates one high-confidence pattern through the Risk
// Pipeline and routes an approved decision to execution. Account state is
// fetched fresh from the broker on every candidate so each decision is
// evaluated against live state. A tripped health monitor fails closed:
// no new signals, existing positions untouched.
func (e *Engine) maybeTrade(ctx context.Context, p pattern.Pattern) {
	if tripped, cause := e.monitor.Tripped(); tripped {
		log.Warn().Str("cause", cause).Str("symbol", p.Symbol).Msg("signal dropped, engine is fail-closed")
		return
	}
	if !p.PriceZone.Valid() {
		e.monitor.RaiseCritical(fmt.Sprintf("pattern %s has inverted price zone", p.ID))
		return
	}

	acctSnap, err := e.brokerAdp.AccountSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("account snapshot failed, skipping signal")
		return
	}

	side := "buy"
	entry := p.PriceZone.High
	stop := p.PriceZone.Low
	if p.Direction == pattern.Bearish {
		side = "sell"
		entry = p.PriceZone.Low
		stop = p.PriceZone.High
	}

	now := time.Now()
	session := memory.SessionAt(now)
	order := risk.CandidateOrder{
		Symbol:         p.Symbol,
		EntryPrice:     entry,
		StopLoss:       stop,
		PatternQuality: p.EnhancedConfidence,
		SessionFactor:  e.store.SessionFactor(session, now),
		Now:            now,
		Sizing: risk.SizingInput{
			Symbol:         p.Symbol,
			AccountBalance: acctSnap.Balance,
			RiskPercent:    e.opts.Config.RiskPolicy.MaxRiskPerTradePct,
			EntryPrice:     entry,
			StopLoss:       stop,
		},
	}

	open := e.execRouter.Positions()
	openSymbols := make([]string, 0, len(open))
	bySymbol := make(map[string]int, len(open))
	for sym := range open {
		openSymbols = append(openSymbols, sym)
		bySymbol[sym] = 1
	}

	acctState := risk.AccountState{
		Equity:                acctSnap.Equity,
		DayStartBalance:       acctSnap.Balance,
		OpenPositions:         len(open),
		OpenPositionsBySymbol: bySymbol,
		LastSignalAt:          e.lastSignal,
		CorrelationWithOpen: map[string]float64{
			p.Symbol: risk.MaxStaticCorrelation(p.Symbol, openSymbols),
		},
	}

	decision := e.riskPipe.Evaluate(acctState, order)
	if !decision.Approved {
		e.telemetry.RiskRejections.WithLabelValues(decision.Stage, firstReason(decision.Reasons)).Inc()
		return
	}
	if decision.Lots <= 0 {
		e.monitor.RaiseCritical(fmt.Sprintf("approved decision for %s carries non-positive lots %.4f", p.Symbol, decision.Lots))
		return
	}
	e.telemetry.RiskApprovals.Inc()
	e.lastSignal[p.Symbol] = now

	sig := execution.Signal{
		Symbol:     p.Symbol,
		Side:       side,
		EntryPrice: entry,
		StopLoss:   stop,
		Decision:   decision,
		BrokerStep: 0.01,
	}
	ev := e.execRouter.Route(ctx, sig)
	e.telemetry.OrdersSubmitted.WithLabelValues(string(ev.State)).Inc()
	e.unified.RecordOutcome(p, ev.State == execution.StateFilled, map[string]interface{}{
		"stage":            decision.Stage,
		"session":          session,
		"confluence_count": p.ConfluenceCount(),
	})
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return "unspecified"
	}
	return reasons[0]
}

// Stop drains in-flight work, shuts down the HTTP listener, and persists
// the historical memory snapshot.
func (e *Engine) Stop(ctx context.Context) error {
	close(e.stop)
	e.pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}

	e.wg.Wait()

	if e.weightMirror != nil {
		_ = e.weightMirror.Close()
	}
	if e.viewMirror != nil {
		_ = e.viewMirror.Close()
	}

	if err := e.store.Export(e.memoryPath); err != nil {
		return fmt.Errorf("final memory export: %w", err)
	}
	log.Info().Msg("engine stopped, historical memory persisted")
	return nil
}

// Store exposes the Historical Memory Store for CLI export/import commands.
func (e *Engine) Store() *memory.Store { return e.store }

// Orchestrator exposes the read-only aggregation surface for tests and
// auxiliary tooling.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }
