// Package engine orchestrates one decision cycle: crash detection, regime
// classification and adaptive parameter resolution happen once, then every
// instrument runs the signal, validation, scoring, filter and sizing
// pipeline on a bounded worker pool. Protector vetoes always outrank signal
// quality.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/circuit"
	"futures-decision-engine/internal/crash"
	"futures-decision-engine/internal/events"
	"futures-decision-engine/internal/filters"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/regime"
	"futures-decision-engine/internal/reversal"
	"futures-decision-engine/internal/signal"
	"futures-decision-engine/internal/sizing"
)

// Config bundles the engine settings with every component configuration.
type Config struct {
	Workers          int     `json:"workers"`
	LeadingSymbol    string  `json:"leading_symbol"`
	InitialCapital   float64 `json:"initial_capital"`
	ConfidenceWeight float64 `json:"confidence_weight"`
	CoherenceWeight  float64 `json:"coherence_weight"`

	Signal     signal.GeneratorConfig `json:"signal"`
	Validation signal.ValidatorConfig `json:"validation"`
	Sizing     sizing.Config          `json:"sizing"`
	Filters    filters.Config         `json:"filters"`
	Crash      crash.Config           `json:"crash"`
	Reversal   reversal.Config        `json:"reversal"`
	Breaker    circuit.Config         `json:"breaker"`
}

// DefaultConfig returns the engine defaults with every component at its own
// defaults. The combined score weighs signal confidence at 0.6 and
// validation coherence at 0.4.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		LeadingSymbol:    "BTCUSDT",
		InitialCapital:   10000,
		ConfidenceWeight: 0.6,
		CoherenceWeight:  0.4,
		Signal:           signal.DefaultGeneratorConfig(),
		Validation:       signal.DefaultValidatorConfig(),
		Sizing:           sizing.DefaultConfig(),
		Filters:          filters.DefaultConfig(),
		Crash:            crash.DefaultConfig(),
		Reversal:         reversal.DefaultConfig(),
		Breaker:          circuit.DefaultConfig(),
	}
}

// Engine evaluates instruments and guards open positions. One instance per
// process; shared state is mutex-guarded and all methods are safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	bus    *events.EventBus

	classifier    *regime.Classifier
	generator     *signal.Generator
	validator     *signal.Validator
	sizer         *sizing.Sizer
	entryFilters  *filters.Filters
	crashGuard    *crash.Protector
	reversalGuard *reversal.Protector
	breaker       *circuit.Breaker

	now func() time.Time

	mu         sync.Mutex
	store      DecisionStore
	lastEntry  map[string]time.Time
	lastRegime regime.Regime
	cyclesRun  int
	lastCycle  *CycleResult
}

// NewEngine builds an engine and all of its components. The bus is optional;
// a nil bus disables event publishing.
func NewEngine(cfg Config, bus *events.EventBus, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:           cfg,
		logger:        logger.With().Str("component", "engine").Logger(),
		bus:           bus,
		classifier:    regime.NewClassifier(logger),
		generator:     signal.NewGenerator(cfg.Signal, logger),
		validator:     signal.NewValidator(cfg.Validation, logger),
		sizer:         sizing.NewSizer(cfg.Sizing, logger),
		entryFilters:  filters.New(cfg.Filters, logger),
		crashGuard:    crash.NewProtector(cfg.Crash, logger),
		reversalGuard: reversal.NewProtector(cfg.Reversal, logger),
		breaker:       circuit.NewBreaker(cfg.Breaker, logger),
		lastEntry:     make(map[string]time.Time),
		now:           time.Now,
	}

	if bus != nil {
		e.crashGuard.OnPause(func(t crash.Type, until time.Time) {
			bus.PublishCrashPause(string(t), until)
		})
		e.crashGuard.OnResume(bus.PublishCrashResume)
		e.breaker.OnTrip(bus.PublishBreakerTripped)
		e.breaker.OnReset(bus.PublishBreakerReleased)
	}

	return e
}

// SetStore wires optional decision persistence. Writes that fail are logged
// and dropped; the engine keeps deciding.
func (e *Engine) SetStore(store DecisionStore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// CrashProtector exposes the crash protector for management surfaces.
func (e *Engine) CrashProtector() *crash.Protector { return e.crashGuard }

// CircuitBreaker exposes the stop-loss breaker for management surfaces.
func (e *Engine) CircuitBreaker() *circuit.Breaker { return e.breaker }

// RegimeHistory returns the recent classification results, oldest first.
func (e *Engine) RegimeHistory() []regime.Result { return e.classifier.History() }

type instrumentState struct {
	snap   market.Snapshot
	fields market.FieldSet
	levels *market.Levels
}

// cycleEnv is the read-only context shared by every instrument evaluation
// in one cycle.
type cycleEnv struct {
	at            time.Time
	params        regime.AdaptiveParameters
	regime        regime.Result
	breadth       *market.MarketBreadth
	capital       float64
	openPositions int
	vetoReason    string
}

// EvaluateCycle runs one full decision pass over the requested instruments.
// The leading asset drives crash detection and regime classification; every
// instrument is then evaluated concurrently against the resolved adaptive
// parameters. Decisions come back sorted by combined score, best first.
func (e *Engine) EvaluateCycle(req CycleRequest) CycleResult {
	started := time.Now()
	at := req.At
	if at.IsZero() {
		at = e.now()
	}

	result := CycleResult{
		CycleID:   uuid.New().String(),
		StartedAt: at,
		Decisions: []Decision{},
	}

	instruments := make([]instrumentState, 0, len(req.Instruments))
	for _, upd := range req.Instruments {
		snap, fields := upd.Snapshot.Normalize()
		instruments = append(instruments, instrumentState{snap: snap, fields: fields, levels: upd.Levels})
	}

	if len(instruments) == 0 {
		result.Parameters = regime.ResolveParameters(regime.Result{})
		result.Duration = time.Since(started)
		e.logger.Debug().Str("cycle_id", result.CycleID).Msg("Empty cycle request")
		return result
	}

	leading := e.leadingInstrument(instruments)

	// Crash detection feeds on the leading asset; every instrument joins
	// the basket for the multi-asset trigger.
	for _, inst := range instruments {
		if inst.snap.CurrentPrice > 0 {
			e.crashGuard.RecordBasketPrice(inst.snap.Symbol, inst.snap.CurrentPrice, at)
		}
	}
	if leading.snap.CurrentPrice > 0 {
		e.crashGuard.RecordPrice(leading.snap.CurrentPrice, leading.snap.CurrentVolume, at)
	}
	if crashType := e.crashGuard.Check(at); crashType != crash.None {
		e.logger.Warn().Str("crash_type", string(crashType)).Msg("Crash condition detected")
	}

	tradingAllowed, pauseReason := e.crashGuard.TradingAllowed(at)
	breakerOK, breakerReason := e.breaker.CanTrade(at)

	var vetoReason string
	switch {
	case !tradingAllowed:
		vetoReason = pauseReason
	case !breakerOK:
		vetoReason = breakerReason
	}

	regimeResult := e.classifier.Classify(leading.snap, req.Sentiment, req.Breadth)
	params := regime.ResolveParameters(regimeResult)
	if !tradingAllowed {
		params.TradingMode = regime.ModePaused
	}
	result.Regime = regimeResult
	result.Parameters = params

	e.publishRegimeChange(regimeResult)

	env := cycleEnv{
		at:            at,
		params:        params,
		regime:        regimeResult,
		breadth:       req.Breadth,
		capital:       req.Capital,
		openPositions: req.OpenPositionCount,
		vetoReason:    vetoReason,
	}

	jobs := make(chan int, len(instruments))
	decisions := make(chan Decision, len(instruments))

	var wg sync.WaitGroup
	for i := 0; i < e.workerCount(len(instruments)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				decisions <- e.evaluateInstrument(instruments[idx], env)
			}
		}()
	}

	for idx := range instruments {
		jobs <- idx
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(decisions)
	}()

	for d := range decisions {
		result.Decisions = append(result.Decisions, d)
		if d.TradeAllowed {
			result.Tradable++
		}
	}
	result.Evaluated = len(result.Decisions)

	sort.Slice(result.Decisions, func(i, j int) bool {
		return result.Decisions[i].Score > result.Decisions[j].Score
	})

	result.Duration = time.Since(started)

	e.mu.Lock()
	for _, d := range result.Decisions {
		if d.TradeAllowed {
			e.lastEntry[d.Symbol] = at
		}
	}
	e.cyclesRun++
	cycleCopy := result
	e.lastCycle = &cycleCopy
	e.mu.Unlock()

	e.persistDecisions(result.Decisions)

	if e.bus != nil {
		for _, d := range result.Decisions {
			if d.TradeAllowed {
				e.bus.PublishDecision(events.DecisionEvent{
					ID:         d.ID,
					Symbol:     d.Symbol,
					Direction:  string(d.Direction),
					Allowed:    true,
					Score:      d.Score,
					EntryPrice: d.EntryPrice,
					StopLoss:   d.StopLoss,
					TakeProfit: d.TakeProfit1,
					Notional:   d.Notional,
				})
			}
		}
		e.bus.PublishCycleCompleted(result.CycleID, string(regimeResult.Regime),
			result.Evaluated, result.Tradable, result.Duration)
	}

	e.logger.Info().
		Str("cycle_id", result.CycleID).
		Str("regime", string(regimeResult.Regime)).
		Str("mode", string(params.TradingMode)).
		Int("evaluated", result.Evaluated).
		Int("tradable", result.Tradable).
		Dur("duration", result.Duration).
		Msg("Cycle completed")

	return result
}

// evaluateInstrument runs the per-instrument pipeline. The ordered veto
// chain is authoritative: a veto rejects the trade no matter how strong the
// signal scored.
func (e *Engine) evaluateInstrument(inst instrumentState, env cycleEnv) Decision {
	d := Decision{
		ID:        uuid.New().String(),
		Symbol:    inst.snap.Symbol,
		Direction: signal.Neutral,
		CreatedAt: env.at,
	}

	sig := e.generator.Generate(inst.snap, inst.levels)
	d.Direction = sig.Direction
	d.Confidence = sig.Confidence
	d.ContextFactors = append(d.ContextFactors, sig.Reasons...)

	if !sig.IsActionable() {
		d.Score = round2(e.cfg.ConfidenceWeight * sig.Confidence)
		d.RejectionReason = "no actionable signal"
		return d
	}

	d.EntryPrice = sig.EntryPrice
	d.StopLoss = sig.StopLoss
	d.TakeProfit1 = sig.TakeProfit1
	d.TakeProfit2 = sig.TakeProfit2
	d.RiskReward = sig.RiskReward

	validation := e.validator.Validate(sig, inst.snap, inst.fields)
	d.Coherence = validation.Coherence
	d.ContextFactors = append(d.ContextFactors, validation.Strengths...)
	d.RiskWarnings = append(d.RiskWarnings, validation.Warnings...)
	d.Score = round2(e.cfg.ConfidenceWeight*sig.Confidence + e.cfg.CoherenceWeight*validation.Coherence)

	// Protector vetoes.
	if env.vetoReason != "" {
		d.RejectionReason = env.vetoReason
		return d
	}
	if sig.Direction == signal.Long && !env.params.AllowLong {
		d.RejectionReason = fmt.Sprintf("LONG entries not allowed in %s regime", env.regime.Regime)
		return d
	}
	if sig.Direction == signal.Short && !env.params.AllowShort {
		d.RejectionReason = fmt.Sprintf("SHORT entries not allowed in %s regime", env.regime.Regime)
		return d
	}
	if remaining := e.cooldownRemaining(d.Symbol, env.at, env.params.CooldownMinutes); remaining > 0 {
		d.RejectionReason = fmt.Sprintf("symbol cooldown active, %s remaining", remaining.Round(time.Second))
		return d
	}
	if env.openPositions >= env.params.MaxOpenPositions {
		d.RejectionReason = fmt.Sprintf("maximum open positions reached (%d)", env.params.MaxOpenPositions)
		return d
	}
	if env.params.RequireMomentumConfirm && momentumContradicts(sig.Direction, inst.snap.PriceMomentum) {
		d.RejectionReason = fmt.Sprintf("momentum contradicts %s entry", sig.Direction)
		return d
	}

	// Quality gates.
	if !validation.IsValid {
		d.RejectionReason = "signal failed coherence validation"
		return d
	}
	if d.Score < env.params.MinimumScore {
		d.RejectionReason = fmt.Sprintf("score %.1f below regime minimum %.1f", d.Score, env.params.MinimumScore)
		return d
	}
	if env.params.RequireVolumeConfirm && inst.snap.VolumeRatio < 1.0 {
		d.RejectionReason = "regime requires volume confirmation"
		return d
	}

	passed, failures := e.entryFilters.Evaluate(filters.Input{
		Symbol:        d.Symbol,
		VolumeRatio:   inst.snap.VolumeRatio,
		CombinedScore: d.Score,
		Breadth:       env.breadth,
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit1,
		Now:           env.at,
	})
	if !passed {
		d.RiskWarnings = append(d.RiskWarnings, failures...)
		d.RejectionReason = "blocked by entry filters"
		return d
	}

	size := e.sizer.Calculate(sizing.Input{
		Symbol:              d.Symbol,
		TechnicalScore:      d.Score,
		ExternalProbability: env.regime.Confidence,
		ATRPercent:          inst.snap.ATRPercent,
		Capital:             env.capital,
		InitialCapital:      e.cfg.InitialCapital,
	})
	size = e.sizer.Rescale(size, env.params.PositionSizeMultiplier, env.capital)

	d.PositionPct = size.PositionPct
	d.Notional = size.PositionValue
	d.TradeAllowed = true
	return d
}

// ReviewPositions runs the reversal protector over open positions. While a
// crash pause is active each review also carries a tightened emergency stop
// recommendation.
func (e *Engine) ReviewPositions(req ReviewRequest) []PositionReview {
	at := req.At
	if at.IsZero() {
		at = e.now()
	}

	allowed, _ := e.crashGuard.TradingAllowed(at)
	crashType := e.crashGuard.ActiveCrash()

	reviews := make([]PositionReview, 0, len(req.Positions))
	for _, open := range req.Positions {
		snap, _ := open.Snapshot.Normalize()
		review := e.reversalGuard.ReviewPosition(open.Position, snap)

		pr := PositionReview{Review: review}
		if !allowed {
			pr.CrashType = crashType
			pr.EmergencyStop = e.crashGuard.EmergencyStop(string(open.Position.Direction), snap.CurrentPrice)
		}
		reviews = append(reviews, pr)

		if e.bus != nil && review.Action != reversal.ActionHold {
			e.bus.PublishPositionReview(review.Symbol, string(review.Action), review.Reason)
		}
	}
	return reviews
}

// RecordTradeClosure feeds a finished trade into the sizer and, for
// stop-loss exits, the circuit breaker.
func (e *Engine) RecordTradeClosure(closure TradeClosure) {
	at := closure.ClosedAt
	if at.IsZero() {
		at = e.now()
	}

	e.sizer.RecordOutcome(closure.PnLPercent > 0, closure.PnLPercent)
	if closure.ExitReason == ExitStopLoss {
		e.breaker.RecordStopLossClosure(closure.Symbol, at)
	}

	if e.bus != nil {
		e.bus.PublishTradeClosed(closure.Symbol, closure.PnL, closure.PnLPercent, closure.ExitReason)
	}

	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store != nil {
		if err := store.SaveClosure(context.Background(), closure); err != nil {
			e.logger.Warn().Err(err).Str("symbol", closure.Symbol).Msg("Failed to persist closure")
		}
	}

	e.logger.Info().
		Str("symbol", closure.Symbol).
		Float64("pnl_pct", closure.PnLPercent).
		Str("exit_reason", closure.ExitReason).
		Msg("Trade closure recorded")
}

// RestoreOutcomes replays persisted trade outcomes into the sizer's
// performance window, oldest first. Unlike RecordTradeClosure it does not
// publish events, arm the circuit breaker or write to the store, so it is
// safe to call with history that was already recorded.
func (e *Engine) RestoreOutcomes(closures []TradeClosure) {
	for _, c := range closures {
		e.sizer.RecordOutcome(c.PnLPercent > 0, c.PnLPercent)
	}
	if len(closures) > 0 {
		e.logger.Info().Int("count", len(closures)).Msg("Restored trade outcomes into sizer window")
	}
}

// StateSnapshot bundles the persistable protection and learning state.
type StateSnapshot struct {
	Crash   crash.Snapshot          `json:"crash"`
	Breaker []circuit.ClosureRecord `json:"breaker"`
	Sizer   sizing.Snapshot         `json:"sizer"`
	SavedAt time.Time               `json:"saved_at"`
}

// ExportState captures the protection and learning state for persistence.
func (e *Engine) ExportState() StateSnapshot {
	return StateSnapshot{
		Crash:   e.crashGuard.Export(),
		Breaker: e.breaker.Export(),
		Sizer:   e.sizer.Export(),
		SavedAt: e.now(),
	}
}

// ImportState restores a persisted snapshot. Expired pauses and breaker
// history outside the trailing window are discarded by the components
// themselves.
func (e *Engine) ImportState(snap StateSnapshot) {
	at := e.now()
	e.crashGuard.Restore(snap.Crash, at)
	e.breaker.Restore(snap.Breaker, at)
	e.sizer.Restore(snap.Sizer)
	e.logger.Info().Time("saved_at", snap.SavedAt).Msg("Engine state imported")
}

// ProtectionStatus aggregates the state of every protective layer.
func (e *Engine) ProtectionStatus() map[string]interface{} {
	return map[string]interface{}{
		"crash":           e.crashGuard.Status(),
		"circuit_breaker": e.breaker.Status(e.now()),
	}
}

// Status returns the engine state for status endpoints.
func (e *Engine) Status() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := map[string]interface{}{
		"cycles_run":       e.cyclesRun,
		"workers":          e.cfg.Workers,
		"leading_symbol":   e.cfg.LeadingSymbol,
		"cooldown_symbols": len(e.lastEntry),
		"sizer":            e.sizer.Stats(),
	}
	if e.lastCycle != nil {
		status["last_cycle_id"] = e.lastCycle.CycleID
		status["last_regime"] = string(e.lastCycle.Regime.Regime)
		status["trading_mode"] = string(e.lastCycle.Parameters.TradingMode)
		status["last_tradable"] = e.lastCycle.Tradable
	}
	return status
}

// leadingInstrument returns the configured leading asset, falling back to
// the first instrument when it is absent from the request.
func (e *Engine) leadingInstrument(instruments []instrumentState) instrumentState {
	for _, inst := range instruments {
		if inst.snap.Symbol == e.cfg.LeadingSymbol {
			return inst
		}
	}
	return instruments[0]
}

func (e *Engine) workerCount(instruments int) int {
	w := e.cfg.Workers
	if w <= 0 {
		w = 1
	}
	if w > instruments {
		w = instruments
	}
	return w
}

// cooldownRemaining returns how long the symbol's entry cooldown still has
// to run, or zero when entries are allowed again.
func (e *Engine) cooldownRemaining(symbol string, at time.Time, cooldownMinutes int) time.Duration {
	if cooldownMinutes <= 0 {
		return 0
	}

	e.mu.Lock()
	last, ok := e.lastEntry[symbol]
	e.mu.Unlock()
	if !ok {
		return 0
	}

	deadline := last.Add(time.Duration(cooldownMinutes) * time.Minute)
	if at.Before(deadline) {
		return deadline.Sub(at)
	}
	return 0
}

func (e *Engine) publishRegimeChange(current regime.Result) {
	e.mu.Lock()
	previous := e.lastRegime
	e.lastRegime = current.Regime
	e.mu.Unlock()

	if e.bus != nil && previous != "" && previous != current.Regime {
		e.bus.PublishRegimeChanged(string(previous), string(current.Regime), current.Confidence)
	}
}

func (e *Engine) persistDecisions(decisions []Decision) {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil {
		return
	}

	ctx := context.Background()
	for _, d := range decisions {
		if err := store.SaveDecision(ctx, d); err != nil {
			e.logger.Warn().Err(err).Str("decision_id", d.ID).Msg("Failed to persist decision")
		}
	}
}

func momentumContradicts(dir signal.Direction, momentum market.Momentum) bool {
	return (dir == signal.Long && momentum == market.MomentumBearish) ||
		(dir == signal.Short && momentum == market.MomentumBullish)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
