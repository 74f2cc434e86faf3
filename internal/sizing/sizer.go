// Package sizing computes position sizes from a quarter-Kelly base scaled by
// volatility, signal quality, and account drawdown. The sizer learns its win
// rate and average win/loss magnitudes from recorded trade outcomes.
package sizing

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Config holds the sizing bounds and the Kelly fraction.
type Config struct {
	KellyFraction   float64 `json:"kelly_fraction"`
	MinPositionPct  float64 `json:"min_position_pct"`
	MaxPositionPct  float64 `json:"max_position_pct"`
	MinNotional     float64 `json:"min_notional"`
	MaxCapitalShare float64 `json:"max_capital_share"`
}

// DefaultConfig returns the production sizing bounds: quarter-Kelly, 2-20%
// of capital per position, 10 USDT minimum notional, 40% single-allocation
// cap.
func DefaultConfig() Config {
	return Config{
		KellyFraction:   0.25,
		MinPositionPct:  2,
		MaxPositionPct:  20,
		MinNotional:     10,
		MaxCapitalShare: 0.40,
	}
}

// Input carries everything one sizing call needs. Capital is queried by the
// caller per call, not cached here.
type Input struct {
	Symbol              string  `json:"symbol"`
	TechnicalScore      float64 `json:"technical_score"`
	ExternalProbability float64 `json:"external_probability"`
	ATRPercent          float64 `json:"atr_percent"`
	Capital             float64 `json:"capital"`
	InitialCapital      float64 `json:"initial_capital"`
}

// Result is the sizing decision with every multiplier exposed for logging
// and the API.
type Result struct {
	PositionPct        float64 `json:"position_pct"`
	PositionValue      float64 `json:"position_value"`
	KellyPct           float64 `json:"kelly_pct"`
	ATRMultiplier      float64 `json:"atr_multiplier"`
	QualityMultiplier  float64 `json:"quality_multiplier"`
	DrawdownMultiplier float64 `json:"drawdown_multiplier"`
	WinRate            float64 `json:"win_rate"`
	SampleSize         int     `json:"sample_size"`
}

// The smoothing factor and seeds for the win/loss magnitude averages.
const (
	smoothingFactor = 0.1
	seedAvgWin      = 3.5
	seedAvgLoss     = 2.0
	outcomeWindow   = 100
	minSamples      = 5
	defaultWinRate  = 0.55
	defaultPayoff   = 1.5
)

// Sizer holds the outcome window and smoothed averages behind a mutex. All
// methods are safe for concurrent use.
type Sizer struct {
	mu       sync.Mutex
	cfg      Config
	outcomes []bool
	wins     int
	avgWin   float64
	avgLoss  float64
	logger   zerolog.Logger
}

// NewSizer creates a position sizer with seeded averages.
func NewSizer(cfg Config, logger zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:      cfg,
		outcomes: make([]bool, 0, outcomeWindow),
		avgWin:   seedAvgWin,
		avgLoss:  seedAvgLoss,
		logger:   logger.With().Str("component", "sizer").Logger(),
	}
}

// RecordOutcome feeds one closed trade into the window and the smoothed
// averages. The window keeps the most recent entries only.
func (s *Sizer) RecordOutcome(isWin bool, pnlPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outcomes) >= outcomeWindow {
		if s.outcomes[0] {
			s.wins--
		}
		s.outcomes = s.outcomes[1:]
	}
	s.outcomes = append(s.outcomes, isWin)

	magnitude := math.Abs(pnlPercent)
	if isWin {
		s.wins++
		s.avgWin = s.avgWin*(1-smoothingFactor) + magnitude*smoothingFactor
	} else {
		s.avgLoss = s.avgLoss*(1-smoothingFactor) + magnitude*smoothingFactor
	}

	s.logger.Debug().
		Bool("win", isWin).
		Float64("pnl_pct", pnlPercent).
		Int("samples", len(s.outcomes)).
		Msg("Trade outcome recorded")
}

// Calculate sizes one position. Total over its inputs: missing or degenerate
// values hit explicit default branches and the result is always inside the
// configured bounds.
func (s *Sizer) Calculate(in Input) Result {
	s.mu.Lock()
	p := s.winRateLocked()
	samples := len(s.outcomes)
	avgWin, avgLoss := s.avgWin, s.avgLoss
	s.mu.Unlock()

	b := defaultPayoff
	if avgLoss > 0 {
		b = avgWin / avgLoss
	}
	q := 1 - p
	kelly := (p*b - q) / b
	if kelly < 0 {
		kelly = 0
	}
	kelly *= s.cfg.KellyFraction

	basePct := kelly * 100
	if basePct < s.cfg.MinPositionPct {
		basePct = s.cfg.MinPositionPct
	}

	atrMult := atrMultiplier(in.ATRPercent)
	qualityMult := qualityMultiplier(in.TechnicalScore*0.6 + in.ExternalProbability*0.4)
	ddMult := drawdownMultiplier(drawdownPercent(in.Capital, in.InitialCapital))

	pct := clamp(basePct*atrMult*qualityMult*ddMult, s.cfg.MinPositionPct, s.cfg.MaxPositionPct)

	value := in.Capital * pct / 100
	if value < s.cfg.MinNotional {
		value = s.cfg.MinNotional
	}
	if share := in.Capital * s.cfg.MaxCapitalShare; value > share {
		value = share
	}

	return Result{
		PositionPct:        pct,
		PositionValue:      value,
		KellyPct:           kelly * 100,
		ATRMultiplier:      atrMult,
		QualityMultiplier:  qualityMult,
		DrawdownMultiplier: ddMult,
		WinRate:            p,
		SampleSize:         samples,
	}
}

// Rescale applies a regime size multiplier to a sizing result and re-applies
// the percentage bounds, the notional floor and the capital share cap.
func (s *Sizer) Rescale(res Result, multiplier, capital float64) Result {
	if multiplier <= 0 {
		multiplier = 1.0
	}

	pct := clamp(res.PositionPct*multiplier, s.cfg.MinPositionPct, s.cfg.MaxPositionPct)

	value := capital * pct / 100
	if value < s.cfg.MinNotional {
		value = s.cfg.MinNotional
	}
	if share := capital * s.cfg.MaxCapitalShare; value > share {
		value = share
	}

	res.PositionPct = pct
	res.PositionValue = value
	return res
}

// Snapshot is the persistable learning state.
type Snapshot struct {
	Outcomes []bool  `json:"outcomes"`
	AvgWin   float64 `json:"avg_win"`
	AvgLoss  float64 `json:"avg_loss"`
}

// Export returns the learning state for persistence.
func (s *Sizer) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]bool, len(s.outcomes))
	copy(outcomes, s.outcomes)
	return Snapshot{Outcomes: outcomes, AvgWin: s.avgWin, AvgLoss: s.avgLoss}
}

// Restore replaces the learning state with a persisted snapshot. Zero or
// negative averages fall back to the seeds.
func (s *Sizer) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := snap.Outcomes
	if n := len(outcomes); n > outcomeWindow {
		outcomes = outcomes[n-outcomeWindow:]
	}

	s.outcomes = s.outcomes[:0]
	s.wins = 0
	for _, win := range outcomes {
		s.outcomes = append(s.outcomes, win)
		if win {
			s.wins++
		}
	}

	s.avgWin = snap.AvgWin
	if s.avgWin <= 0 {
		s.avgWin = seedAvgWin
	}
	s.avgLoss = snap.AvgLoss
	if s.avgLoss <= 0 {
		s.avgLoss = seedAvgLoss
	}

	s.logger.Info().Int("samples", len(s.outcomes)).Msg("Sizer state restored")
}

// Stats returns the sizer's learning state for status endpoints.
func (s *Sizer) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"sample_size":  len(s.outcomes),
		"win_rate":     s.winRateLocked(),
		"avg_win_pct":  s.avgWin,
		"avg_loss_pct": s.avgLoss,
	}
}

// winRateLocked returns the empirical win rate, or the default prior until
// the window holds enough samples. Caller must hold the mutex.
func (s *Sizer) winRateLocked() float64 {
	if len(s.outcomes) < minSamples {
		return defaultWinRate
	}
	return float64(s.wins) / float64(len(s.outcomes))
}

// atrMultiplier shrinks size as volatility grows and nudges it up in very
// quiet markets.
func atrMultiplier(atrPercent float64) float64 {
	switch {
	case atrPercent > 8:
		return 0.5
	case atrPercent > 5:
		return 0.7
	case atrPercent > 3:
		return 1.0
	case atrPercent > 1.5:
		return 1.2
	default:
		return 1.0
	}
}

// qualityMultiplier scales size by the blended signal score.
func qualityMultiplier(combined float64) float64 {
	switch {
	case combined >= 85:
		return 1.4
	case combined >= 75:
		return 1.2
	case combined >= 65:
		return 1.0
	case combined >= 55:
		return 0.8
	default:
		return 0.6
	}
}

// drawdownPercent is the account's change vs its initial capital, negative
// in drawdown. Zero when the initial capital is unknown.
func drawdownPercent(capital, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (capital - initial) / initial * 100
}

// drawdownMultiplier cuts risk hard in drawdown and lets profits compound
// modestly.
func drawdownMultiplier(ddPercent float64) float64 {
	switch {
	case ddPercent < -15:
		return 0.3
	case ddPercent < -10:
		return 0.5
	case ddPercent < -5:
		return 0.7
	case ddPercent < 0:
		return 0.9
	case ddPercent < 10:
		return 1.0
	case ddPercent < 25:
		return 1.1
	default:
		return 1.2
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
