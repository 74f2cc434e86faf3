// Package signal produces directional trade signals from indicator snapshots
// and validates them for coherence before they reach sizing and filters.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

// Direction is the proposed trade side.
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// Result is one generated signal. For LONG and SHORT the price envelope is
// always complete: entry, stop, and both targets are set and risk/reward is
// positive. NEUTRAL carries no envelope.
type Result struct {
	Symbol               string    `json:"symbol"`
	Direction            Direction `json:"direction"`
	Confidence           float64   `json:"confidence"`
	BullishConfirmations float64   `json:"bullish_confirmations"`
	BearishConfirmations float64   `json:"bearish_confirmations"`
	EntryPrice           float64   `json:"entry_price"`
	StopLoss             float64   `json:"stop_loss"`
	TakeProfit1          float64   `json:"take_profit_1"`
	TakeProfit2          float64   `json:"take_profit_2"`
	RiskReward           float64   `json:"risk_reward_ratio"`
	Reasons              []string  `json:"reasons"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// IsActionable reports whether the signal proposes a trade.
func (r Result) IsActionable() bool {
	return r.Direction == Long || r.Direction == Short
}

// GeneratorConfig holds the emission thresholds and envelope multipliers.
type GeneratorConfig struct {
	MinConfirmations float64 `json:"min_confirmations"`
	MinConfidence    float64 `json:"min_confidence"`
	StopATRMult      float64 `json:"stop_atr_mult"`
	TP1ATRMult       float64 `json:"tp1_atr_mult"`
	TP2ATRMult       float64 `json:"tp2_atr_mult"`
	LevelProximity   float64 `json:"level_proximity"` // fraction of entry
}

// DefaultGeneratorConfig returns the production thresholds.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinConfirmations: 5,
		MinConfidence:    55,
		StopATRMult:      2.5,
		TP1ATRMult:       3.5,
		TP2ATRMult:       3.0,
		LevelProximity:   0.02,
	}
}

// Generator tallies weighted confirmations from a snapshot and emits a
// directional signal when count and confidence both clear their thresholds.
// Stateless; safe for concurrent use.
type Generator struct {
	cfg    GeneratorConfig
	logger zerolog.Logger
}

// NewGenerator creates a signal generator.
func NewGenerator(cfg GeneratorConfig, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger.With().Str("component", "signal").Logger(),
	}
}

// Generate evaluates one snapshot. A snapshot without a usable price yields
// NEUTRAL; missing indicators contribute their neutral defaults and simply
// fail to confirm.
func (g *Generator) Generate(snap market.Snapshot, levels *market.Levels) Result {
	if snap.CurrentPrice <= 0 {
		return Result{Symbol: snap.Symbol, Direction: Neutral, GeneratedAt: time.Now()}
	}

	var (
		bull, bear float64
		confidence float64
		reasons    []string
	)

	trendBullish := snap.EMA9 > snap.EMA21

	// EMA alignment with price on the right side of the fast average.
	if trendBullish && snap.CurrentPrice > snap.EMA9 {
		bull += 2
		confidence += 20
		reasons = append(reasons, "EMA alignment bullish with price above fast EMA")
	} else if !trendBullish && snap.CurrentPrice < snap.EMA9 {
		bear += 2
		confidence += 20
		reasons = append(reasons, "EMA alignment bearish with price below fast EMA")
	}

	// RSI bands. The strong band needs momentum agreement, the recovery
	// band does not.
	switch {
	case snap.RSI14 >= 45 && snap.RSI14 <= 65 && snap.PriceMomentum == market.MomentumBullish:
		bull += 2
		confidence += 20
		reasons = append(reasons, fmt.Sprintf("RSI %.1f in bullish band with momentum", snap.RSI14))
	case snap.RSI14 >= 30 && snap.RSI14 < 45:
		bull++
		confidence += 10
		reasons = append(reasons, fmt.Sprintf("RSI %.1f recovering from oversold", snap.RSI14))
	}
	switch {
	case snap.RSI14 >= 35 && snap.RSI14 <= 55 && snap.PriceMomentum == market.MomentumBearish:
		bear += 2
		confidence += 20
		reasons = append(reasons, fmt.Sprintf("RSI %.1f in bearish band with momentum", snap.RSI14))
	case snap.RSI14 > 55 && snap.RSI14 <= 70:
		bear++
		confidence += 10
		reasons = append(reasons, fmt.Sprintf("RSI %.1f fading from overbought", snap.RSI14))
	}

	if snap.BullishDivergence {
		bull += 2
		confidence += 20
		reasons = append(reasons, "Bullish RSI divergence")
	}
	if snap.BearishDivergence {
		bear += 2
		confidence += 20
		reasons = append(reasons, "Bearish RSI divergence")
	}

	// MACD: a fresh histogram sign flip is a cross, diff magnitude decides
	// the weight.
	macdDiff := snap.MACD - snap.MACDSignal
	if macdDiff > 0 {
		if snap.MACDHist > 0 && snap.MACDHistPrev <= 0 {
			confidence += 15
			reasons = append(reasons, "Fresh bullish MACD cross")
		}
		if math.Abs(macdDiff) > 0.00005 {
			bull += 2
			confidence += 10
		} else {
			bull++
		}
	} else if macdDiff < 0 {
		if snap.MACDHist < 0 && snap.MACDHistPrev >= 0 {
			confidence += 15
			reasons = append(reasons, "Fresh bearish MACD cross")
		}
		if math.Abs(macdDiff) > 0.00005 {
			bear += 2
			confidence += 10
		} else {
			bear++
		}
	}

	// Volume expansion confirms whichever side the EMA trend points to.
	if snap.VolumeRatio >= 1.3 {
		confidence += 15
		if trendBullish {
			bull += 2
		} else {
			bear += 2
		}
		reasons = append(reasons, fmt.Sprintf("Volume %.1fx average", snap.VolumeRatio))
	} else if snap.VolumeRatio >= 1.0 {
		confidence += 5
		if trendBullish {
			bull += 0.5
		} else {
			bear += 0.5
		}
	}

	// Bollinger position riding the band with momentum behind it.
	if snap.BBPercent > 0.7 && snap.PriceMomentum == market.MomentumBullish {
		bull++
		reasons = append(reasons, "Riding upper Bollinger band")
	} else if snap.BBPercent < 0.3 && snap.PriceMomentum == market.MomentumBearish {
		bear++
		reasons = append(reasons, "Riding lower Bollinger band")
	}

	if snap.IsBearishCandle {
		bear++
		confidence += 5
	}

	// Ranging veto: a weak ADX drains confidence rather than zeroing the
	// tallies, so borderline setups fall below the emission threshold.
	if snap.ADX < 20 {
		confidence -= 25
		reasons = append(reasons, fmt.Sprintf("ADX %.1f signals ranging market", snap.ADX))
	}

	confidence = clamp(confidence, 0, 100)

	direction := Neutral
	switch {
	case bull >= g.cfg.MinConfirmations && confidence >= g.cfg.MinConfidence && trendBullish:
		direction = Long
	case bear >= g.cfg.MinConfirmations && confidence >= g.cfg.MinConfidence && !trendBullish:
		direction = Short
	}

	result := Result{
		Symbol:               snap.Symbol,
		Direction:            direction,
		Confidence:           confidence,
		BullishConfirmations: bull,
		BearishConfirmations: bear,
		Reasons:              reasons,
		GeneratedAt:          time.Now(),
	}

	if direction == Neutral {
		return result
	}

	g.fillEnvelope(&result, snap, levels)

	g.logger.Debug().
		Str("symbol", snap.Symbol).
		Str("direction", string(direction)).
		Float64("confidence", confidence).
		Float64("rr", result.RiskReward).
		Msg("Signal generated")

	return result
}

// fillEnvelope computes entry, stop, targets, and risk/reward. The ATR stop
// is tightened to a nearby support or resistance when one sits within the
// configured proximity of entry and inside the ATR stop.
func (g *Generator) fillEnvelope(r *Result, snap market.Snapshot, levels *market.Levels) {
	entry := snap.CurrentPrice
	atr := snap.ATR
	r.EntryPrice = entry

	if r.Direction == Long {
		stop := entry - g.cfg.StopATRMult*atr
		if levels != nil {
			if s, ok := nearestSupport(levels.Supports, entry, g.cfg.LevelProximity); ok {
				if adjusted := s * 0.995; adjusted > stop {
					stop = adjusted
				}
			}
		}
		r.StopLoss = stop
		r.TakeProfit1 = entry + g.cfg.TP1ATRMult*atr
		r.TakeProfit2 = entry + g.cfg.TP2ATRMult*atr
	} else {
		stop := entry + g.cfg.StopATRMult*atr
		if levels != nil {
			if res, ok := nearestResistance(levels.Resistances, entry, g.cfg.LevelProximity); ok {
				if adjusted := res * 1.005; adjusted < stop {
					stop = adjusted
				}
			}
		}
		r.StopLoss = stop
		r.TakeProfit1 = entry - g.cfg.TP1ATRMult*atr
		r.TakeProfit2 = entry - g.cfg.TP2ATRMult*atr
	}

	risk := math.Abs(entry - r.StopLoss)
	if risk > 0 {
		r.RiskReward = math.Round(math.Abs(r.TakeProfit1-entry)/risk*100) / 100
	}
}

// nearestSupport returns the highest support below entry within the
// proximity fraction.
func nearestSupport(supports []float64, entry, proximity float64) (float64, bool) {
	best, found := 0.0, false
	for _, s := range supports {
		if s <= 0 || s >= entry {
			continue
		}
		if (entry-s)/entry > proximity {
			continue
		}
		if !found || s > best {
			best, found = s, true
		}
	}
	return best, found
}

// nearestResistance returns the lowest resistance above entry within the
// proximity fraction.
func nearestResistance(resistances []float64, entry, proximity float64) (float64, bool) {
	best, found := 0.0, false
	for _, r := range resistances {
		if r <= entry {
			continue
		}
		if (r-entry)/entry > proximity {
			continue
		}
		if !found || r < best {
			best, found = r, true
		}
	}
	return best, found
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
