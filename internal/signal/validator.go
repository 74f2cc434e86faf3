package signal

import (
	"fmt"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

// ValidationResult reports how coherently the snapshot supports a proposed
// direction. Coherence is normalized against the maximum achievable given
// which indicator groups the producer actually supplied.
type ValidationResult struct {
	IsValid       bool     `json:"is_valid"`
	Coherence     float64  `json:"coherence_score"`
	RawScore      float64  `json:"raw_score"`
	AchievableMax float64  `json:"achievable_max"`
	Strengths     []string `json:"strengths"`
	Warnings      []string `json:"warnings"`
}

// ValidatorConfig holds the acceptance thresholds.
type ValidatorConfig struct {
	MinCoherence float64 `json:"min_coherence"`
	MaxWarnings  int     `json:"max_warnings"`
}

// DefaultValidatorConfig returns the production thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{MinCoherence: 70, MaxWarnings: 2}
}

// Check point weights. They deliberately sum past 100; normalization against
// the achievable maximum keeps the coherence scale stable whatever subset of
// fields arrives.
const (
	emaPoints        = 20
	smaPoints        = 15
	rsiPoints        = 15
	macdPoints       = 15
	stochasticPoints = 10
	adxPoints        = 15
	volumePoints     = 10
	bollingerPoints  = 10
	patternPoints    = 10
	divergencePoints = 10
)

// Validator re-scores a generated signal against the snapshot with ten
// independent checks. Stateless and idempotent.
type Validator struct {
	cfg    ValidatorConfig
	logger zerolog.Logger
}

// NewValidator creates a signal validator.
func NewValidator(cfg ValidatorConfig, logger zerolog.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		logger: logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks the proposed direction only. NEUTRAL signals are never
// valid. Checks whose inputs were absent contribute to neither the score nor
// the achievable maximum.
func (v *Validator) Validate(sig Result, snap market.Snapshot, fields market.FieldSet) ValidationResult {
	if !sig.IsActionable() {
		return ValidationResult{Warnings: []string{"Neutral signal"}}
	}

	long := sig.Direction == Long
	var res ValidationResult

	if fields.Has(market.FieldEMA) {
		res.AchievableMax += emaPoints
		if long == (snap.EMA9 > snap.EMA21) {
			res.RawScore += emaPoints
			res.Strengths = append(res.Strengths, "EMA trend agrees")
		} else {
			res.Warnings = append(res.Warnings, "EMA trend against the signal")
		}
	}

	if fields.Has(market.FieldSMA) {
		res.AchievableMax += smaPoints
		if long == (snap.CurrentPrice > snap.SMA50) {
			res.RawScore += smaPoints
			res.Strengths = append(res.Strengths, "Price on the right side of SMA50")
		} else {
			res.Warnings = append(res.Warnings, "Price on the wrong side of SMA50")
		}
	}

	if fields.Has(market.FieldRSI) {
		res.AchievableMax += rsiPoints
		v.checkRSI(long, snap.RSI14, &res)
	}

	if fields.Has(market.FieldMACD) {
		res.AchievableMax += macdPoints
		if long == (snap.MACD > snap.MACDSignal) {
			res.RawScore += macdPoints
			res.Strengths = append(res.Strengths, "MACD agrees")
		} else {
			res.Warnings = append(res.Warnings, "MACD against the signal")
		}
	}

	if fields.Has(market.FieldStochastic) {
		res.AchievableMax += stochasticPoints
		if long == (snap.StochK > snap.StochD) {
			res.RawScore += stochasticPoints
			res.Strengths = append(res.Strengths, "Stochastic agrees")
		} else {
			res.Warnings = append(res.Warnings, "Stochastic against the signal")
		}
	}

	if fields.Has(market.FieldADX) {
		res.AchievableMax += adxPoints
		if snap.ADX > 20 {
			res.RawScore += adxPoints
			res.Strengths = append(res.Strengths, "Trend strength present")
		} else {
			// Soft market is risky but not disqualifying on its own.
			res.RawScore += 5
			res.Warnings = append(res.Warnings, fmt.Sprintf("Weak trend (ADX %.1f)", snap.ADX))
		}
	}

	if fields.Has(market.FieldVolume) {
		res.AchievableMax += volumePoints
		if snap.VolumeRatio >= 1.0 {
			res.RawScore += volumePoints
			res.Strengths = append(res.Strengths, "Volume supports the move")
		} else {
			res.Warnings = append(res.Warnings, "Volume below average")
		}
	}

	if fields.Has(market.FieldBollinger) {
		res.AchievableMax += bollingerPoints
		v.checkBollinger(long, snap.BBPercent, &res)
	}

	if fields.Has(market.FieldPatterns) {
		res.AchievableMax += patternPoints
		v.checkPatterns(long, snap, &res)
	}

	if fields.Has(market.FieldDivergence) {
		res.AchievableMax += divergencePoints
		v.checkDivergence(long, snap, &res)
	}

	if res.AchievableMax > 0 {
		res.Coherence = res.RawScore / res.AchievableMax * 100
	}
	res.IsValid = res.Coherence >= v.cfg.MinCoherence && len(res.Warnings) <= v.cfg.MaxWarnings

	if !res.IsValid {
		v.logger.Debug().
			Str("symbol", sig.Symbol).
			Str("direction", string(sig.Direction)).
			Float64("coherence", res.Coherence).
			Int("warnings", len(res.Warnings)).
			Msg("Signal rejected by validation")
	}

	return res
}

// checkRSI awards the zone points, with partial credit in the risky
// overbought/oversold extensions.
func (v *Validator) checkRSI(long bool, rsi float64, res *ValidationResult) {
	if long {
		switch {
		case rsi >= 40 && rsi <= 70:
			res.RawScore += rsiPoints
			res.Strengths = append(res.Strengths, "RSI in buy zone")
		case rsi > 70:
			res.RawScore += 5
			res.Warnings = append(res.Warnings, "RSI overbought")
		default:
			res.Warnings = append(res.Warnings, "RSI too weak for a long")
		}
		return
	}
	switch {
	case rsi >= 30 && rsi <= 60:
		res.RawScore += rsiPoints
		res.Strengths = append(res.Strengths, "RSI in sell zone")
	case rsi < 30:
		res.RawScore += 5
		res.Warnings = append(res.Warnings, "RSI oversold")
	default:
		res.Warnings = append(res.Warnings, "RSI too high for a short")
	}
}

// checkBollinger flags entries chasing a price already pinned outside the
// band it is trading toward.
func (v *Validator) checkBollinger(long bool, bbPercent float64, res *ValidationResult) {
	if long {
		if bbPercent < 0.95 {
			res.RawScore += bollingerPoints
			res.Strengths = append(res.Strengths, "Room below the upper band")
		} else {
			res.Warnings = append(res.Warnings, "Price stretched above the upper band")
		}
		return
	}
	if bbPercent > 0.05 {
		res.RawScore += bollingerPoints
		res.Strengths = append(res.Strengths, "Room above the lower band")
	} else {
		res.Warnings = append(res.Warnings, "Price stretched below the lower band")
	}
}

// checkPatterns treats a bearish candle as a contradiction for longs and a
// confirmation for shorts. Its absence only counts against a long's maximum
// when it actually appears.
func (v *Validator) checkPatterns(long bool, snap market.Snapshot, res *ValidationResult) {
	bearish := snap.IsBearishCandle
	if long {
		if bearish {
			res.Warnings = append(res.Warnings, "Bearish candle against the long")
		} else {
			res.RawScore += patternPoints
			res.Strengths = append(res.Strengths, "No bearish candle against entry")
		}
		return
	}
	if bearish {
		res.RawScore += patternPoints
		res.Strengths = append(res.Strengths, "Bearish candle confirms the short")
	}
}

// checkDivergence rewards a matching divergence and warns on the opposite
// one; no divergence earns nothing either way.
func (v *Validator) checkDivergence(long bool, snap market.Snapshot, res *ValidationResult) {
	match, against := snap.BullishDivergence, snap.BearishDivergence
	if !long {
		match, against = against, match
	}
	if match {
		res.RawScore += divergencePoints
		res.Strengths = append(res.Strengths, "Divergence supports the signal")
	} else if against {
		res.Warnings = append(res.Warnings, "Divergence against the signal")
	}
}
