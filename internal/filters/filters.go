// Package filters holds the final independent gates a decision must clear
// after signal validation and scoring. Each gate returns pass/fail with a
// human-readable reason; Evaluate collects every failure instead of stopping
// at the first.
package filters

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

// Config enables and tunes each gate.
type Config struct {
	VolumeEnabled  bool    `json:"volume_enabled"`
	MinVolumeRatio float64 `json:"min_volume_ratio"`

	HoursEnabled  bool `json:"hours_enabled"`
	StartHourUTC  int  `json:"start_hour_utc"`
	EndHourUTC    int  `json:"end_hour_utc"`
	BlockWeekends bool `json:"block_weekends"`

	BreadthEnabled bool `json:"breadth_enabled"`

	RiskRewardEnabled bool    `json:"risk_reward_enabled"`
	MinRiskReward     float64 `json:"min_risk_reward"`
}

// DefaultConfig returns the production gates: 1.5x volume, 8-20 UTC weekday
// hours, breadth-adjusted minimum score, and a 3.0 risk/reward floor.
func DefaultConfig() Config {
	return Config{
		VolumeEnabled:     true,
		MinVolumeRatio:    1.5,
		HoursEnabled:      true,
		StartHourUTC:      8,
		EndHourUTC:        20,
		BlockWeekends:     true,
		BreadthEnabled:    true,
		RiskRewardEnabled: true,
		MinRiskReward:     3.0,
	}
}

// Input is everything one evaluation needs. A zero Now means "current time".
type Input struct {
	Symbol        string
	VolumeRatio   float64
	CombinedScore float64
	Breadth       *market.MarketBreadth
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	Now           time.Time
}

// Filters runs the configured gates. Stateless; safe for concurrent use.
type Filters struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates the filter chain.
func New(cfg Config, logger zerolog.Logger) *Filters {
	return &Filters{
		cfg:    cfg,
		logger: logger.With().Str("component", "filters").Logger(),
	}
}

// Evaluate runs every enabled gate and returns all failure reasons. An empty
// reason list means the trade passed.
func (f *Filters) Evaluate(in Input) (bool, []string) {
	var reasons []string

	if f.cfg.VolumeEnabled {
		if ok, reason := f.CheckVolume(in.VolumeRatio); !ok {
			reasons = append(reasons, reason)
		}
	}
	if f.cfg.HoursEnabled {
		now := in.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		if ok, reason := f.CheckTradingHours(now); !ok {
			reasons = append(reasons, reason)
		}
	}
	if f.cfg.BreadthEnabled {
		if ok, reason := f.CheckScoreAgainstBreadth(in.CombinedScore, in.Breadth); !ok {
			reasons = append(reasons, reason)
		}
	}
	if f.cfg.RiskRewardEnabled {
		if ok, reason := f.CheckRiskReward(in.EntryPrice, in.StopLoss, in.TakeProfit); !ok {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) > 0 {
		f.logger.Debug().
			Str("symbol", in.Symbol).
			Strs("reasons", reasons).
			Msg("Trade blocked by filters")
		return false, reasons
	}
	return true, nil
}

// CheckVolume requires the volume ratio to clear the configured floor. A
// missing or zero ratio fails.
func (f *Filters) CheckVolume(ratio float64) (bool, string) {
	if ratio < f.cfg.MinVolumeRatio {
		return false, fmt.Sprintf("volume ratio %.2f below required %.2f", ratio, f.cfg.MinVolumeRatio)
	}
	return true, ""
}

// CheckTradingHours blocks weekends and anything outside the configured UTC
// window (inclusive on both ends).
func (f *Filters) CheckTradingHours(now time.Time) (bool, string) {
	utc := now.UTC()
	if f.cfg.BlockWeekends {
		switch utc.Weekday() {
		case time.Saturday, time.Sunday:
			return false, "weekend trading blocked"
		}
	}
	hour := utc.Hour()
	if hour < f.cfg.StartHourUTC || hour > f.cfg.EndHourUTC {
		return false, fmt.Sprintf("outside trading hours (%02d-%02d UTC)", f.cfg.StartHourUTC, f.cfg.EndHourUTC)
	}
	return true, ""
}

// DynamicMinScore adjusts the required score to the breadth of the basket:
// easier in a broad rally, harder when most of the basket is falling.
func (f *Filters) DynamicMinScore(breadth *market.MarketBreadth) float64 {
	if breadth == nil {
		return 85
	}
	bull, bear := float64(breadth.Bullish), float64(breadth.Bearish)
	switch {
	case bull > bear*1.5:
		return 80
	case bear > bull*1.5:
		return 90
	default:
		return 85
	}
}

// CheckScoreAgainstBreadth compares the decision's combined score to the
// breadth-adjusted minimum.
func (f *Filters) CheckScoreAgainstBreadth(combined float64, breadth *market.MarketBreadth) (bool, string) {
	required := f.DynamicMinScore(breadth)
	if combined < required {
		return false, fmt.Sprintf("combined score %.1f below dynamic minimum %.0f", combined, required)
	}
	return true, ""
}

// CheckRiskReward recomputes the ratio from the envelope and applies the
// floor. Non-positive prices fail outright.
func (f *Filters) CheckRiskReward(entry, stop, takeProfit float64) (bool, string) {
	if entry <= 0 || stop <= 0 || takeProfit <= 0 {
		return false, "incomplete price envelope"
	}
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return false, "zero risk distance"
	}
	rr := math.Abs(takeProfit-entry) / risk
	if rr < f.cfg.MinRiskReward {
		return false, fmt.Sprintf("risk/reward %.2f below required %.2f", rr, f.cfg.MinRiskReward)
	}
	return true, ""
}
