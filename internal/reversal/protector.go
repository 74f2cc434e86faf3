// Package reversal reviews open positions against the current trend and
// recommends protective actions when the market turns against an entry.
// A reversal is only acted on when it is confirmed: the detected trend must
// be the literal opposite of the trend recorded at entry, backed by a strong
// ADX reading. Weak or neutral trends never trigger closes.
package reversal

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/signal"
)

// Trend labels the detected market direction.
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
	TrendWeak    Trend = "WEAK"
)

// Action is the recommended handling for a reviewed position.
type Action string

const (
	ActionHold           Action = "HOLD"
	ActionAdjustStop     Action = "ADJUST_SL"
	ActionPartialClose   Action = "PARTIAL_CLOSE"
	ActionEmergencyClose Action = "EMERGENCY_CLOSE"
)

// Risk levels attached to a review, from least to most urgent.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Position is the state of an open trade needed for a protection review.
// EntryTrend is the trend detected when the position was opened.
type Position struct {
	Symbol     string           `json:"symbol"`
	Direction  signal.Direction `json:"direction"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss"`
	EntryTrend Trend            `json:"entry_trend"`
}

// Review is the outcome of a position protection check.
type Review struct {
	Symbol          string    `json:"symbol"`
	Action          Action    `json:"action"`
	CloseRatio      float64   `json:"close_ratio"`
	NewStop         float64   `json:"new_stop,omitempty"`
	EntryTrend      Trend     `json:"entry_trend"`
	CurrentTrend    Trend     `json:"current_trend"`
	Reversed        bool      `json:"reversed"`
	DangerZone      bool      `json:"danger_zone"`
	PnLPercent      float64   `json:"pnl_percent"`
	StopDistancePct float64   `json:"stop_distance_pct"`
	RiskLevel       string    `json:"risk_level"`
	Reason          string    `json:"reason"`
	ReviewedAt      time.Time `json:"reviewed_at"`
}

// ShouldProtect reports whether the position should be shielded from a plain
// stop-loss close (the review wants to keep it open, possibly with a moved
// stop).
func (r Review) ShouldProtect() bool {
	return r.Action == ActionHold || r.Action == ActionAdjustStop
}

// Config holds the trend and stop-adjustment thresholds.
type Config struct {
	Enabled bool `json:"enabled"`

	WeakTrendADX    float64 `json:"weak_trend_adx"`   // below this the trend reads WEAK
	ConfirmationADX float64 `json:"confirmation_adx"` // required to confirm a reversal

	DangerZonePct float64 `json:"danger_zone_pct"` // stop distance considered dangerous
	WatchZonePct  float64 `json:"watch_zone_pct"`  // stop distance worth flagging

	VolatilityAdjustWidth float64 `json:"volatility_adjust_width"` // BB width that forces a stop review
	WidenWidth            float64 `json:"widen_width"`             // BB width above which stops widen
	TightenWidth          float64 `json:"tighten_width"`           // BB width below which stops tighten
	WidenATRMultiplier    float64 `json:"widen_atr_multiplier"`
	TightenATRMultiplier  float64 `json:"tighten_atr_multiplier"`

	PartialCloseRatio float64 `json:"partial_close_ratio"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		WeakTrendADX:          20.0,
		ConfirmationADX:       25.0,
		DangerZonePct:         2.0,
		WatchZonePct:          5.0,
		VolatilityAdjustWidth: 0.06,
		WidenWidth:            0.04,
		TightenWidth:          0.02,
		WidenATRMultiplier:    0.5,
		TightenATRMultiplier:  0.25,
		PartialCloseRatio:     0.5,
	}
}

// Stop distance reported when the position has no stop attached. Reads as
// far outside the danger zone.
const noStopDistance = 100.0

// Protector reviews open positions for confirmed trend reversals. It is
// stateless and safe for concurrent use.
type Protector struct {
	cfg    Config
	logger zerolog.Logger
}

// NewProtector creates a reversal protector.
func NewProtector(cfg Config, logger zerolog.Logger) *Protector {
	return &Protector{
		cfg:    cfg,
		logger: logger.With().Str("component", "reversal").Logger(),
	}
}

// DetectTrend classifies the current trend from EMA alignment and MACD.
// The EMA cross carries two votes, MACD against its signal line one. An ADX
// below the weak threshold overrides the votes entirely.
func (p *Protector) DetectTrend(snap market.Snapshot) Trend {
	bullish, bearish := 0, 0

	if snap.EMA9 > snap.EMA21 {
		bullish += 2
	} else if snap.EMA9 < snap.EMA21 {
		bearish += 2
	}

	if snap.MACD > snap.MACDSignal {
		bullish++
	} else if snap.MACD < snap.MACDSignal {
		bearish++
	}

	if snap.ADX < p.cfg.WeakTrendADX {
		return TrendWeak
	}

	switch {
	case bullish > bearish:
		return TrendBullish
	case bearish > bullish:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// ReviewPosition analyzes one open position against the latest snapshot and
// recommends an action. Rules are evaluated in order of urgency: a confirmed
// reversal inside the danger zone closes the position outright, a confirmed
// reversal otherwise halves it (locking breakeven when in profit), and a
// threatened or volatile stop is moved instead of closed.
func (p *Protector) ReviewPosition(pos Position, snap market.Snapshot) Review {
	review := Review{
		Symbol:     pos.Symbol,
		Action:     ActionHold,
		EntryTrend: pos.EntryTrend,
		RiskLevel:  RiskLow,
		ReviewedAt: time.Now(),
	}

	if !p.cfg.Enabled {
		review.CurrentTrend = pos.EntryTrend
		review.Reason = "reversal protection disabled"
		return review
	}

	review.CurrentTrend = p.DetectTrend(snap)

	price := snap.CurrentPrice
	if price <= 0 || pos.EntryPrice <= 0 {
		review.Reason = "insufficient price data"
		return review
	}

	review.PnLPercent = unrealizedPnL(pos, price)
	review.StopDistancePct = stopDistance(pos, price)
	review.DangerZone = math.Abs(review.StopDistancePct) < p.cfg.DangerZonePct
	review.Reversed = isOpposite(pos.EntryTrend, review.CurrentTrend) &&
		snap.ADX >= p.cfg.ConfirmationADX
	review.RiskLevel = p.riskLevel(review)

	switch {
	case review.Reversed && review.DangerZone:
		review.Action = ActionEmergencyClose
		review.CloseRatio = 1.0
		review.Reason = "confirmed reversal with stop in the danger zone"
		p.logger.Warn().
			Str("symbol", pos.Symbol).
			Str("entry_trend", string(pos.EntryTrend)).
			Str("current_trend", string(review.CurrentTrend)).
			Float64("stop_distance_pct", review.StopDistancePct).
			Msg("Emergency close: confirmed reversal in danger zone")

	case review.Reversed && review.PnLPercent < 0:
		review.Action = ActionPartialClose
		review.CloseRatio = p.cfg.PartialCloseRatio
		review.Reason = "confirmed reversal on a losing position"
		p.logger.Info().
			Str("symbol", pos.Symbol).
			Float64("pnl_pct", review.PnLPercent).
			Msg("Partial close: reversal against losing position")

	case review.Reversed && review.PnLPercent > 0:
		review.Action = ActionPartialClose
		review.CloseRatio = p.cfg.PartialCloseRatio
		review.NewStop = pos.EntryPrice // lock breakeven on the remainder
		review.Reason = "confirmed reversal on a winning position, stop moved to breakeven"
		p.logger.Info().
			Str("symbol", pos.Symbol).
			Float64("pnl_pct", review.PnLPercent).
			Float64("new_stop", review.NewStop).
			Msg("Partial close: locking gains against reversal")

	case review.DangerZone:
		review.Action = ActionAdjustStop
		review.NewStop = p.DynamicStop(pos, snap)
		review.Reason = "stop within the danger zone without a confirmed reversal"
		p.logger.Info().
			Str("symbol", pos.Symbol).
			Float64("stop_distance_pct", review.StopDistancePct).
			Float64("new_stop", review.NewStop).
			Msg("Adjusting stop under pressure")

	case snap.BBWidth > p.cfg.VolatilityAdjustWidth:
		review.Action = ActionAdjustStop
		review.NewStop = p.DynamicStop(pos, snap)
		review.Reason = "elevated volatility, stop adjusted for noise"
		p.logger.Debug().
			Str("symbol", pos.Symbol).
			Float64("bb_width", snap.BBWidth).
			Float64("new_stop", review.NewStop).
			Msg("Volatility stop adjustment")

	default:
		review.Reason = "position stable, no action required"
		p.logger.Debug().
			Str("symbol", pos.Symbol).
			Str("current_trend", string(review.CurrentTrend)).
			Float64("pnl_pct", review.PnLPercent).
			Msg("Position review: hold")
	}

	return review
}

// DynamicStop widens or tightens a position's stop based on Bollinger band
// width. Wide bands move the stop further from price to survive noise,
// narrow bands pull it closer. Without an ATR the stop is left untouched.
func (p *Protector) DynamicStop(pos Position, snap market.Snapshot) float64 {
	if snap.ATR <= 0 {
		return pos.StopLoss
	}

	var adjustment float64
	if snap.BBWidth > p.cfg.WidenWidth {
		adjustment = p.cfg.WidenATRMultiplier * snap.ATR
	} else if snap.BBWidth > 0 && snap.BBWidth < p.cfg.TightenWidth {
		adjustment = -p.cfg.TightenATRMultiplier * snap.ATR
	}

	if pos.Direction == signal.Long {
		// A long stop sits below price, widening lowers it.
		return pos.StopLoss - adjustment
	}
	return pos.StopLoss + adjustment
}

func (p *Protector) riskLevel(r Review) string {
	switch {
	case r.Reversed && r.DangerZone:
		return RiskCritical
	case r.Reversed:
		return RiskHigh
	case r.DangerZone:
		return RiskMedium
	case math.Abs(r.StopDistancePct) < p.cfg.WatchZonePct:
		return RiskMedium
	default:
		return RiskLow
	}
}

// unrealizedPnL returns the open profit in percent of the entry price.
func unrealizedPnL(pos Position, price float64) float64 {
	if pos.Direction == signal.Short {
		return (pos.EntryPrice - price) / pos.EntryPrice * 100
	}
	return (price - pos.EntryPrice) / pos.EntryPrice * 100
}

// stopDistance returns how far price sits from the stop, in percent. Longs
// measure against the stop, shorts against the current price. Positive while
// the stop has not been breached.
func stopDistance(pos Position, price float64) float64 {
	if pos.StopLoss <= 0 {
		return noStopDistance
	}
	if pos.Direction == signal.Short {
		return (pos.StopLoss - price) / price * 100
	}
	return (price - pos.StopLoss) / pos.StopLoss * 100
}

// isOpposite reports whether two trends are literal opposites. Only the
// bullish/bearish pair qualifies.
func isOpposite(entry, current Trend) bool {
	return (entry == TrendBullish && current == TrendBearish) ||
		(entry == TrendBearish && current == TrendBullish)
}
