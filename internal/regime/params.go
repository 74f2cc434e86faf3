package regime

// TradingMode labels how aggressively the engine should trade under the
// current regime.
type TradingMode string

const (
	ModeAggressive TradingMode = "AGGRESSIVE"
	ModeNormal     TradingMode = "NORMAL"
	ModeDefensive  TradingMode = "DEFENSIVE"

	// ModePaused is never resolved from a regime; the engine forces it
	// while crash protection holds entries.
	ModePaused TradingMode = "PAUSE"
)

// AdaptiveParameters is the per-cycle bundle resolved from the regime.
// Signal quality gates, sizing multipliers, and direction permissions all
// read from this one value for the rest of the cycle.
type AdaptiveParameters struct {
	MinimumScore           float64     `json:"minimum_score"`
	PositionSizeMultiplier float64     `json:"position_size_multiplier"`
	StopLossMultiplier     float64     `json:"stop_loss_multiplier"`
	TakeProfitMultiplier   float64     `json:"take_profit_multiplier"`
	AllowLong              bool        `json:"allow_long"`
	AllowShort             bool        `json:"allow_short"`
	MaxOpenPositions       int         `json:"max_open_positions"`
	CooldownMinutes        int         `json:"cooldown_minutes"`
	RequireVolumeConfirm   bool        `json:"require_volume_confirm"`
	RequireMomentumConfirm bool        `json:"require_momentum_confirm"`
	TradingMode            TradingMode `json:"trading_mode"`
}

// defaultParameters is the bundle applied before any regime override.
func defaultParameters() AdaptiveParameters {
	return AdaptiveParameters{
		MinimumScore:           72,
		PositionSizeMultiplier: 1.0,
		StopLossMultiplier:     1.5,
		TakeProfitMultiplier:   3.0,
		AllowLong:              true,
		AllowShort:             true,
		MaxOpenPositions:       5,
		CooldownMinutes:        30,
		RequireVolumeConfirm:   true,
		RequireMomentumConfirm: false,
		TradingMode:            ModeNormal,
	}
}

// ResolveParameters maps a classification result to its parameter bundle.
// Total function: every regime has a bundle and unknown regimes fall back to
// the defaults. Low classification confidence tightens whatever the regime
// produced.
func ResolveParameters(result Result) AdaptiveParameters {
	p := defaultParameters()

	switch result.Regime {
	case StrongTrendUp:
		p.MinimumScore = 65
		p.PositionSizeMultiplier = 1.3
		p.TakeProfitMultiplier = 4.0
		p.AllowShort = false
		p.CooldownMinutes = 15
		p.TradingMode = ModeAggressive
	case TrendUp:
		p.MinimumScore = 68
		p.PositionSizeMultiplier = 1.1
		p.TakeProfitMultiplier = 3.5
		p.AllowShort = false
	case Ranging:
		p.MinimumScore = 78
		p.PositionSizeMultiplier = 0.7
		p.StopLossMultiplier = 1.0
		p.TakeProfitMultiplier = 2.0
		p.CooldownMinutes = 60
		p.TradingMode = ModeDefensive
	case TrendDown:
		p.MinimumScore = 68
		p.PositionSizeMultiplier = 1.1
		p.TakeProfitMultiplier = 3.5
		p.AllowLong = false
	case StrongTrendDown:
		p.MinimumScore = 65
		p.PositionSizeMultiplier = 1.3
		p.TakeProfitMultiplier = 4.0
		p.AllowLong = false
		p.CooldownMinutes = 15
		p.TradingMode = ModeAggressive
	case HighVolatility:
		p.MinimumScore = 85
		p.PositionSizeMultiplier = 0.5
		p.StopLossMultiplier = 2.0
		p.TakeProfitMultiplier = 2.0
		p.MaxOpenPositions = 2
		p.CooldownMinutes = 60
		p.TradingMode = ModeDefensive
	case ReversalUp:
		p.MinimumScore = 75
		p.PositionSizeMultiplier = 0.8
		p.AllowShort = false
		p.RequireMomentumConfirm = true
		p.TradingMode = ModeDefensive
	case ReversalDown:
		p.MinimumScore = 75
		p.PositionSizeMultiplier = 0.8
		p.AllowLong = false
		p.RequireMomentumConfirm = true
		p.TradingMode = ModeDefensive
	}

	switch {
	case result.Confidence < 30:
		if p.MinimumScore < 80 {
			p.MinimumScore = 80
		}
		p.PositionSizeMultiplier *= 0.5
		p.TradingMode = ModeDefensive
	case result.Confidence < 50:
		if p.MinimumScore < 75 {
			p.MinimumScore = 75
		}
		p.PositionSizeMultiplier *= 0.8
	}

	return p
}
