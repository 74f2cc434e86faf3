// Package regime scores the prevailing market regime from an indicator
// snapshot plus optional sentiment and breadth inputs, and resolves the
// regime into the adaptive parameter bundle used for the rest of the cycle.
package regime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

// Regime is one of the eight mutually exclusive market classifications.
type Regime string

const (
	StrongTrendUp   Regime = "STRONG_TREND_UP"
	TrendUp         Regime = "TREND_UP"
	Ranging         Regime = "RANGING"
	TrendDown       Regime = "TREND_DOWN"
	StrongTrendDown Regime = "STRONG_TREND_DOWN"
	HighVolatility  Regime = "HIGH_VOLATILITY"
	ReversalUp      Regime = "REVERSAL_UP"
	ReversalDown    Regime = "REVERSAL_DOWN"
)

// AllRegimes lists every regime in scoring order.
var AllRegimes = []Regime{
	StrongTrendUp, TrendUp, Ranging, TrendDown,
	StrongTrendDown, HighVolatility, ReversalUp, ReversalDown,
}

// Result is the outcome of one classification pass. Value object, superseded
// every cycle.
type Result struct {
	Regime          Regime             `json:"regime"`
	SecondaryRegime Regime             `json:"secondary_regime"`
	Confidence      float64            `json:"confidence"`
	Clarity         float64            `json:"clarity"`
	Scores          map[Regime]float64 `json:"scores"`
	ClassifiedAt    time.Time          `json:"classified_at"`
}

const historyLimit = 10

// Classifier scores regimes from snapshots. It keeps a short bounded history
// of past results for status reporting; classification itself is stateless.
type Classifier struct {
	mu      sync.Mutex
	history []Result
	logger  zerolog.Logger
}

// NewClassifier creates a regime classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{
		history: make([]Result, 0, historyLimit),
		logger:  logger.With().Str("component", "regime").Logger(),
	}
}

// Classify runs the ten scoring rules and returns the dominant regime with
// its confidence and clarity. Deterministic for identical inputs; missing
// optional inputs contribute their neutral defaults.
func (c *Classifier) Classify(snap market.Snapshot, sentiment *market.SentimentData, breadth *market.MarketBreadth) Result {
	scores := make(map[Regime]float64, len(AllRegimes))
	for _, r := range AllRegimes {
		scores[r] = 0
	}

	c.scoreTrendStrength(snap, scores)
	c.scoreMomentum(snap, scores)
	c.scoreRSI(snap, scores)
	c.scoreMACD(snap, scores)
	c.scoreVolatility(snap, scores)
	c.scoreVolume(snap, scores)
	c.scoreSentiment(sentiment.OrNeutral(), scores)
	c.scoreBreadth(breadth, scores)

	winner, second := topTwo(scores)
	winning := scores[winner]

	confidence := winning
	if confidence > 100 {
		confidence = 100
	}
	clarity := 0.0
	if winning > 0 {
		clarity = (winning - scores[second]) / winning * 100
	}

	result := Result{
		Regime:          winner,
		SecondaryRegime: second,
		Confidence:      confidence,
		Clarity:         clarity,
		Scores:          scores,
		ClassifiedAt:    time.Now(),
	}

	c.record(result)
	return result
}

// History returns a copy of the recent classification results, oldest first.
func (c *Classifier) History() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.history))
	copy(out, c.history)
	return out
}

// Latest returns the most recent result and whether one exists.
func (c *Classifier) Latest() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Result{}, false
	}
	return c.history[len(c.history)-1], true
}

func (c *Classifier) record(result Result) {
	c.mu.Lock()
	var previous Regime
	if len(c.history) > 0 {
		previous = c.history[len(c.history)-1].Regime
	}
	c.history = append(c.history, result)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	c.mu.Unlock()

	if previous != "" && previous != result.Regime {
		c.logger.Info().
			Str("from", string(previous)).
			Str("to", string(result.Regime)).
			Float64("confidence", result.Confidence).
			Float64("clarity", result.Clarity).
			Msg("Market regime changed")
	} else {
		c.logger.Debug().
			Str("regime", string(result.Regime)).
			Float64("confidence", result.Confidence).
			Msg("Regime classified")
	}
}

// Rule 1: trend strength from ADX combined with EMA ordering.
func (c *Classifier) scoreTrendStrength(snap market.Snapshot, scores map[Regime]float64) {
	up := snap.EMA9 > snap.EMA21
	switch {
	case snap.ADX >= 40:
		if up {
			scores[StrongTrendUp] += 30
		} else {
			scores[StrongTrendDown] += 30
		}
	case snap.ADX >= 25:
		if up {
			scores[TrendUp] += 20
		} else {
			scores[TrendDown] += 20
		}
	case snap.ADX < 20:
		scores[Ranging] += 25
	}
}

// Rule 2: short-term price momentum label.
func (c *Classifier) scoreMomentum(snap market.Snapshot, scores map[Regime]float64) {
	switch snap.PriceMomentum {
	case market.MomentumBullish:
		scores[TrendUp] += 15
		scores[StrongTrendUp] += 10
	case market.MomentumBearish:
		scores[TrendDown] += 15
		scores[StrongTrendDown] += 10
	default:
		scores[Ranging] += 10
	}
}

// Rule 3: RSI zones, with extremes feeding the reversal regimes.
func (c *Classifier) scoreRSI(snap market.Snapshot, scores map[Regime]float64) {
	switch {
	case snap.RSI14 > 70:
		scores[StrongTrendUp] += 10
		scores[ReversalDown] += 15
	case snap.RSI14 > 55:
		scores[TrendUp] += 10
	case snap.RSI14 < 30:
		scores[StrongTrendDown] += 10
		scores[ReversalUp] += 15
	case snap.RSI14 < 45:
		scores[TrendDown] += 10
	default:
		scores[Ranging] += 5
	}
}

// Rule 4: MACD sign relative to its signal line.
func (c *Classifier) scoreMACD(snap market.Snapshot, scores map[Regime]float64) {
	diff := snap.MACD - snap.MACDSignal
	if diff > 0 {
		scores[TrendUp] += 10
		if snap.MACD > 0 {
			scores[StrongTrendUp] += 5
		}
	} else if diff < 0 {
		scores[TrendDown] += 10
		if snap.MACD < 0 {
			scores[StrongTrendDown] += 5
		}
	}
}

// Rule 5: Bollinger width as a volatility gauge (width is a fraction).
func (c *Classifier) scoreVolatility(snap market.Snapshot, scores map[Regime]float64) {
	widthPct := snap.BBWidth * 100
	switch {
	case widthPct > 8:
		scores[HighVolatility] += 30
	case widthPct > 5:
		scores[HighVolatility] += 15
	case widthPct < 2:
		scores[Ranging] += 10
	}
}

// Rule 6: volume expansion confirms the momentum side, or volatility when
// momentum is flat.
func (c *Classifier) scoreVolume(snap market.Snapshot, scores map[Regime]float64) {
	switch {
	case snap.VolumeRatio > 2.0:
		switch snap.PriceMomentum {
		case market.MomentumBullish:
			scores[StrongTrendUp] += 15
		case market.MomentumBearish:
			scores[StrongTrendDown] += 15
		default:
			scores[HighVolatility] += 10
		}
	case snap.VolumeRatio < 0.5:
		scores[Ranging] += 10
	}
}

// Rules 7-9: fear/greed, funding rate, and long/short positioning.
func (c *Classifier) scoreSentiment(s market.SentimentData, scores map[Regime]float64) {
	switch {
	case s.FearGreedIndex >= 80:
		scores[ReversalDown] += 10
		scores[StrongTrendUp] += 5
	case s.FearGreedIndex >= 60:
		scores[TrendUp] += 5
	case s.FearGreedIndex <= 20:
		scores[ReversalUp] += 10
		scores[StrongTrendDown] += 5
	case s.FearGreedIndex <= 40:
		scores[TrendDown] += 5
	}

	if s.FundingRate > 0.05 {
		scores[ReversalDown] += 10
	} else if s.FundingRate < -0.03 {
		scores[ReversalUp] += 10
	}

	if s.LongShortRatio > 1.5 {
		scores[TrendUp] += 5
		scores[ReversalDown] += 5
	} else if s.LongShortRatio < 0.7 {
		scores[TrendDown] += 5
		scores[ReversalUp] += 5
	}
}

// Rule 10: breadth of the monitored basket.
func (c *Classifier) scoreBreadth(breadth *market.MarketBreadth, scores map[Regime]float64) {
	ratio := breadth.BullRatio()
	switch {
	case ratio > 0.7:
		scores[StrongTrendUp] += 10
	case ratio > 0.55:
		scores[TrendUp] += 10
	case ratio < 0.3:
		scores[StrongTrendDown] += 10
	case ratio < 0.45:
		scores[TrendDown] += 10
	}
}

// topTwo returns the winning and runner-up regimes. Iteration follows
// AllRegimes so ties resolve deterministically.
func topTwo(scores map[Regime]float64) (Regime, Regime) {
	winner, second := AllRegimes[0], AllRegimes[1]
	if scores[second] > scores[winner] {
		winner, second = second, winner
	}
	for _, r := range AllRegimes[2:] {
		switch {
		case scores[r] > scores[winner]:
			second = winner
			winner = r
		case scores[r] > scores[second]:
			second = r
		}
	}
	return winner, second
}
