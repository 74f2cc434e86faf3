// Package market defines the indicator snapshot consumed by the decision
// pipeline and the one-time normalization that resolves missing fields to
// neutral defaults at the boundary.
package market

import (
	"math"
)

// Momentum labels the short-term price direction derived from recent candles.
type Momentum string

const (
	MomentumBullish Momentum = "BULLISH"
	MomentumBearish Momentum = "BEARISH"
	MomentumNeutral Momentum = "NEUTRAL"
)

// Field identifies a snapshot input group for presence tracking. The signal
// validator scales its achievable maximum by the fields actually provided.
type Field string

const (
	FieldPrice      Field = "price"
	FieldEMA        Field = "ema"
	FieldSMA        Field = "sma"
	FieldRSI        Field = "rsi"
	FieldMACD       Field = "macd"
	FieldStochastic Field = "stochastic"
	FieldADX        Field = "adx"
	FieldATR        Field = "atr"
	FieldBollinger  Field = "bollinger"
	FieldVolume     Field = "volume"
	FieldPatterns   Field = "patterns"
	FieldDivergence Field = "divergence"
	FieldMomentum   Field = "momentum"
	FieldCandles    Field = "candles"
)

// FieldSet records which input groups were present before defaulting.
type FieldSet map[Field]bool

// Has reports whether the field group was provided by the producer.
func (fs FieldSet) Has(f Field) bool {
	return fs[f]
}

// Neutral defaults applied during normalization.
const (
	DefaultRSI            = 50.0
	DefaultADX            = 25.0
	DefaultStochastic     = 50.0
	DefaultBBWidth        = 0.03
	DefaultBBPercent      = 0.5
	DefaultVolumeRatio    = 1.0
	DefaultATRPercent     = 2.0
	DefaultFearGreed      = 50.0
	DefaultFundingRate    = 0.0
	DefaultLongShortRatio = 1.0
)

// Candle is one OHLCV bar, oldest-first when passed in a series.
type Candle struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// SnapshotInput is the raw per-instrument record pushed by the indicator
// producer. Every numeric field is optional; normalization substitutes
// neutral defaults and records what was actually present.
type SnapshotInput struct {
	Symbol string `json:"symbol"`

	CurrentPrice *float64 `json:"current_price"`
	OpenPrice    *float64 `json:"open_price"`
	HighPrice    *float64 `json:"high_price"`
	LowPrice     *float64 `json:"low_price"`

	EMA9   *float64 `json:"ema_9"`
	EMA21  *float64 `json:"ema_21"`
	SMA50  *float64 `json:"sma_50"`
	SMA200 *float64 `json:"sma_200"`

	RSI14     *float64 `json:"rsi_14"`
	RSI14Prev *float64 `json:"rsi_14_prev"`

	MACD         *float64 `json:"macd"`
	MACDSignal   *float64 `json:"macd_signal"`
	MACDHist     *float64 `json:"macd_hist"`
	MACDHistPrev *float64 `json:"macd_hist_prev"`

	StochK *float64 `json:"stoch_k"`
	StochD *float64 `json:"stoch_d"`

	ADX *float64 `json:"adx"`

	ATR        *float64 `json:"atr"`
	ATRPercent *float64 `json:"atr_percent"`

	BBUpper   *float64 `json:"bb_upper"`
	BBLower   *float64 `json:"bb_lower"`
	BBWidth   *float64 `json:"bb_width"`
	BBPercent *float64 `json:"bb_percent"`

	CurrentVolume *float64 `json:"current_volume"`
	VolumeMA20    *float64 `json:"volume_ma_20"`
	VolumeRatio   *float64 `json:"volume_ratio"`

	CandlestickPatterns []string `json:"candlestick_patterns"`
	IsBearishCandle     *bool    `json:"is_bearish_candle"`

	BullishDivergence *bool `json:"bullish_divergence"`
	BearishDivergence *bool `json:"bearish_divergence"`

	PriceMomentum    *string  `json:"price_momentum"`
	MomentumStrength *float64 `json:"momentum_strength"`

	// Recent bars, oldest first. Used to derive momentum when the
	// producer did not label it.
	Candles []Candle `json:"candles"`
}

// Snapshot is the fully-populated, read-only record every pipeline stage
// consumes. Downstream code never re-checks field presence; the paired
// FieldSet carries that information for the validator.
type Snapshot struct {
	Symbol string

	CurrentPrice float64
	OpenPrice    float64
	HighPrice    float64
	LowPrice     float64

	EMA9   float64
	EMA21  float64
	SMA50  float64
	SMA200 float64

	RSI14     float64
	RSI14Prev float64

	MACD         float64
	MACDSignal   float64
	MACDHist     float64
	MACDHistPrev float64

	StochK float64
	StochD float64

	ADX float64

	ATR        float64
	ATRPercent float64

	BBUpper   float64
	BBLower   float64
	BBWidth   float64
	BBPercent float64

	CurrentVolume float64
	VolumeMA20    float64
	VolumeRatio   float64

	CandlestickPatterns []string
	IsBearishCandle     bool

	BullishDivergence bool
	BearishDivergence bool

	PriceMomentum    Momentum
	MomentumStrength float64
}

// Normalize resolves every optional field to its documented neutral default
// and reports which field groups the producer actually supplied. This is the
// single place defaults are decided; downstream components assume a fully
// populated snapshot.
func (in *SnapshotInput) Normalize() (Snapshot, FieldSet) {
	fields := make(FieldSet)
	snap := Snapshot{Symbol: in.Symbol}

	price := sanitize(in.CurrentPrice, 0)
	if price > 0 {
		fields[FieldPrice] = true
	}
	snap.CurrentPrice = price
	snap.OpenPrice = sanitize(in.OpenPrice, price)
	snap.HighPrice = sanitize(in.HighPrice, price)
	snap.LowPrice = sanitize(in.LowPrice, price)

	if valid(in.EMA9) && valid(in.EMA21) {
		fields[FieldEMA] = true
	}
	snap.EMA9 = sanitize(in.EMA9, price)
	snap.EMA21 = sanitize(in.EMA21, price)

	if valid(in.SMA50) {
		fields[FieldSMA] = true
	}
	snap.SMA50 = sanitize(in.SMA50, price)
	snap.SMA200 = sanitize(in.SMA200, price)

	if valid(in.RSI14) {
		fields[FieldRSI] = true
	}
	snap.RSI14 = sanitize(in.RSI14, DefaultRSI)
	snap.RSI14Prev = sanitize(in.RSI14Prev, snap.RSI14)

	if valid(in.MACD) && valid(in.MACDSignal) {
		fields[FieldMACD] = true
	}
	snap.MACD = sanitize(in.MACD, 0)
	snap.MACDSignal = sanitize(in.MACDSignal, 0)
	snap.MACDHist = sanitize(in.MACDHist, snap.MACD-snap.MACDSignal)
	snap.MACDHistPrev = sanitize(in.MACDHistPrev, snap.MACDHist)

	if valid(in.StochK) && valid(in.StochD) {
		fields[FieldStochastic] = true
	}
	snap.StochK = sanitize(in.StochK, DefaultStochastic)
	snap.StochD = sanitize(in.StochD, DefaultStochastic)

	if valid(in.ADX) {
		fields[FieldADX] = true
	}
	snap.ADX = sanitize(in.ADX, DefaultADX)

	snap.ATR, snap.ATRPercent = resolveATR(in.ATR, in.ATRPercent, price)
	if valid(in.ATR) || valid(in.ATRPercent) {
		fields[FieldATR] = true
	}

	if valid(in.BBPercent) || (valid(in.BBUpper) && valid(in.BBLower)) {
		fields[FieldBollinger] = true
	}
	snap.BBWidth = sanitize(in.BBWidth, DefaultBBWidth)
	snap.BBUpper = sanitize(in.BBUpper, price*(1+snap.BBWidth/2))
	snap.BBLower = sanitize(in.BBLower, price*(1-snap.BBWidth/2))
	snap.BBPercent = resolveBBPercent(in.BBPercent, price, snap.BBUpper, snap.BBLower)

	if valid(in.VolumeRatio) || (valid(in.CurrentVolume) && valid(in.VolumeMA20)) {
		fields[FieldVolume] = true
	}
	snap.CurrentVolume = sanitize(in.CurrentVolume, 0)
	snap.VolumeMA20 = sanitize(in.VolumeMA20, 0)
	snap.VolumeRatio = resolveVolumeRatio(in.VolumeRatio, snap.CurrentVolume, snap.VolumeMA20)

	if in.CandlestickPatterns != nil {
		fields[FieldPatterns] = true
		snap.CandlestickPatterns = in.CandlestickPatterns
	}
	if in.IsBearishCandle != nil {
		snap.IsBearishCandle = *in.IsBearishCandle
	} else if len(in.Candles) > 0 {
		last := in.Candles[len(in.Candles)-1]
		snap.IsBearishCandle = last.Close < last.Open
	}

	if in.BullishDivergence != nil || in.BearishDivergence != nil {
		fields[FieldDivergence] = true
	}
	if in.BullishDivergence != nil {
		snap.BullishDivergence = *in.BullishDivergence
	}
	if in.BearishDivergence != nil {
		snap.BearishDivergence = *in.BearishDivergence
	}

	if len(in.Candles) >= 3 {
		fields[FieldCandles] = true
	}
	snap.PriceMomentum, snap.MomentumStrength = resolveMomentum(in)
	if in.PriceMomentum != nil || len(in.Candles) >= 3 {
		fields[FieldMomentum] = true
	}

	return snap, fields
}

// SentimentData carries the optional market-intelligence inputs used by the
// regime classifier. A nil pointer means "all neutral".
type SentimentData struct {
	FearGreedIndex float64 `json:"fear_greed_index"`
	FundingRate    float64 `json:"funding_rate"`
	LongShortRatio float64 `json:"long_short_ratio"`
}

// OrNeutral returns the sentiment values with nil resolved to neutral.
func (s *SentimentData) OrNeutral() SentimentData {
	if s == nil {
		return SentimentData{
			FearGreedIndex: DefaultFearGreed,
			FundingRate:    DefaultFundingRate,
			LongShortRatio: DefaultLongShortRatio,
		}
	}
	out := *s
	if out.FearGreedIndex <= 0 {
		out.FearGreedIndex = DefaultFearGreed
	}
	if out.LongShortRatio <= 0 {
		out.LongShortRatio = DefaultLongShortRatio
	}
	return out
}

// MarketBreadth summarizes how many monitored instruments are currently
// bullish vs bearish. Optional input to the classifier and trade filters.
type MarketBreadth struct {
	Bullish int `json:"bullish"`
	Bearish int `json:"bearish"`
	Total   int `json:"total"`
}

// BullRatio returns the bullish share of the monitored set, 0.5 when the
// breadth sample is empty.
func (b *MarketBreadth) BullRatio() float64 {
	if b == nil || b.Total <= 0 {
		return 0.5
	}
	return float64(b.Bullish) / float64(b.Total)
}

// Levels holds externally supplied support and resistance prices used to
// tighten ATR-based stops.
type Levels struct {
	Supports    []float64 `json:"supports"`
	Resistances []float64 `json:"resistances"`
}

// resolveMomentum prefers the producer's label and otherwise derives one
// from the last three candles: a ±0.5% move backed by two same-color
// candles, or a strict higher-high/lower-low staircase.
func resolveMomentum(in *SnapshotInput) (Momentum, float64) {
	if in.PriceMomentum != nil {
		switch Momentum(*in.PriceMomentum) {
		case MomentumBullish:
			return MomentumBullish, sanitize(in.MomentumStrength, 50)
		case MomentumBearish:
			return MomentumBearish, sanitize(in.MomentumStrength, 50)
		default:
			return MomentumNeutral, 0
		}
	}

	if len(in.Candles) < 3 {
		return MomentumNeutral, 0
	}
	recent := in.Candles[len(in.Candles)-3:]
	first, last := recent[0], recent[2]
	if first.Close <= 0 {
		return MomentumNeutral, 0
	}

	change := (last.Close - first.Close) / first.Close * 100
	greens := 0
	for _, c := range recent {
		if c.Close > c.Open {
			greens++
		}
	}

	switch {
	case change >= 0.5 && greens >= 2:
		return MomentumBullish, math.Min(math.Abs(change)*10, 100)
	case change <= -0.5 && greens <= 1:
		return MomentumBearish, math.Min(math.Abs(change)*10, 100)
	case recent[2].High > recent[1].High && recent[1].High > recent[0].High &&
		recent[2].Low > recent[1].Low && recent[1].Low > recent[0].Low:
		return MomentumBullish, 50
	case recent[2].High < recent[1].High && recent[1].High < recent[0].High &&
		recent[2].Low < recent[1].Low && recent[1].Low < recent[0].Low:
		return MomentumBearish, 50
	default:
		return MomentumNeutral, 0
	}
}

// resolveATR converts between absolute and percent forms. Non-positive
// values are treated as absent so emitted envelopes always have real width.
func resolveATR(atr, atrPercent *float64, price float64) (float64, float64) {
	hasATR := valid(atr) && *atr > 0
	hasPct := valid(atrPercent) && *atrPercent > 0
	switch {
	case hasATR && hasPct:
		return *atr, *atrPercent
	case hasATR:
		pct := DefaultATRPercent
		if price > 0 {
			pct = *atr / price * 100
		}
		return *atr, pct
	case hasPct:
		return price * *atrPercent / 100, *atrPercent
	default:
		return price * DefaultATRPercent / 100, DefaultATRPercent
	}
}

func resolveBBPercent(bbPercent *float64, price, upper, lower float64) float64 {
	if valid(bbPercent) {
		return *bbPercent
	}
	if upper > lower {
		return (price - lower) / (upper - lower)
	}
	return DefaultBBPercent
}

func resolveVolumeRatio(ratio *float64, volume, ma float64) float64 {
	if valid(ratio) {
		return *ratio
	}
	if ma > 0 {
		return volume / ma
	}
	return DefaultVolumeRatio
}

// sanitize dereferences an optional float, substituting def for nil, NaN,
// and infinities so no garbage reaches the accumulators.
func sanitize(v *float64, def float64) float64 {
	if !valid(v) {
		return def
	}
	return *v
}

func valid(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
