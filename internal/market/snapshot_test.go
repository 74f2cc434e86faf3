package market

import (
	"math"
	"testing"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }
func sptr(v string) *string   { return &v }

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// TestNormalizeAppliesNeutralDefaults feeds an empty input and expects every
// optional indicator at its documented neutral value.
func TestNormalizeAppliesNeutralDefaults(t *testing.T) {
	in := SnapshotInput{Symbol: "BTCUSDT"}
	snap, fields := in.Normalize()

	if snap.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", snap.Symbol)
	}
	if snap.RSI14 != DefaultRSI {
		t.Errorf("Expected default RSI %.1f, got %.1f", DefaultRSI, snap.RSI14)
	}
	if snap.ADX != DefaultADX {
		t.Errorf("Expected default ADX %.1f, got %.1f", DefaultADX, snap.ADX)
	}
	if snap.StochK != DefaultStochastic || snap.StochD != DefaultStochastic {
		t.Errorf("Expected default stochastics, got K=%.1f D=%.1f", snap.StochK, snap.StochD)
	}
	if snap.VolumeRatio != DefaultVolumeRatio {
		t.Errorf("Expected default volume ratio, got %.2f", snap.VolumeRatio)
	}
	if snap.ATRPercent != DefaultATRPercent {
		t.Errorf("Expected default ATR percent, got %.2f", snap.ATRPercent)
	}
	if snap.PriceMomentum != MomentumNeutral {
		t.Errorf("Expected neutral momentum, got %s", snap.PriceMomentum)
	}

	for _, f := range []Field{FieldPrice, FieldEMA, FieldRSI, FieldMACD, FieldADX, FieldVolume} {
		if fields.Has(f) {
			t.Errorf("Field %s should not be marked present on empty input", f)
		}
	}
}

// TestNormalizeTracksProvidedFields verifies the presence set only contains
// the groups the producer actually filled in.
func TestNormalizeTracksProvidedFields(t *testing.T) {
	in := SnapshotInput{
		Symbol:       "ETHUSDT",
		CurrentPrice: fptr(2500),
		EMA9:         fptr(2490),
		EMA21:        fptr(2480),
		RSI14:        fptr(62),
		MACD:         fptr(1.2),
		MACDSignal:   fptr(0.8),
	}
	_, fields := in.Normalize()

	for _, f := range []Field{FieldPrice, FieldEMA, FieldRSI, FieldMACD} {
		if !fields.Has(f) {
			t.Errorf("Expected field %s to be present", f)
		}
	}
	for _, f := range []Field{FieldSMA, FieldStochastic, FieldADX, FieldBollinger, FieldVolume} {
		if fields.Has(f) {
			t.Errorf("Field %s should be absent", f)
		}
	}
}

// TestNormalizeRejectsNonFiniteValues treats NaN and Inf inputs as absent.
func TestNormalizeRejectsNonFiniteValues(t *testing.T) {
	in := SnapshotInput{
		Symbol:       "BTCUSDT",
		CurrentPrice: fptr(64000),
		RSI14:        fptr(math.NaN()),
		ADX:          fptr(math.Inf(1)),
	}
	snap, fields := in.Normalize()

	if snap.RSI14 != DefaultRSI {
		t.Errorf("NaN RSI should fall back to default, got %.1f", snap.RSI14)
	}
	if snap.ADX != DefaultADX {
		t.Errorf("Inf ADX should fall back to default, got %.1f", snap.ADX)
	}
	if fields.Has(FieldRSI) || fields.Has(FieldADX) {
		t.Error("Non-finite inputs must not mark their field groups present")
	}
}

// TestATRConversions checks both directions of the absolute/percent bridge.
func TestATRConversions(t *testing.T) {
	in := SnapshotInput{
		Symbol:       "BTCUSDT",
		CurrentPrice: fptr(100),
		ATRPercent:   fptr(2.5),
	}
	snap, _ := in.Normalize()
	if !floatEquals(snap.ATR, 2.5, 1e-9) {
		t.Errorf("Expected ATR 2.5 from percent form, got %.4f", snap.ATR)
	}

	in = SnapshotInput{
		Symbol:       "BTCUSDT",
		CurrentPrice: fptr(100),
		ATR:          fptr(3),
	}
	snap, _ = in.Normalize()
	if !floatEquals(snap.ATRPercent, 3, 1e-9) {
		t.Errorf("Expected ATR percent 3 from absolute form, got %.4f", snap.ATRPercent)
	}
}

// TestMACDHistDerivedFromLines checks the histogram fallback when only the
// MACD lines are provided.
func TestMACDHistDerivedFromLines(t *testing.T) {
	in := SnapshotInput{
		Symbol:     "BTCUSDT",
		MACD:       fptr(0.5),
		MACDSignal: fptr(0.2),
	}
	snap, _ := in.Normalize()
	if !floatEquals(snap.MACDHist, 0.3, 1e-9) {
		t.Errorf("Expected derived histogram 0.3, got %.4f", snap.MACDHist)
	}
	if !floatEquals(snap.MACDHistPrev, snap.MACDHist, 1e-9) {
		t.Errorf("Previous histogram should mirror current when absent")
	}
}

// TestBBPercentDerivedFromBands derives %B from the band prices.
func TestBBPercentDerivedFromBands(t *testing.T) {
	in := SnapshotInput{
		Symbol:       "BTCUSDT",
		CurrentPrice: fptr(105),
		BBUpper:      fptr(110),
		BBLower:      fptr(90),
	}
	snap, fields := in.Normalize()
	if !floatEquals(snap.BBPercent, 0.75, 1e-9) {
		t.Errorf("Expected %%B 0.75, got %.4f", snap.BBPercent)
	}
	if !fields.Has(FieldBollinger) {
		t.Error("Band prices should mark the bollinger group present")
	}
}

// TestVolumeRatioDerivedFromAverages derives the ratio when only raw volume
// and its moving average are given.
func TestVolumeRatioDerivedFromAverages(t *testing.T) {
	in := SnapshotInput{
		Symbol:        "BTCUSDT",
		CurrentVolume: fptr(3000),
		VolumeMA20:    fptr(1500),
	}
	snap, fields := in.Normalize()
	if !floatEquals(snap.VolumeRatio, 2, 1e-9) {
		t.Errorf("Expected volume ratio 2, got %.4f", snap.VolumeRatio)
	}
	if !fields.Has(FieldVolume) {
		t.Error("Volume pair should mark the volume group present")
	}
}

// TestMomentumProducerLabelWins verifies the producer's label overrides any
// candle-derived reading.
func TestMomentumProducerLabelWins(t *testing.T) {
	in := SnapshotInput{
		Symbol:        "BTCUSDT",
		PriceMomentum: sptr("BEARISH"),
		Candles: []Candle{
			{Open: 100, High: 102, Low: 99, Close: 101},
			{Open: 101, High: 103, Low: 100, Close: 102},
			{Open: 102, High: 105, Low: 101, Close: 104},
		},
	}
	snap, _ := in.Normalize()
	if snap.PriceMomentum != MomentumBearish {
		t.Errorf("Expected producer label BEARISH to win, got %s", snap.PriceMomentum)
	}
}

// TestMomentumDerivedFromCandles covers the green-run, red-run and flat
// cases of the three-candle fallback.
func TestMomentumDerivedFromCandles(t *testing.T) {
	up := SnapshotInput{
		Symbol: "BTCUSDT",
		Candles: []Candle{
			{Open: 100, High: 101, Low: 99, Close: 100.5},
			{Open: 100.5, High: 102, Low: 100, Close: 101.5},
			{Open: 101.5, High: 103, Low: 101, Close: 102.5},
		},
	}
	snap, fields := up.Normalize()
	if snap.PriceMomentum != MomentumBullish {
		t.Errorf("Expected bullish momentum from rising greens, got %s", snap.PriceMomentum)
	}
	if snap.MomentumStrength <= 0 {
		t.Errorf("Expected positive momentum strength, got %.1f", snap.MomentumStrength)
	}
	if !fields.Has(FieldMomentum) || !fields.Has(FieldCandles) {
		t.Error("Three candles should mark momentum and candle groups present")
	}

	down := SnapshotInput{
		Symbol: "BTCUSDT",
		Candles: []Candle{
			{Open: 102.5, High: 103, Low: 101, Close: 101.5},
			{Open: 101.5, High: 102, Low: 100, Close: 100.5},
			{Open: 100.5, High: 101, Low: 99, Close: 99.5},
		},
	}
	snap, _ = down.Normalize()
	if snap.PriceMomentum != MomentumBearish {
		t.Errorf("Expected bearish momentum from falling reds, got %s", snap.PriceMomentum)
	}

	flat := SnapshotInput{
		Symbol: "BTCUSDT",
		Candles: []Candle{
			{Open: 100, High: 101, Low: 99, Close: 100},
			{Open: 100, High: 101, Low: 99, Close: 100},
			{Open: 100, High: 101, Low: 99, Close: 100},
		},
	}
	snap, _ = flat.Normalize()
	if snap.PriceMomentum != MomentumNeutral {
		t.Errorf("Expected neutral momentum on flat candles, got %s", snap.PriceMomentum)
	}
}

// TestBearishCandleFromLastBar derives the candle color when the flag is
// not provided.
func TestBearishCandleFromLastBar(t *testing.T) {
	in := SnapshotInput{
		Symbol: "BTCUSDT",
		Candles: []Candle{
			{Open: 100, High: 101, Low: 98, Close: 99},
		},
	}
	snap, _ := in.Normalize()
	if !snap.IsBearishCandle {
		t.Error("Close below open should derive a bearish candle")
	}

	in.IsBearishCandle = bptr(false)
	snap, _ = in.Normalize()
	if snap.IsBearishCandle {
		t.Error("Explicit flag should override the derived color")
	}
}

// TestSentimentOrNeutral resolves nil and zero-valued sentiment to the
// neutral defaults.
func TestSentimentOrNeutral(t *testing.T) {
	var nilSentiment *SentimentData
	s := nilSentiment.OrNeutral()
	if s.FearGreedIndex != DefaultFearGreed || s.LongShortRatio != DefaultLongShortRatio {
		t.Errorf("Nil sentiment should be fully neutral, got %+v", s)
	}

	partial := &SentimentData{FundingRate: 0.0003}
	s = partial.OrNeutral()
	if s.FearGreedIndex != DefaultFearGreed {
		t.Errorf("Zero fear/greed should default to %.0f, got %.1f", DefaultFearGreed, s.FearGreedIndex)
	}
	if s.FundingRate != 0.0003 {
		t.Errorf("Provided funding rate must survive, got %.5f", s.FundingRate)
	}
}

// TestBullRatio covers the empty-sample fallback.
func TestBullRatio(t *testing.T) {
	var nilBreadth *MarketBreadth
	if nilBreadth.BullRatio() != 0.5 {
		t.Errorf("Nil breadth should read 0.5, got %.2f", nilBreadth.BullRatio())
	}

	b := &MarketBreadth{Bullish: 6, Bearish: 4, Total: 10}
	if !floatEquals(b.BullRatio(), 0.6, 1e-9) {
		t.Errorf("Expected bull ratio 0.6, got %.2f", b.BullRatio())
	}
}
