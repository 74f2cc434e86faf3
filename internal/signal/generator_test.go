package signal

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

// floatEquals compares two floats with tolerance
func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func newTestGenerator() *Generator {
	return NewGenerator(DefaultGeneratorConfig(), zerolog.Nop())
}

// bullishSnapshot returns a snapshot with every long confirmation firing:
// EMA alignment (+2/20), RSI band with momentum (+2/20), MACD magnitude
// (+2/10), strong volume (+2/15), Bollinger ride (+1), ADX trending.
func bullishSnapshot() market.Snapshot {
	return market.Snapshot{
		Symbol:        "BTCUSDT",
		CurrentPrice:  100,
		EMA9:          99,
		EMA21:         98,
		SMA50:         97,
		RSI14:         55,
		MACD:          0.5,
		MACDSignal:    0.3,
		MACDHist:      0.2,
		MACDHistPrev:  0.1,
		StochK:        60,
		StochD:        50,
		ADX:           30,
		ATR:           2.0,
		BBPercent:     0.8,
		BBWidth:       0.03,
		VolumeRatio:   1.5,
		PriceMomentum: market.MomentumBullish,
	}
}

// bearishSnapshot mirrors bullishSnapshot for the short side, adding a
// bearish candle confirmation.
func bearishSnapshot() market.Snapshot {
	return market.Snapshot{
		Symbol:          "BTCUSDT",
		CurrentPrice:    97,
		EMA9:            98,
		EMA21:           99,
		SMA50:           100,
		RSI14:           45,
		MACD:            -0.5,
		MACDSignal:      -0.3,
		MACDHist:        -0.2,
		MACDHistPrev:    -0.1,
		StochK:          40,
		StochD:          50,
		ADX:             28,
		ATR:             1.5,
		BBPercent:       0.2,
		BBWidth:         0.03,
		VolumeRatio:     1.4,
		IsBearishCandle: true,
		PriceMomentum:   market.MomentumBearish,
	}
}

// TestGenerateLongSignal verifies tallies, confidence, and the full ATR
// envelope for a fully confirming long setup.
func TestGenerateLongSignal(t *testing.T) {
	g := newTestGenerator()

	result := g.Generate(bullishSnapshot(), nil)

	if result.Direction != Long {
		t.Fatalf("Expected LONG, got %s", result.Direction)
	}
	// 2 EMA + 2 RSI + 2 MACD + 2 volume + 1 Bollinger
	if !floatEquals(result.BullishConfirmations, 9, 1e-9) {
		t.Errorf("Expected 9 bullish confirmations, got %.1f", result.BullishConfirmations)
	}
	// 20 EMA + 20 RSI + 10 MACD + 15 volume
	if !floatEquals(result.Confidence, 65, 1e-9) {
		t.Errorf("Expected confidence 65, got %.1f", result.Confidence)
	}
	if !floatEquals(result.EntryPrice, 100, 1e-9) {
		t.Errorf("Expected entry 100, got %.2f", result.EntryPrice)
	}
	// stop = 100 - 2.5*2.0
	if !floatEquals(result.StopLoss, 95, 1e-9) {
		t.Errorf("Expected stop 95, got %.2f", result.StopLoss)
	}
	// TP1 = 100 + 3.5*2.0, TP2 = 100 + 3.0*2.0
	if !floatEquals(result.TakeProfit1, 107, 1e-9) {
		t.Errorf("Expected TP1 107, got %.2f", result.TakeProfit1)
	}
	if !floatEquals(result.TakeProfit2, 106, 1e-9) {
		t.Errorf("Expected TP2 106, got %.2f", result.TakeProfit2)
	}
	// 7 reward / 5 risk
	if !floatEquals(result.RiskReward, 1.4, 1e-9) {
		t.Errorf("Expected R/R 1.4, got %.2f", result.RiskReward)
	}
}

// TestGenerateShortSignal verifies the mirrored short path.
func TestGenerateShortSignal(t *testing.T) {
	g := newTestGenerator()

	result := g.Generate(bearishSnapshot(), nil)

	if result.Direction != Short {
		t.Fatalf("Expected SHORT, got %s", result.Direction)
	}
	// 2 EMA + 2 RSI + 2 MACD + 2 volume + 1 Bollinger + 1 bearish candle
	if !floatEquals(result.BearishConfirmations, 10, 1e-9) {
		t.Errorf("Expected 10 bearish confirmations, got %.1f", result.BearishConfirmations)
	}
	// 20 + 20 + 10 + 15 + 5 candle
	if !floatEquals(result.Confidence, 70, 1e-9) {
		t.Errorf("Expected confidence 70, got %.1f", result.Confidence)
	}
	// stop = 97 + 2.5*1.5
	if !floatEquals(result.StopLoss, 100.75, 1e-9) {
		t.Errorf("Expected stop 100.75, got %.2f", result.StopLoss)
	}
	// TP1 = 97 - 3.5*1.5
	if !floatEquals(result.TakeProfit1, 91.75, 1e-9) {
		t.Errorf("Expected TP1 91.75, got %.2f", result.TakeProfit1)
	}
	if !floatEquals(result.RiskReward, 1.4, 1e-9) {
		t.Errorf("Expected R/R 1.4, got %.2f", result.RiskReward)
	}
}

// TestGenerateRangingVeto drains confidence below the emission threshold on
// a weak ADX even though the confirmation count would trigger a long.
func TestGenerateRangingVeto(t *testing.T) {
	g := newTestGenerator()

	snap := bullishSnapshot()
	snap.ADX = 15

	result := g.Generate(snap, nil)

	if result.Direction != Neutral {
		t.Fatalf("Expected NEUTRAL under weak ADX, got %s", result.Direction)
	}
	if result.BullishConfirmations < g.cfg.MinConfirmations {
		t.Errorf("Setup should still have enough confirmations, got %.1f", result.BullishConfirmations)
	}
	// 65 - 25 penalty
	if !floatEquals(result.Confidence, 40, 1e-9) {
		t.Errorf("Expected penalized confidence 40, got %.1f", result.Confidence)
	}
	if result.EntryPrice != 0 || result.StopLoss != 0 {
		t.Error("NEUTRAL result must not carry a price envelope")
	}
}

// TestGenerateMissingPrice returns NEUTRAL when no usable price exists.
func TestGenerateMissingPrice(t *testing.T) {
	g := newTestGenerator()

	result := g.Generate(market.Snapshot{Symbol: "BTCUSDT"}, nil)

	if result.Direction != Neutral {
		t.Errorf("Expected NEUTRAL without a price, got %s", result.Direction)
	}
}

// TestGenerateTrendDisagreementBlocksEmission keeps a bearish-trend snapshot
// from emitting a long no matter the bullish tally.
func TestGenerateTrendDisagreementBlocksEmission(t *testing.T) {
	g := newTestGenerator()

	snap := bullishSnapshot()
	// Flip the trend while leaving the divergence and RSI confirmations.
	snap.EMA9 = 98
	snap.EMA21 = 99
	snap.BullishDivergence = true

	result := g.Generate(snap, nil)

	if result.Direction == Long {
		t.Error("Long must not be emitted when the EMA trend is bearish")
	}
}

// TestGenerateSupportTightensStop pulls the stop up to a nearby support when
// it is more conservative than the ATR stop.
func TestGenerateSupportTightensStop(t *testing.T) {
	g := newTestGenerator()

	levels := &market.Levels{Supports: []float64{99, 90, 101}}
	result := g.Generate(bullishSnapshot(), levels)

	if result.Direction != Long {
		t.Fatalf("Expected LONG, got %s", result.Direction)
	}
	// Support 99 is within 2% of entry 100; 99*0.995 = 98.505 beats the
	// ATR stop at 95. Support 90 is too far, 101 is above entry.
	if !floatEquals(result.StopLoss, 98.505, 1e-9) {
		t.Errorf("Expected tightened stop 98.505, got %.3f", result.StopLoss)
	}
	// 7 / 1.495 rounded to 2 decimals
	if !floatEquals(result.RiskReward, 4.68, 1e-9) {
		t.Errorf("Expected R/R 4.68, got %.2f", result.RiskReward)
	}
}

// TestGenerateResistanceTightensStop mirrors the support test for shorts.
func TestGenerateResistanceTightensStop(t *testing.T) {
	g := newTestGenerator()

	levels := &market.Levels{Resistances: []float64{98, 110, 96}}
	result := g.Generate(bearishSnapshot(), levels)

	if result.Direction != Short {
		t.Fatalf("Expected SHORT, got %s", result.Direction)
	}
	// Resistance 98 is within 2% above entry 97; 98*1.005 = 98.49 beats
	// the ATR stop at 100.75. 110 is too far, 96 is below entry.
	if !floatEquals(result.StopLoss, 98.49, 1e-9) {
		t.Errorf("Expected tightened stop 98.49, got %.3f", result.StopLoss)
	}
}

// TestGenerateFarSupportIgnored leaves the ATR stop alone when no level is
// close enough.
func TestGenerateFarSupportIgnored(t *testing.T) {
	g := newTestGenerator()

	levels := &market.Levels{Supports: []float64{90}}
	result := g.Generate(bullishSnapshot(), levels)

	if !floatEquals(result.StopLoss, 95, 1e-9) {
		t.Errorf("Expected untouched ATR stop 95, got %.2f", result.StopLoss)
	}
}

// TestGenerateZeroRiskGuard returns ratio 0 instead of dividing by zero.
func TestGenerateZeroRiskGuard(t *testing.T) {
	g := newTestGenerator()

	snap := bullishSnapshot()
	snap.ATR = 0

	result := g.Generate(snap, nil)

	if result.Direction != Long {
		t.Fatalf("Expected LONG, got %s", result.Direction)
	}
	if result.RiskReward != 0 {
		t.Errorf("Expected R/R 0 on zero risk, got %.2f", result.RiskReward)
	}
}

// TestGenerateConfidenceClamped keeps confidence inside [0,100].
func TestGenerateConfidenceClamped(t *testing.T) {
	g := newTestGenerator()

	snap := bullishSnapshot()
	snap.BullishDivergence = true // +20
	snap.MACDHistPrev = -0.1      // fresh cross, +15

	result := g.Generate(snap, nil)

	// 65 + 20 + 15 = 100, already at the cap
	if result.Confidence > 100 {
		t.Errorf("Confidence must be clamped to 100, got %.1f", result.Confidence)
	}
	if !floatEquals(result.Confidence, 100, 1e-9) {
		t.Errorf("Expected confidence 100, got %.1f", result.Confidence)
	}
}

// TestGenerateFreshCrossBonus adds the cross bonus only on a histogram sign
// flip.
func TestGenerateFreshCrossBonus(t *testing.T) {
	g := newTestGenerator()

	snap := bullishSnapshot()
	snap.MACDHistPrev = -0.05

	withCross := g.Generate(snap, nil)

	snap.MACDHistPrev = 0.1
	withoutCross := g.Generate(snap, nil)

	if !floatEquals(withCross.Confidence-withoutCross.Confidence, 15, 1e-9) {
		t.Errorf("Expected +15 confidence from the fresh cross, got %+.1f",
			withCross.Confidence-withoutCross.Confidence)
	}
}
