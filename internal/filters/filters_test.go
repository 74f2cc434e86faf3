package filters

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/market"
)

func newTestFilters() *Filters {
	return New(DefaultConfig(), zerolog.Nop())
}

// weekdayAt returns a known Wednesday at the given UTC hour.
func weekdayAt(hour int) time.Time {
	return time.Date(2025, time.March, 5, hour, 30, 0, 0, time.UTC)
}

// weekendAt returns a known Saturday at the given UTC hour.
func weekendAt(hour int) time.Time {
	return time.Date(2025, time.March, 8, hour, 30, 0, 0, time.UTC)
}

// TestCheckVolume requires the 1.5x floor and fails missing ratios.
func TestCheckVolume(t *testing.T) {
	f := newTestFilters()

	if ok, _ := f.CheckVolume(1.6); !ok {
		t.Error("Expected 1.6x volume to pass")
	}
	if ok, _ := f.CheckVolume(1.5); !ok {
		t.Error("Expected exactly 1.5x volume to pass")
	}
	if ok, reason := f.CheckVolume(1.2); ok || reason == "" {
		t.Error("Expected 1.2x volume to fail with a reason")
	}
	if ok, _ := f.CheckVolume(0); ok {
		t.Error("Expected missing volume ratio to fail")
	}
}

// TestCheckTradingHours covers the UTC window and the weekend block.
func TestCheckTradingHours(t *testing.T) {
	f := newTestFilters()

	if ok, _ := f.CheckTradingHours(weekdayAt(12)); !ok {
		t.Error("Expected weekday noon to pass")
	}
	if ok, _ := f.CheckTradingHours(weekdayAt(8)); !ok {
		t.Error("Expected the opening hour to pass")
	}
	if ok, _ := f.CheckTradingHours(weekdayAt(20)); !ok {
		t.Error("Expected the closing hour to pass")
	}
	if ok, _ := f.CheckTradingHours(weekdayAt(7)); ok {
		t.Error("Expected pre-open hour to fail")
	}
	if ok, _ := f.CheckTradingHours(weekdayAt(21)); ok {
		t.Error("Expected post-close hour to fail")
	}
	if ok, reason := f.CheckTradingHours(weekendAt(12)); ok || reason != "weekend trading blocked" {
		t.Errorf("Expected weekend block, got ok=%v reason=%q", ok, reason)
	}
}

// TestDynamicMinScore adjusts the requirement to market breadth.
func TestDynamicMinScore(t *testing.T) {
	f := newTestFilters()

	testCases := []struct {
		name     string
		breadth  *market.MarketBreadth
		expected float64
	}{
		{"broad rally", &market.MarketBreadth{Bullish: 16, Bearish: 10, Total: 26}, 80},
		{"broad selloff", &market.MarketBreadth{Bullish: 10, Bearish: 16, Total: 26}, 90},
		{"mixed", &market.MarketBreadth{Bullish: 12, Bearish: 11, Total: 23}, 85},
		{"no breadth", nil, 85},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.DynamicMinScore(tc.breadth); got != tc.expected {
				t.Errorf("Expected minimum %.0f, got %.0f", tc.expected, got)
			}
		})
	}
}

// TestCheckScoreAgainstBreadth gates the combined score on the dynamic
// minimum.
func TestCheckScoreAgainstBreadth(t *testing.T) {
	f := newTestFilters()

	rally := &market.MarketBreadth{Bullish: 16, Bearish: 10, Total: 26}
	if ok, _ := f.CheckScoreAgainstBreadth(82, rally); !ok {
		t.Error("Expected 82 to clear the rally minimum of 80")
	}
	if ok, _ := f.CheckScoreAgainstBreadth(82, nil); ok {
		t.Error("Expected 82 to fail the neutral minimum of 85")
	}
}

// TestCheckRiskReward applies the 3.0 floor and rejects broken envelopes.
func TestCheckRiskReward(t *testing.T) {
	f := newTestFilters()

	// Reward 7, risk 2: 3.5 passes.
	if ok, _ := f.CheckRiskReward(100, 98, 107); !ok {
		t.Error("Expected R/R 3.5 to pass")
	}
	// Reward 5, risk 2: 2.5 fails.
	if ok, reason := f.CheckRiskReward(100, 98, 105); ok || reason == "" {
		t.Error("Expected R/R 2.5 to fail with a reason")
	}
	if ok, _ := f.CheckRiskReward(0, 98, 105); ok {
		t.Error("Expected zero entry to fail")
	}
	if ok, _ := f.CheckRiskReward(100, 100, 105); ok {
		t.Error("Expected zero risk distance to fail")
	}
}

// TestEvaluateCollectsEveryFailure returns all reasons, not just the first.
func TestEvaluateCollectsEveryFailure(t *testing.T) {
	f := newTestFilters()

	pass, reasons := f.Evaluate(Input{
		Symbol:        "BTCUSDT",
		VolumeRatio:   1.0,                 // fails volume
		CombinedScore: 70,                  // fails breadth minimum 85
		EntryPrice:    100,
		StopLoss:      98,
		TakeProfit:    104,                 // R/R 2.0 fails
		Now:           weekendAt(12),       // fails hours
	})

	if pass {
		t.Fatal("Expected evaluation to fail")
	}
	if len(reasons) != 4 {
		t.Errorf("Expected 4 failure reasons, got %d: %v", len(reasons), reasons)
	}
}

// TestEvaluateAllGatesPass returns no reasons on a clean trade.
func TestEvaluateAllGatesPass(t *testing.T) {
	f := newTestFilters()

	pass, reasons := f.Evaluate(Input{
		Symbol:        "BTCUSDT",
		VolumeRatio:   1.8,
		CombinedScore: 88,
		EntryPrice:    100,
		StopLoss:      98,
		TakeProfit:    107,
		Now:           weekdayAt(12),
	})

	if !pass {
		t.Fatalf("Expected pass, got reasons %v", reasons)
	}
	if len(reasons) != 0 {
		t.Errorf("Expected no reasons, got %v", reasons)
	}
}

// TestEvaluateDisabledGates skips gates turned off in config.
func TestEvaluateDisabledGates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VolumeEnabled = false
	cfg.HoursEnabled = false
	cfg.BreadthEnabled = false
	cfg.RiskRewardEnabled = false
	f := New(cfg, zerolog.Nop())

	pass, reasons := f.Evaluate(Input{
		Symbol:      "BTCUSDT",
		VolumeRatio: 0,
		Now:         weekendAt(3),
	})

	if !pass || len(reasons) != 0 {
		t.Errorf("Expected everything disabled to pass, got reasons %v", reasons)
	}
}
