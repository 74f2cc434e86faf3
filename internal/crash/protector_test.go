package crash

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var t0 = time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)

func newTestProtector() *Protector {
	return NewProtector(DefaultConfig(), zerolog.Nop())
}

// TestFlashCrashPauses detects a -3.2% drop over 15 minutes as FLASH_CRASH,
// not MAJOR_CRASH, and pauses for two hours.
func TestFlashCrashPauses(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(96.8, 1000, t0.Add(15*time.Minute))

	crashType := p.Check(t0.Add(15 * time.Minute))
	if crashType != Flash {
		t.Fatalf("Expected FLASH_CRASH, got %s", crashType)
	}

	allowed, reason := p.TradingAllowed(t0.Add(16 * time.Minute))
	if allowed {
		t.Fatal("Expected trading blocked while paused")
	}
	if !strings.Contains(reason, "FLASH_CRASH") {
		t.Errorf("Expected the reason to carry the crash type, got %q", reason)
	}

	// Two hours from detection, minus the minute already elapsed.
	if allowed, _ := p.TradingAllowed(t0.Add(15*time.Minute + 2*time.Hour - time.Second)); allowed {
		t.Error("Expected pause to hold just before the deadline")
	}
}

// TestMajorCrashOutranksFlash reports MAJOR_CRASH when both windows qualify.
func TestMajorCrashOutranksFlash(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(98, 1000, t0.Add(45*time.Minute))
	p.RecordPrice(94.5, 1000, t0.Add(60*time.Minute))

	crashType := p.Check(t0.Add(60 * time.Minute))
	if crashType != Major {
		t.Fatalf("Expected MAJOR_CRASH to outrank flash, got %s", crashType)
	}

	// Major pauses four hours.
	if allowed, _ := p.TradingAllowed(t0.Add(60*time.Minute + 3*time.Hour)); allowed {
		t.Error("Expected the major pause to still hold after 3 hours")
	}
	if allowed, _ := p.TradingAllowed(t0.Add(60*time.Minute + 4*time.Hour)); !allowed {
		t.Error("Expected the major pause to lift at its deadline")
	}
}

// TestAutoResumeBoundaryInclusive resumes exactly at pause_until without any
// extra call.
func TestAutoResumeBoundaryInclusive(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(96.5, 1000, t0.Add(15*time.Minute))
	detectedAt := t0.Add(15 * time.Minute)
	if got := p.Check(detectedAt); got != Flash {
		t.Fatalf("Expected FLASH_CRASH, got %s", got)
	}

	deadline := detectedAt.Add(2 * time.Hour)
	if allowed, _ := p.TradingAllowed(deadline.Add(-time.Nanosecond)); allowed {
		t.Error("Expected blocked one instant before the deadline")
	}
	if allowed, reason := p.TradingAllowed(deadline); !allowed {
		t.Errorf("Expected resume exactly at the deadline, got %q", reason)
	}

	status := p.Status()
	if status["state"] != string(StateNormal) {
		t.Errorf("Expected NORMAL after resume, got %v", status["state"])
	}
}

// TestForceResumeClearsPause lifts the pause unconditionally and logs it.
func TestForceResumeClearsPause(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(94, 1000, t0.Add(60*time.Minute))
	if got := p.Check(t0.Add(60 * time.Minute)); got != Major {
		t.Fatalf("Expected MAJOR_CRASH, got %s", got)
	}

	p.ForceResume()

	if allowed, _ := p.TradingAllowed(t0.Add(61 * time.Minute)); !allowed {
		t.Error("Expected trading allowed right after force resume")
	}

	actions := p.Actions()
	var foundOverride bool
	for _, a := range actions {
		if a.Action == "FORCE_RESUME" {
			foundOverride = true
		}
	}
	if !foundOverride {
		t.Errorf("Expected a FORCE_RESUME action, got %v", actions)
	}
}

// TestMultiAssetCrash pauses when 70% of the basket drops together while the
// leading asset holds.
func TestMultiAssetCrash(t *testing.T) {
	p := newTestProtector()

	later := t0.Add(15 * time.Minute)

	// Leading asset steady.
	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(99.8, 1000, later)

	p.RecordBasketPrice("ETHUSDT", 100, t0)
	p.RecordBasketPrice("SOLUSDT", 50, t0)
	p.RecordBasketPrice("BNBUSDT", 200, t0)
	p.RecordBasketPrice("ETHUSDT", 96.9, later) // -3.1%
	p.RecordBasketPrice("SOLUSDT", 48.4, later) // -3.2%
	p.RecordBasketPrice("BNBUSDT", 199, later)  // -0.5%

	// 2 of 3 is below the 70% share.
	if got := p.Check(later); got != None {
		t.Fatalf("Expected no crash at 2/3 of the basket, got %s", got)
	}

	p.RecordBasketPrice("XRPUSDT", 1.0, t0)
	p.RecordBasketPrice("XRPUSDT", 0.96, later) // -4.0%

	// 3 of 4 clears 70%.
	if got := p.Check(later); got != MultiAsset {
		t.Fatalf("Expected MULTI_ASSET_CRASH at 3/4 of the basket, got %s", got)
	}

	// Multi-asset pauses one hour.
	if allowed, _ := p.TradingAllowed(later.Add(time.Hour)); !allowed {
		t.Error("Expected the multi-asset pause to lift after one hour")
	}
}

// TestPanicSellingDetected pairs a volume spike with a moderate drop.
func TestPanicSellingDetected(t *testing.T) {
	p := newTestProtector()

	for i := 0; i < 5; i++ {
		p.RecordPrice(100, 100, t0.Add(time.Duration(i*3)*time.Minute))
	}
	checkAt := t0.Add(15 * time.Minute)
	p.RecordPrice(97.9, 400, checkAt) // -2.1% with 4x volume

	if got := p.Check(checkAt); got != Panic {
		t.Fatalf("Expected PANIC_SELLING, got %s", got)
	}
}

// TestPanicNeedsBothConditions requires the drop and the volume spike
// together.
func TestPanicNeedsBothConditions(t *testing.T) {
	p := newTestProtector()

	// Volume spike without a drop.
	for i := 0; i < 5; i++ {
		p.RecordPrice(100, 100, t0.Add(time.Duration(i*3)*time.Minute))
	}
	checkAt := t0.Add(15 * time.Minute)
	p.RecordPrice(99.5, 400, checkAt)

	if got := p.Check(checkAt); got != None {
		t.Errorf("Expected no crash on a volume spike alone, got %s", got)
	}
}

// TestEmergencyStopDistances tightens stops by crash severity, direction
// aware.
func TestEmergencyStopDistances(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(96.5, 1000, t0.Add(15*time.Minute))
	if got := p.Check(t0.Add(15 * time.Minute)); got != Flash {
		t.Fatalf("Expected FLASH_CRASH, got %s", got)
	}

	if stop := p.EmergencyStop("LONG", 100); !almostEqual(stop, 99.7) {
		t.Errorf("Expected flash long stop 99.7, got %.3f", stop)
	}
	if stop := p.EmergencyStop("SHORT", 100); !almostEqual(stop, 100.3) {
		t.Errorf("Expected flash short stop 100.3, got %.3f", stop)
	}
}

// TestLookupSlack tolerates up to five minutes when matching "price N
// minutes ago" and degrades silently beyond it.
func TestLookupSlack(t *testing.T) {
	p := newTestProtector()

	p.RecordPrice(100, 1000, t0)
	// 18 minutes later the 15-minute lookup target sits 3 minutes from t0,
	// inside slack, so the drop is visible.
	p.RecordPrice(96.5, 1000, t0.Add(18*time.Minute))
	if got := p.Check(t0.Add(18 * time.Minute)); got != Flash {
		t.Errorf("Expected FLASH_CRASH within slack, got %s", got)
	}

	q := newTestProtector()
	q.RecordPrice(100, 1000, t0)
	// 25 minutes later the lookup target is 10 minutes from every sample:
	// outside slack, no reading, no trigger.
	q.RecordPrice(96.5, 1000, t0.Add(25*time.Minute))
	if got := q.Check(t0.Add(25 * time.Minute)); got != None {
		t.Errorf("Expected no trigger outside slack, got %s", got)
	}
}

// TestHistoryEviction keeps the leading ring inside its time window.
func TestHistoryEviction(t *testing.T) {
	p := newTestProtector()

	for i := 0; i <= 120; i++ {
		p.RecordPrice(100, 100, t0.Add(time.Duration(i)*time.Minute))
	}

	status := p.Status()
	points := status["history_points"].(int)
	// 60-minute window plus 5 minutes of slack.
	if points > 67 {
		t.Errorf("Expected at most ~66 samples retained, got %d", points)
	}
	if points < 60 {
		t.Errorf("Expected the full window retained, got %d", points)
	}
}

// TestDisabledProtectorNeverPauses short-circuits when disabled.
func TestDisabledProtectorNeverPauses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	p := NewProtector(cfg, zerolog.Nop())

	p.RecordPrice(100, 1000, t0)
	p.RecordPrice(90, 1000, t0.Add(15*time.Minute))

	if got := p.Check(t0.Add(15 * time.Minute)); got != None {
		t.Errorf("Expected no detection when disabled, got %s", got)
	}
	if allowed, _ := p.TradingAllowed(t0.Add(15 * time.Minute)); !allowed {
		t.Error("Expected trading allowed when disabled")
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-9
}
