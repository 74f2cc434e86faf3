// Package crash watches the leading asset and a monitored basket for crash
// conditions and pauses all new entries while one is in effect. The protector
// is a two-state machine (NORMAL, PAUSED) with timestamp-driven auto-resume.
package crash

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type labels the detected crash condition.
type Type string

const (
	None       Type = "NONE"
	Flash      Type = "FLASH_CRASH"
	Major      Type = "MAJOR_CRASH"
	MultiAsset Type = "MULTI_ASSET_CRASH"
	Panic      Type = "PANIC_SELLING"
)

// State is the protector's operating state.
type State string

const (
	StateNormal State = "NORMAL"
	StatePaused State = "PAUSED"
)

// Config holds the trigger thresholds and pause durations.
type Config struct {
	Enabled bool `json:"enabled"`

	MajorDropPct    float64       `json:"major_drop_pct"`    // over MajorWindow
	MajorWindow     time.Duration `json:"major_window"`
	FlashDropPct    float64       `json:"flash_drop_pct"`    // over FlashWindow
	FlashWindow     time.Duration `json:"flash_window"`
	MultiAssetPct   float64       `json:"multi_asset_pct"`   // per-symbol drop
	MultiAssetShare float64       `json:"multi_asset_share"` // fraction of basket
	PanicVolumeMult float64       `json:"panic_volume_mult"`
	PanicDropPct    float64       `json:"panic_drop_pct"`

	PauseMajor      time.Duration `json:"pause_major"`
	PauseFlash      time.Duration `json:"pause_flash"`
	PauseMultiAsset time.Duration `json:"pause_multi_asset"`
	PausePanic      time.Duration `json:"pause_panic"`
}

// DefaultConfig returns the production thresholds: major -5%/60m (4h pause),
// flash -3%/15m (2h), multi-asset 70% of basket -3%/15m (1h), panic 3x
// volume with -2% (1h).
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MajorDropPct:    5.0,
		MajorWindow:     60 * time.Minute,
		FlashDropPct:    3.0,
		FlashWindow:     15 * time.Minute,
		MultiAssetPct:   3.0,
		MultiAssetShare: 0.7,
		PanicVolumeMult: 3.0,
		PanicDropPct:    2.0,
		PauseMajor:      4 * time.Hour,
		PauseFlash:      2 * time.Hour,
		PauseMultiAsset: time.Hour,
		PausePanic:      time.Hour,
	}
}

// Emergency stop distances by crash severity, as fractions of current price.
const (
	flashStopPct   = 0.003
	majorStopPct   = 0.005
	defaultStopPct = 0.008
)

// The leading-asset ring keeps one hour of samples plus lookup slack. At one
// sample per engine cycle this bounds memory regardless of cycle frequency.
const (
	ringCapacity       = 720
	basketRingCapacity = 240
	lookupSlack        = 5 * time.Minute
	actionLogLimit     = 50
	minPanicSamples    = 5
)

type pricePoint struct {
	at     time.Time
	price  float64
	volume float64
}

// Action is one entry in the bounded emergency log.
type Action struct {
	At        time.Time `json:"at"`
	Action    string    `json:"action"`
	CrashType Type      `json:"crash_type"`
	Details   string    `json:"details"`
}

// Protector tracks prices and enforces the pause. All methods are safe for
// concurrent use.
type Protector struct {
	cfg Config

	mu          sync.RWMutex
	state       State
	crashType   Type
	pausedUntil time.Time
	history     []pricePoint
	basket      map[string][]pricePoint
	actions     []Action

	onPause  func(Type, time.Time)
	onResume func()

	logger zerolog.Logger
}

// NewProtector creates a crash protector in the NORMAL state.
func NewProtector(cfg Config, logger zerolog.Logger) *Protector {
	return &Protector{
		cfg:    cfg,
		state:  StateNormal,
		basket: make(map[string][]pricePoint),
		logger: logger.With().Str("component", "crash").Logger(),
	}
}

// OnPause sets the callback fired on a NORMAL to PAUSED transition.
func (p *Protector) OnPause(handler func(Type, time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPause = handler
}

// OnResume sets the callback fired when the pause lifts.
func (p *Protector) OnResume(handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResume = handler
}

// RecordPrice appends a leading-asset sample and evicts anything older than
// the major window plus slack.
func (p *Protector) RecordPrice(price, volume float64, at time.Time) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = appendPoint(p.history, pricePoint{at: at, price: price, volume: volume},
		at.Add(-(p.cfg.MajorWindow + lookupSlack)), ringCapacity)
}

// RecordBasketPrice appends a sample for one monitored basket symbol.
func (p *Protector) RecordBasketPrice(symbol string, price float64, at time.Time) {
	if price <= 0 || symbol == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.basket[symbol] = appendPoint(p.basket[symbol], pricePoint{at: at, price: price},
		at.Add(-(p.cfg.FlashWindow + lookupSlack)), basketRingCapacity)
}

// Check evaluates every trigger in severity order and pauses on the first
// hit. Returns the active crash type, which is None in the NORMAL state.
func (p *Protector) Check(at time.Time) Type {
	if !p.cfg.Enabled {
		return None
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.maybeResumeLocked(at)
	if p.state == StatePaused {
		return p.crashType
	}

	if t, detail := p.detectLocked(at); t != None {
		p.pauseLocked(t, detail, at)
		return t
	}
	return None
}

// TradingAllowed reports whether new entries may open. While paused it
// returns the remaining pause; the pause lifts exactly at its deadline.
func (p *Protector) TradingAllowed(at time.Time) (bool, string) {
	if !p.cfg.Enabled {
		return true, ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.maybeResumeLocked(at)
	if p.state == StatePaused {
		remaining := p.pausedUntil.Sub(at).Round(time.Second)
		return false, fmt.Sprintf("crash protection active (%s), resumes in %s", p.crashType, remaining)
	}
	return true, ""
}

// ForceResume clears the pause unconditionally.
func (p *Protector) ForceResume() {
	p.mu.Lock()
	if p.state == StateNormal {
		p.mu.Unlock()
		return
	}
	p.state = StateNormal
	p.crashType = None
	p.pausedUntil = time.Time{}
	p.appendActionLocked(Action{
		At:      time.Now(),
		Action:  "FORCE_RESUME",
		Details: "manual override",
	})
	handler := p.onResume
	p.mu.Unlock()

	p.logger.Warn().Msg("Crash pause cleared by manual override")
	if handler != nil {
		go handler()
	}
}

// EmergencyStop returns a tightened stop price for an open position while a
// crash is active: 0.3% for flash, 0.5% for major, 0.8% otherwise.
func (p *Protector) EmergencyStop(direction string, currentPrice float64) float64 {
	p.mu.RLock()
	t := p.crashType
	p.mu.RUnlock()

	pct := defaultStopPct
	switch t {
	case Flash:
		pct = flashStopPct
	case Major:
		pct = majorStopPct
	}

	if direction == "SHORT" {
		return currentPrice * (1 + pct)
	}
	return currentPrice * (1 - pct)
}

// Snapshot is the persistable pause state. Price history is deliberately
// excluded; it is stale after a restart and rebuilds from live cycles.
type Snapshot struct {
	State       State     `json:"state"`
	CrashType   Type      `json:"crash_type"`
	PausedUntil time.Time `json:"paused_until"`
}

// Export returns the pause state for persistence.
func (p *Protector) Export() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{State: p.state, CrashType: p.crashType, PausedUntil: p.pausedUntil}
}

// Restore reinstates a persisted pause whose deadline is still ahead of at.
// Expired or NORMAL snapshots leave the protector untouched, and pause
// callbacks do not fire for restored state.
func (p *Protector) Restore(s Snapshot, at time.Time) {
	if s.State != StatePaused || !at.Before(s.PausedUntil) {
		return
	}

	p.mu.Lock()
	p.state = StatePaused
	p.crashType = s.CrashType
	p.pausedUntil = s.PausedUntil
	p.appendActionLocked(Action{
		At:        at,
		Action:    "RESTORE_PAUSE",
		CrashType: s.CrashType,
		Details:   "restored from snapshot",
	})
	p.mu.Unlock()

	p.logger.Warn().
		Str("crash_type", string(s.CrashType)).
		Time("paused_until", s.PausedUntil).
		Msg("Crash pause restored from snapshot")
}

// ActiveCrash returns the condition holding the current pause, or None.
func (p *Protector) ActiveCrash() Type {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crashType
}

// Actions returns a copy of the emergency log, oldest first.
func (p *Protector) Actions() []Action {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Action, len(p.actions))
	copy(out, p.actions)
	return out
}

// Status returns the protector state for status endpoints.
func (p *Protector) Status() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := map[string]interface{}{
		"state":          string(p.state),
		"crash_type":     string(p.crashType),
		"history_points": len(p.history),
		"basket_symbols": len(p.basket),
		"actions_logged": len(p.actions),
	}
	if p.state == StatePaused {
		status["paused_until"] = p.pausedUntil
	}
	return status
}

// detectLocked runs the triggers in severity order. Caller holds the mutex.
// The basket trigger runs even without leading-asset history.
func (p *Protector) detectLocked(at time.Time) (Type, string) {
	current, hasCurrent := p.latestLocked()

	if hasCurrent {
		if past, ok := p.priceAgoLocked(p.cfg.MajorWindow, at); ok {
			if drop := changePct(past, current.price); drop <= -p.cfg.MajorDropPct {
				return Major, fmt.Sprintf("%.2f%% over %s", drop, p.cfg.MajorWindow)
			}
		}
		if past, ok := p.priceAgoLocked(p.cfg.FlashWindow, at); ok {
			if drop := changePct(past, current.price); drop <= -p.cfg.FlashDropPct {
				return Flash, fmt.Sprintf("%.2f%% over %s", drop, p.cfg.FlashWindow)
			}
		}
	}

	if dropped, total := p.basketDropsLocked(at); total >= 2 {
		if share := float64(dropped) / float64(total); share >= p.cfg.MultiAssetShare {
			return MultiAsset, fmt.Sprintf("%d of %d basket symbols down %.1f%%+", dropped, total, p.cfg.MultiAssetPct)
		}
	}

	if hasCurrent {
		if avg, ok := p.averageVolumeLocked(); ok && avg > 0 && current.volume >= p.cfg.PanicVolumeMult*avg {
			if past, ok := p.priceAgoLocked(p.cfg.FlashWindow, at); ok {
				if drop := changePct(past, current.price); drop <= -p.cfg.PanicDropPct {
					return Panic, fmt.Sprintf("volume %.1fx average with %.2f%% drop", current.volume/avg, drop)
				}
			}
		}
	}

	return None, ""
}

func (p *Protector) pauseLocked(t Type, detail string, at time.Time) {
	p.state = StatePaused
	p.crashType = t
	p.pausedUntil = at.Add(p.pauseDuration(t))
	p.appendActionLocked(Action{
		At:        at,
		Action:    "PAUSE_TRADING",
		CrashType: t,
		Details:   detail,
	})

	p.logger.Error().
		Str("crash_type", string(t)).
		Str("detail", detail).
		Time("paused_until", p.pausedUntil).
		Msg("Crash detected, trading paused")

	if p.onPause != nil {
		go p.onPause(t, p.pausedUntil)
	}
}

func (p *Protector) pauseDuration(t Type) time.Duration {
	switch t {
	case Major:
		return p.cfg.PauseMajor
	case Flash:
		return p.cfg.PauseFlash
	case MultiAsset:
		return p.cfg.PauseMultiAsset
	case Panic:
		return p.cfg.PausePanic
	default:
		return p.cfg.PausePanic
	}
}

// maybeResumeLocked lifts the pause once its deadline arrives. The boundary
// is inclusive: trading resumes exactly at pausedUntil.
func (p *Protector) maybeResumeLocked(at time.Time) {
	if p.state != StatePaused || at.Before(p.pausedUntil) {
		return
	}
	p.state = StateNormal
	previous := p.crashType
	p.crashType = None
	p.pausedUntil = time.Time{}
	p.appendActionLocked(Action{
		At:        at,
		Action:    "RESUME_TRADING",
		CrashType: previous,
		Details:   "pause expired",
	})
	p.logger.Info().Str("crash_type", string(previous)).Msg("Crash pause expired, trading resumed")
	if p.onResume != nil {
		go p.onResume()
	}
}

func (p *Protector) appendActionLocked(a Action) {
	p.actions = append(p.actions, a)
	if len(p.actions) > actionLogLimit {
		p.actions = p.actions[len(p.actions)-actionLogLimit:]
	}
}

func (p *Protector) latestLocked() (pricePoint, bool) {
	if len(p.history) == 0 {
		return pricePoint{}, false
	}
	return p.history[len(p.history)-1], true
}

// priceAgoLocked finds the sample closest to the requested age, tolerating
// the configured slack. Missing history degrades to "no reading".
func (p *Protector) priceAgoLocked(age time.Duration, at time.Time) (float64, bool) {
	target := at.Add(-age)
	best, bestDiff := 0.0, lookupSlack+1
	for _, pt := range p.history {
		diff := pt.at.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff <= lookupSlack && diff < bestDiff {
			best, bestDiff = pt.price, diff
		}
	}
	return best, bestDiff <= lookupSlack
}

// basketDropsLocked counts basket symbols down at least the multi-asset
// threshold over the flash window.
func (p *Protector) basketDropsLocked(at time.Time) (dropped, total int) {
	target := at.Add(-p.cfg.FlashWindow)
	for _, points := range p.basket {
		if len(points) == 0 {
			continue
		}
		past, ok := closestPrice(points, target)
		if !ok {
			continue
		}
		total++
		if changePct(past, points[len(points)-1].price) <= -p.cfg.MultiAssetPct {
			dropped++
		}
	}
	return dropped, total
}

// averageVolumeLocked is the mean volume over the window excluding the
// newest sample. Needs a minimum of history to mean anything.
func (p *Protector) averageVolumeLocked() (float64, bool) {
	if len(p.history) < minPanicSamples {
		return 0, false
	}
	sum := 0.0
	prior := p.history[:len(p.history)-1]
	for _, pt := range prior {
		sum += pt.volume
	}
	return sum / float64(len(prior)), true
}

func closestPrice(points []pricePoint, target time.Time) (float64, bool) {
	best, bestDiff := 0.0, lookupSlack+1
	for _, pt := range points {
		diff := pt.at.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff <= lookupSlack && diff < bestDiff {
			best, bestDiff = pt.price, diff
		}
	}
	return best, bestDiff <= lookupSlack
}

// appendPoint pushes a sample into a ring, evicting by timestamp first and
// then by capacity.
func appendPoint(points []pricePoint, pt pricePoint, cutoff time.Time, capLimit int) []pricePoint {
	points = append(points, pt)
	trim := 0
	for trim < len(points) && points[trim].at.Before(cutoff) {
		trim++
	}
	points = points[trim:]
	if len(points) > capLimit {
		points = points[len(points)-capLimit:]
	}
	return points
}

func changePct(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}
