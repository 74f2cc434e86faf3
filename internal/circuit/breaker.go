// Package circuit implements the stop-loss circuit breaker. A burst of
// stop-loss exits inside a short trailing window halts new entries until the
// window rolls past the oldest exit; position management is never blocked.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the breaker thresholds.
type Config struct {
	Enabled             bool          `json:"enabled"`
	MaxStopLossClosures int           `json:"max_stop_loss_closures"` // exits within Window that trip the breaker
	Window              time.Duration `json:"window"`                 // trailing window length
}

// DefaultConfig returns the production thresholds: two stop-loss exits
// within five minutes halt entries.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxStopLossClosures: 2,
		Window:              5 * time.Minute,
	}
}

// closureLogLimit bounds the retained stop-loss history.
const closureLogLimit = 10

type closure struct {
	at     time.Time
	symbol string
}

// Breaker tracks recent stop-loss exits and vetoes new entries while too
// many fall inside the trailing window. Safe for concurrent use.
type Breaker struct {
	cfg      Config
	closures []closure
	tripped  bool
	mu       sync.Mutex
	onTrip   func(reason string)
	onReset  func()
	logger   zerolog.Logger
}

// NewBreaker creates a stop-loss circuit breaker.
func NewBreaker(cfg Config, logger zerolog.Logger) *Breaker {
	return &Breaker{
		cfg:      cfg,
		closures: make([]closure, 0, closureLogLimit),
		logger:   logger.With().Str("component", "circuit_breaker").Logger(),
	}
}

// OnTrip sets the callback fired when the breaker activates.
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets the callback fired when the breaker releases.
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// RecordStopLossClosure logs a stop-loss exit. The history is bounded; only
// exits inside the trailing window count toward the trip threshold.
func (b *Breaker) RecordStopLossClosure(symbol string, at time.Time) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closures = append(b.closures, closure{at: at, symbol: symbol})
	if n := len(b.closures); n > closureLogLimit {
		b.closures = b.closures[n-closureLogLimit:]
	}

	count, oldest := b.windowCountLocked(at)
	b.logger.Debug().
		Str("symbol", symbol).
		Int("in_window", count).
		Msg("Stop-loss closure recorded")

	if count >= b.cfg.MaxStopLossClosures && !b.tripped {
		b.tripped = true
		reason := fmt.Sprintf("%d stop-loss exits within %s", count, b.cfg.Window)
		b.logger.Warn().
			Str("reason", reason).
			Time("blocked_until", oldest.Add(b.cfg.Window)).
			Msg("Circuit breaker tripped")
		if b.onTrip != nil {
			go b.onTrip(reason)
		}
	}
}

// CanTrade reports whether new entries are allowed. While active it returns
// the remaining block time in the reason.
func (b *Breaker) CanTrade(at time.Time) (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	active, remaining := b.activeLocked(at)
	if !active {
		return true, ""
	}

	count, _ := b.windowCountLocked(at)
	return false, fmt.Sprintf("circuit breaker active: %d stop-loss exits within %s, %s remaining",
		count, b.cfg.Window, remaining.Round(time.Second))
}

// Active reports the breaker state and the time left until release.
func (b *Breaker) Active(at time.Time) (bool, time.Duration) {
	if !b.cfg.Enabled {
		return false, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeLocked(at)
}

// activeLocked evaluates the trailing window and re-arms the trip callback
// once the window has rolled past the oldest exit.
func (b *Breaker) activeLocked(at time.Time) (bool, time.Duration) {
	count, oldest := b.windowCountLocked(at)
	if count >= b.cfg.MaxStopLossClosures {
		return true, oldest.Add(b.cfg.Window).Sub(at)
	}

	if b.tripped {
		b.tripped = false
		b.logger.Info().Msg("Circuit breaker released")
		if b.onReset != nil {
			go b.onReset()
		}
	}
	return false, 0
}

// windowCountLocked counts exits strictly inside the trailing window ending
// at the given instant and returns the oldest of them. An exit aged exactly
// one full window no longer counts, so the block lifts on the boundary.
func (b *Breaker) windowCountLocked(at time.Time) (int, time.Time) {
	cutoff := at.Add(-b.cfg.Window)

	var count int
	var oldest time.Time
	for _, c := range b.closures {
		if !c.at.After(cutoff) {
			continue
		}
		if count == 0 {
			oldest = c.at
		}
		count++
	}
	return count, oldest
}

// ClosureRecord is one stop-loss exit in persistable form.
type ClosureRecord struct {
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
}

// Export returns the retained stop-loss history for persistence.
func (b *Breaker) Export() []ClosureRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]ClosureRecord, len(b.closures))
	for i, c := range b.closures {
		records[i] = ClosureRecord{Symbol: c.symbol, At: c.at}
	}
	return records
}

// Restore replaces the stop-loss history with persisted records and
// re-derives the tripped state as of the given instant. Trip callbacks do
// not fire for restored history.
func (b *Breaker) Restore(records []ClosureRecord, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closures = b.closures[:0]
	for _, r := range records {
		b.closures = append(b.closures, closure{at: r.At, symbol: r.Symbol})
	}
	if n := len(b.closures); n > closureLogLimit {
		b.closures = b.closures[n-closureLogLimit:]
	}

	count, _ := b.windowCountLocked(at)
	b.tripped = count >= b.cfg.MaxStopLossClosures
	if b.tripped {
		b.logger.Warn().Int("in_window", count).Msg("Circuit breaker restored in tripped state")
	}
}

// ForceReset clears the closure history and releases the breaker.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.closures = b.closures[:0]
	wasTripped := b.tripped
	b.tripped = false
	handler := b.onReset
	b.mu.Unlock()

	b.logger.Info().Msg("Circuit breaker force reset")
	if wasTripped && handler != nil {
		go handler()
	}
}

// SetEnabled enables or disables the breaker.
func (b *Breaker) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Enabled = enabled
}

// Status returns the breaker state for dashboards.
func (b *Breaker) Status(at time.Time) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	active, remaining := b.activeLocked(at)
	if remaining < 0 {
		remaining = 0
	}
	count, _ := b.windowCountLocked(at)

	return map[string]interface{}{
		"enabled":           b.cfg.Enabled,
		"active":            active,
		"remaining_seconds": int(remaining.Seconds()),
		"recent_closures":   count,
		"max_closures":      b.cfg.MaxStopLossClosures,
		"window_minutes":    int(b.cfg.Window.Minutes()),
		"logged_closures":   len(b.closures),
	}
}
