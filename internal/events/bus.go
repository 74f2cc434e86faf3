// Package events provides the in-process publish/subscribe bus connecting
// the decision engine to notifiers, websocket clients and persistence.
package events

import (
	"sync"
	"time"
)

// EventType labels the events the engine emits.
type EventType string

const (
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
	EventDecision        EventType = "DECISION"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventCrashPause      EventType = "CRASH_PAUSE"
	EventCrashResume     EventType = "CRASH_RESUME"
	EventBreakerTripped  EventType = "CIRCUIT_BREAKER_TRIPPED"
	EventBreakerReleased EventType = "CIRCUIT_BREAKER_RELEASED"
	EventRegimeChanged   EventType = "REGIME_CHANGED"
	EventPositionReview  EventType = "POSITION_REVIEW"
	EventError           EventType = "ERROR"
)

// Event is a single bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles delivered events.
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event type.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers. Delivery is
// asynchronous so a slow subscriber never blocks the decision path.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishCycleCompleted publishes a finished evaluation cycle.
func (eb *EventBus) PublishCycleCompleted(cycleID, regime string, evaluated, tradable int, duration time.Duration) {
	eb.Publish(Event{
		Type: EventCycleCompleted,
		Data: map[string]interface{}{
			"cycle_id":    cycleID,
			"regime":      regime,
			"evaluated":   evaluated,
			"tradable":    tradable,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// DecisionEvent is the payload for PublishDecision.
type DecisionEvent struct {
	ID         string
	Symbol     string
	Direction  string
	Allowed    bool
	Score      float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Notional   float64
	Reason     string
}

// PublishDecision publishes one instrument decision. Price levels are only
// attached to approved decisions.
func (eb *EventBus) PublishDecision(d DecisionEvent) {
	data := map[string]interface{}{
		"id":        d.ID,
		"symbol":    d.Symbol,
		"direction": d.Direction,
		"allowed":   d.Allowed,
		"score":     d.Score,
	}
	if d.Allowed {
		data["entry_price"] = d.EntryPrice
		data["stop_loss"] = d.StopLoss
		data["take_profit"] = d.TakeProfit
		data["notional"] = d.Notional
	} else {
		data["reason"] = d.Reason
	}
	eb.Publish(Event{Type: EventDecision, Data: data})
}

// PublishTradeClosed publishes a closed trade outcome.
func (eb *EventBus) PublishTradeClosed(symbol string, pnl, pnlPercent float64, exitReason string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
			"exit_reason": exitReason,
		},
	})
}

// PublishCrashPause publishes a crash-protection pause.
func (eb *EventBus) PublishCrashPause(crashType string, until time.Time) {
	eb.Publish(Event{
		Type: EventCrashPause,
		Data: map[string]interface{}{
			"crash_type":   crashType,
			"paused_until": until,
		},
	})
}

// PublishCrashResume publishes the end of a crash pause.
func (eb *EventBus) PublishCrashResume() {
	eb.Publish(Event{Type: EventCrashResume, Data: map[string]interface{}{}})
}

// PublishBreakerTripped publishes a circuit breaker activation.
func (eb *EventBus) PublishBreakerTripped(reason string) {
	eb.Publish(Event{
		Type: EventBreakerTripped,
		Data: map[string]interface{}{"reason": reason},
	})
}

// PublishBreakerReleased publishes a circuit breaker release.
func (eb *EventBus) PublishBreakerReleased() {
	eb.Publish(Event{Type: EventBreakerReleased, Data: map[string]interface{}{}})
}

// PublishRegimeChanged publishes a market regime transition.
func (eb *EventBus) PublishRegimeChanged(previous, current string, confidence float64) {
	eb.Publish(Event{
		Type: EventRegimeChanged,
		Data: map[string]interface{}{
			"previous":   previous,
			"current":    current,
			"confidence": confidence,
		},
	})
}

// PublishPositionReview publishes a protective action recommendation.
func (eb *EventBus) PublishPositionReview(symbol, action, reason string) {
	eb.Publish(Event{
		Type: EventPositionReview,
		Data: map[string]interface{}{
			"symbol": symbol,
			"action": action,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
