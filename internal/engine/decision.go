package engine

import (
	"context"
	"time"

	"futures-decision-engine/internal/crash"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/regime"
	"futures-decision-engine/internal/reversal"
	"futures-decision-engine/internal/signal"
)

// InstrumentUpdate carries one instrument's raw indicator snapshot plus its
// optional support/resistance levels into an evaluation cycle.
type InstrumentUpdate struct {
	Snapshot market.SnapshotInput `json:"snapshot"`
	Levels   *market.Levels       `json:"levels,omitempty"`
}

// CycleRequest is one full evaluation pass over a set of instruments.
// Sentiment and breadth are optional market-wide context. At allows callers
// to pin the evaluation instant; zero means now.
type CycleRequest struct {
	Instruments       []InstrumentUpdate    `json:"instruments"`
	Sentiment         *market.SentimentData `json:"sentiment,omitempty"`
	Breadth           *market.MarketBreadth `json:"breadth,omitempty"`
	Capital           float64               `json:"capital"`
	OpenPositionCount int                   `json:"open_position_count"`
	At                time.Time             `json:"at,omitempty"`
}

// Decision is the engine's verdict for one instrument in one cycle.
type Decision struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	TradeAllowed bool             `json:"trade_allowed"`
	Direction    signal.Direction `json:"direction"`

	EntryPrice  float64 `json:"entry_price,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit1 float64 `json:"take_profit_1,omitempty"`
	TakeProfit2 float64 `json:"take_profit_2,omitempty"`
	RiskReward  float64 `json:"risk_reward,omitempty"`

	PositionPct float64 `json:"position_pct,omitempty"`
	Notional    float64 `json:"notional,omitempty"`

	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Coherence  float64 `json:"coherence"`

	RejectionReason string   `json:"rejection_reason,omitempty"`
	ContextFactors  []string `json:"context_factors,omitempty"`
	RiskWarnings    []string `json:"risk_warnings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CycleResult is the outcome of one evaluation cycle. Decisions are sorted
// by combined score, best first.
type CycleResult struct {
	CycleID    string                    `json:"cycle_id"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration"`
	Regime     regime.Result             `json:"regime"`
	Parameters regime.AdaptiveParameters `json:"parameters"`
	Decisions  []Decision                `json:"decisions"`
	Evaluated  int                       `json:"evaluated"`
	Tradable   int                       `json:"tradable"`
}

// OpenPosition pairs an open trade with the latest snapshot of its market.
type OpenPosition struct {
	Position reversal.Position    `json:"position"`
	Snapshot market.SnapshotInput `json:"snapshot"`
}

// ReviewRequest asks the engine to review open positions for protective
// action.
type ReviewRequest struct {
	Positions []OpenPosition `json:"positions"`
	At        time.Time      `json:"at,omitempty"`
}

// PositionReview is the protective verdict for one open position. While a
// crash pause is active it also carries a tightened emergency stop.
type PositionReview struct {
	Review        reversal.Review `json:"review"`
	CrashType     crash.Type      `json:"crash_type,omitempty"`
	EmergencyStop float64         `json:"emergency_stop,omitempty"`
}

// Exit reasons reported on trade closures.
const (
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitReversal   = "REVERSAL"
	ExitEmergency  = "EMERGENCY"
	ExitManual     = "MANUAL"
)

// TradeClosure reports a finished trade back to the engine so the sizer and
// the circuit breaker can learn from it.
type TradeClosure struct {
	Symbol     string           `json:"symbol"`
	Direction  signal.Direction `json:"direction"`
	PnL        float64          `json:"pnl"`
	PnLPercent float64          `json:"pnl_percent"`
	ExitReason string           `json:"exit_reason"`
	ClosedAt   time.Time        `json:"closed_at,omitempty"`
}

// DecisionStore persists decisions and closures. The engine degrades to
// in-memory operation when none is configured or writes fail.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d Decision) error
	SaveClosure(ctx context.Context, c TradeClosure) error
}
