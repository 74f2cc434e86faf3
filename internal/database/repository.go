package database

import (
	"context"
	"fmt"

	"futures-decision-engine/internal/engine"
	"futures-decision-engine/internal/signal"
)

// Repository persists decisions and trade outcomes. A nil repository or nil
// pool turns every write into a no-op so callers never branch on whether a
// database is configured.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ready() bool {
	return r != nil && r.db != nil && r.db.Pool != nil
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	if !r.ready() {
		return nil
	}
	return r.db.Pool.Ping(ctx)
}

// SaveDecision upserts one decision by id. Re-emitting the same decision
// updates the verdict fields instead of failing the audit write.
func (r *Repository) SaveDecision(ctx context.Context, d engine.Decision) error {
	if !r.ready() {
		return nil
	}
	query := `
		INSERT INTO decisions (id, symbol, trade_allowed, direction, entry_price, stop_loss,
		       take_profit_1, take_profit_2, risk_reward, position_pct, notional,
		       score, confidence, coherence, rejection_reason, context_factors, risk_warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			trade_allowed = EXCLUDED.trade_allowed,
			rejection_reason = EXCLUDED.rejection_reason,
			risk_warnings = EXCLUDED.risk_warnings
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		d.ID, d.Symbol, d.TradeAllowed, string(d.Direction), d.EntryPrice, d.StopLoss,
		d.TakeProfit1, d.TakeProfit2, d.RiskReward, d.PositionPct, d.Notional,
		d.Score, d.Confidence, d.Coherence, d.RejectionReason, d.ContextFactors, d.RiskWarnings, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving decision %s: %w", d.ID, err)
	}
	return nil
}

// SaveClosure inserts one trade outcome.
func (r *Repository) SaveClosure(ctx context.Context, c engine.TradeClosure) error {
	if !r.ready() {
		return nil
	}
	query := `
		INSERT INTO trade_outcomes (symbol, direction, pnl, pnl_percent, exit_reason, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		c.Symbol, string(c.Direction), c.PnL, c.PnLPercent, c.ExitReason, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("saving closure for %s: %w", c.Symbol, err)
	}
	return nil
}

// RecentDecisions returns the newest decisions, newest first.
func (r *Repository) RecentDecisions(ctx context.Context, limit int) ([]engine.Decision, error) {
	if !r.ready() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, trade_allowed, direction, entry_price, stop_loss,
		       take_profit_1, take_profit_2, risk_reward, position_pct, notional,
		       score, confidence, coherence, rejection_reason, context_factors, risk_warnings, created_at
		FROM decisions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var decisions []engine.Decision
	for rows.Next() {
		var d engine.Decision
		var direction string
		err := rows.Scan(
			&d.ID, &d.Symbol, &d.TradeAllowed, &direction, &d.EntryPrice, &d.StopLoss,
			&d.TakeProfit1, &d.TakeProfit2, &d.RiskReward, &d.PositionPct, &d.Notional,
			&d.Score, &d.Confidence, &d.Coherence, &d.RejectionReason, &d.ContextFactors, &d.RiskWarnings, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.Direction = signal.Direction(direction)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// RecentOutcomes returns the newest trade outcomes in chronological order,
// sized for warming the position sizer's performance window on startup.
func (r *Repository) RecentOutcomes(ctx context.Context, limit int) ([]engine.TradeClosure, error) {
	if !r.ready() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT symbol, direction, pnl, pnl_percent, exit_reason, closed_at
		FROM (
			SELECT symbol, direction, pnl, pnl_percent, exit_reason, closed_at
			FROM trade_outcomes
			ORDER BY closed_at DESC
			LIMIT $1
		) recent
		ORDER BY closed_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var closures []engine.TradeClosure
	for rows.Next() {
		var c engine.TradeClosure
		var direction string
		if err := rows.Scan(&c.Symbol, &direction, &c.PnL, &c.PnLPercent, &c.ExitReason, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		c.Direction = signal.Direction(direction)
		closures = append(closures, c)
	}
	return closures, rows.Err()
}
