// Command analyze_outcomes reports on the persisted decision audit trail:
// outcome quality per symbol and exit reason, plus the decision funnel.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

type Outcome struct {
	Symbol     string
	Direction  string
	PnL        float64
	PnLPercent float64
	ExitReason string
}

type SymbolStats struct {
	Symbol        string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
}

func main() {
	godotenv.Load()

	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "decision_engine")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPass, dbHost, dbPort, dbName)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	printHeader("📊 DECISION OUTCOME ANALYSIS")

	outcomes, err := loadOutcomes(ctx, pool)
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
		os.Exit(1)
	}

	if len(outcomes) == 0 {
		fmt.Println("\nNo recorded outcomes found.")

		var decisions, approved int
		pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&decisions)
		pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE trade_allowed`).Scan(&approved)
		fmt.Printf("   Decisions recorded: %d (approved: %d)\n", decisions, approved)
		return
	}

	fmt.Printf("\nAnalyzing %d recorded outcomes...\n\n", len(outcomes))

	printOverall(outcomes)
	printSymbolTable(outcomes)
	printExitReasons(outcomes)
	printDecisionFunnel(ctx, pool)
}

func loadOutcomes(ctx context.Context, pool *pgxpool.Pool) ([]Outcome, error) {
	query := `
		SELECT symbol, direction, pnl, pnl_percent, exit_reason
		FROM trade_outcomes
		ORDER BY closed_at DESC
	`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Symbol, &o.Direction, &o.PnL, &o.PnLPercent, &o.ExitReason); err != nil {
			fmt.Printf("Scan error: %v\n", err)
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func printOverall(outcomes []Outcome) {
	var wins, losses int
	var totalPnL, totalWins, totalLosses float64

	for _, o := range outcomes {
		totalPnL += o.PnL
		if o.PnL > 0 {
			wins++
			totalWins += o.PnL
		} else if o.PnL < 0 {
			losses++
			totalLosses += o.PnL
		}
	}

	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	profitFactor := 0.0
	if totalLosses < 0 {
		profitFactor = totalWins / -totalLosses
	}

	fmt.Printf("Total PnL:     %+.2f USDT\n", totalPnL)
	fmt.Printf("Win rate:      %.1f%% (%d wins / %d losses)\n", winRate, wins, losses)
	fmt.Printf("Profit factor: %.2f\n", profitFactor)
}

func printSymbolTable(outcomes []Outcome) {
	bySymbol := make(map[string]*SymbolStats)
	for _, o := range outcomes {
		stats, ok := bySymbol[o.Symbol]
		if !ok {
			stats = &SymbolStats{Symbol: o.Symbol}
			bySymbol[o.Symbol] = stats
		}
		stats.TotalTrades++
		stats.TotalPnL += o.PnL
		if o.PnL > 0 {
			stats.WinningTrades++
			stats.TotalWins += o.PnL
		} else if o.PnL < 0 {
			stats.LosingTrades++
			stats.TotalLosses += o.PnL
		}
	}

	sorted := make([]*SymbolStats, 0, len(bySymbol))
	for _, stats := range bySymbol {
		if stats.TotalTrades > 0 {
			stats.AvgPnL = stats.TotalPnL / float64(stats.TotalTrades)
			stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
		}
		sorted = append(sorted, stats)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TotalPnL > sorted[j].TotalPnL })

	fmt.Println("\n┌──────────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬──────────┐")
	fmt.Println("│ Symbol       │ Trades │ Winners │ Losers  │ Total PnL    │ Avg PnL      │ Win Rate │")
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")
	for _, s := range sorted {
		fmt.Printf("│ %-12s │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
			s.Symbol, s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.TotalPnL, s.AvgPnL, s.WinRate)
	}
	fmt.Println("└──────────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴──────────┘")
}

func printExitReasons(outcomes []Outcome) {
	type reasonStats struct {
		count int
		pnl   float64
	}

	byReason := make(map[string]*reasonStats)
	for _, o := range outcomes {
		stats, ok := byReason[o.ExitReason]
		if !ok {
			stats = &reasonStats{}
			byReason[o.ExitReason] = stats
		}
		stats.count++
		stats.pnl += o.PnL
	}

	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	fmt.Println("\n🎯 Exit reasons:")
	for _, reason := range reasons {
		s := byReason[reason]
		fmt.Printf("   %-12s %4d trades  %+12.2f USDT\n", reason, s.count, s.pnl)
	}
}

func printDecisionFunnel(ctx context.Context, pool *pgxpool.Pool) {
	printHeader("📈 DECISION FUNNEL")

	var total, approved int
	pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&total)
	pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE trade_allowed`).Scan(&approved)

	if total == 0 {
		fmt.Println("\nNo decisions recorded.")
		return
	}

	fmt.Printf("\nDecisions: %d total, %d approved (%.1f%%)\n\n",
		total, approved, float64(approved)/float64(total)*100)

	rows, err := pool.Query(ctx, `
		SELECT rejection_reason, COUNT(*) AS n
		FROM decisions
		WHERE NOT trade_allowed AND rejection_reason <> ''
		GROUP BY rejection_reason
		ORDER BY n DESC
		LIMIT 10
	`)
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
		return
	}
	defer rows.Close()

	fmt.Println("Top rejection reasons:")
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			continue
		}
		fmt.Printf("   %5d  %s\n", count, reason)
	}
}

func printHeader(title string) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
