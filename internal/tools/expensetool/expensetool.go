// Package expensetool provides the built-in tools that let the assistant
// track spending and reason about budgets.
//
// Five tools are exported via [NewTools]:
//   - "track_expense"          — record one expense, today or backdated.
//   - "get_spending_today"     — list today's expenses with a running total.
//   - "get_spending_summary"   — aggregates over the last N days.
//   - "get_budget_status"      — month-to-date spend against a monthly budget.
//   - "calculate_savings_goal" — pure arithmetic, no persistence involved.
//
// All handlers are safe for concurrent use. Day, week, and month boundaries
// are computed in UTC, matching how timestamps are persisted.
package expensetool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// Store is the persistence surface the expense tools need.
// *store.Store satisfies it.
type Store interface {
	LogExpense(ctx context.Context, e store.Expense) (int64, error)
	QueryExpenses(ctx context.Context, f store.ExpenseFilter) ([]store.Expense, error)
	SumExpensesByCategory(ctx context.Context, from, to time.Time) ([]store.CategoryTotal, error)
	AverageExpensesByCategory(ctx context.Context, from, to time.Time) ([]store.CategoryAverage, error)
}

// defaultMonthlyBudget is assumed when get_budget_status is called without an
// explicit budget.
const defaultMonthlyBudget = 3000

// ─────────────────────────────────────────────────────────────────────────────
// track_expense
// ─────────────────────────────────────────────────────────────────────────────

// trackExpenseArgs is the JSON-decoded input for the "track_expense" tool.
type trackExpenseArgs struct {
	// Amount is the expense amount. Must be positive.
	Amount float64 `json:"amount"`

	// Category is one of the known spending categories.
	Category string `json:"category"`

	// Description is optional free text ("dinner with friends").
	Description string `json:"description,omitempty"`

	// Date optionally backdates the expense to a day, YYYY-MM-DD. Empty
	// means now.
	Date string `json:"date,omitempty"`
}

// trackExpenseResult is the JSON-encoded output of the "track_expense" tool.
// WeekCategoryTotal is the same-category spend for the week containing the
// expense, up to and including it, so the model can answer "how much on food
// this week" without a second tool round.
type trackExpenseResult struct {
	Status            string  `json:"status"`
	ID                int64   `json:"id"`
	Amount            float64 `json:"amount"`
	Category          string  `json:"category"`
	Date              string  `json:"date"`
	WeekCategoryTotal float64 `json:"week_category_total"`
}

// makeTrackExpenseHandler returns a handler for the "track_expense" tool.
func makeTrackExpenseHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a trackExpenseArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		if a.Amount <= 0 {
			return "", tools.Validationf("amount must be positive, got %v", a.Amount)
		}
		if !store.ValidCategory(a.Category) {
			return "", tools.Validationf("category must be one of food, transport, shopping, health, entertainment, utilities; got %q", a.Category)
		}

		ts := time.Now().UTC()
		if a.Date != "" {
			day, err := time.Parse("2006-01-02", a.Date)
			if err != nil {
				return "", tools.Validationf("date must be YYYY-MM-DD, got %q", a.Date)
			}
			ts = day.UTC()
		}
		id, err := st.LogExpense(ctx, store.Expense{
			Amount:      a.Amount,
			Category:    a.Category,
			Description: a.Description,
			Timestamp:   ts,
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: track_expense: %w", err)
		}

		totals, err := st.SumExpensesByCategory(ctx, weekStart(ts), ts)
		if err != nil {
			return "", fmt.Errorf("expense tool: track_expense: week total: %w", err)
		}
		weekTotal := 0.0
		for _, t := range totals {
			if t.Category == a.Category {
				weekTotal = t.Total
				break
			}
		}

		res, err := json.Marshal(trackExpenseResult{
			Status:            "ok",
			ID:                id,
			Amount:            round2(a.Amount),
			Category:          a.Category,
			Date:              ts.Format("2006-01-02"),
			WeekCategoryTotal: round2(weekTotal),
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: track_expense: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_spending_today
// ─────────────────────────────────────────────────────────────────────────────

// expenseEntry is one expense row in a tool result.
type expenseEntry struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Time        string  `json:"time,omitempty"`
	Date        string  `json:"date,omitempty"`
}

// getSpendingTodayResult is the JSON-encoded output of the "get_spending_today" tool.
type getSpendingTodayResult struct {
	Status   string         `json:"status"`
	Date     string         `json:"date"`
	Total    float64        `json:"total"`
	Count    int            `json:"count"`
	Expenses []expenseEntry `json:"expenses"`
}

// makeGetSpendingTodayHandler returns a handler for the "get_spending_today" tool.
func makeGetSpendingTodayHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		now := time.Now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

		expenses, err := st.QueryExpenses(ctx, store.ExpenseFilter{From: midnight})
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_today: %w", err)
		}

		total := 0.0
		entries := make([]expenseEntry, 0, len(expenses))
		for _, e := range expenses {
			total += e.Amount
			entries = append(entries, expenseEntry{
				Amount:      e.Amount,
				Category:    e.Category,
				Description: e.Description,
				Time:        e.Timestamp.UTC().Format("15:04"),
			})
		}

		res, err := json.Marshal(getSpendingTodayResult{
			Status:   "ok",
			Date:     now.Format("2006-01-02"),
			Total:    round2(total),
			Count:    len(entries),
			Expenses: entries,
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_today: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_spending_summary
// ─────────────────────────────────────────────────────────────────────────────

// defaultSummaryDays is the lookback window when "days" is not provided.
const defaultSummaryDays = 30

// recentLimit caps the recent-expenses list in a spending summary.
const recentLimit = 5

// getSpendingSummaryArgs is the JSON-decoded input for the "get_spending_summary" tool.
type getSpendingSummaryArgs struct {
	// Days is the lookback window including today. Defaults to 30.
	Days int `json:"days,omitempty"`

	// Category optionally restricts the summary to a single category.
	Category string `json:"category,omitempty"`
}

// categoryBreakdown is one category line in a spending summary, ordered by
// total descending.
type categoryBreakdown struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
	Avg      float64 `json:"avg"`
}

// getSpendingSummaryResult is the JSON-encoded output of the "get_spending_summary" tool.
type getSpendingSummaryResult struct {
	Status     string              `json:"status"`
	Days       int                 `json:"days"`
	Category   string              `json:"category,omitempty"`
	Total      float64             `json:"total"`
	Count      int                 `json:"count"`
	DailyAvg   float64             `json:"daily_avg"`
	ByCategory []categoryBreakdown `json:"by_category"`
	Recent     []expenseEntry      `json:"recent"`
}

// makeGetSpendingSummaryHandler returns a handler for the "get_spending_summary"
// tool. Totals come from the per-category sum aggregate and the mean
// transaction size is merged in from the per-category average aggregate.
func makeGetSpendingSummaryHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getSpendingSummaryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		days := a.Days
		if days == 0 {
			days = defaultSummaryDays
		}
		if days < 1 || days > 365 {
			return "", tools.Validationf("days must be between 1 and 365, got %d", days)
		}
		if a.Category != "" && !store.ValidCategory(a.Category) {
			return "", tools.Validationf("unknown category %q", a.Category)
		}

		now := time.Now().UTC()
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -(days - 1))

		sums, err := st.SumExpensesByCategory(ctx, from, now)
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_summary: %w", err)
		}
		avgs, err := st.AverageExpensesByCategory(ctx, from, now)
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_summary: %w", err)
		}
		avgByCategory := make(map[string]float64, len(avgs))
		for _, avg := range avgs {
			avgByCategory[avg.Category] = avg.Average
		}

		total := 0.0
		count := 0
		byCategory := make([]categoryBreakdown, 0, len(sums))
		for _, sum := range sums {
			if a.Category != "" && sum.Category != a.Category {
				continue
			}
			total += sum.Total
			count += sum.Count
			byCategory = append(byCategory, categoryBreakdown{
				Category: sum.Category,
				Total:    round2(sum.Total),
				Count:    sum.Count,
				Avg:      round2(avgByCategory[sum.Category]),
			})
		}

		recentRows, err := st.QueryExpenses(ctx, store.ExpenseFilter{
			Category: a.Category,
			From:     from,
			Desc:     true,
			Limit:    recentLimit,
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_summary: recent: %w", err)
		}
		recent := make([]expenseEntry, 0, len(recentRows))
		for _, e := range recentRows {
			recent = append(recent, expenseEntry{
				Amount:      e.Amount,
				Category:    e.Category,
				Description: e.Description,
				Date:        e.Timestamp.UTC().Format("2006-01-02"),
			})
		}

		res, err := json.Marshal(getSpendingSummaryResult{
			Status:     "ok",
			Days:       days,
			Category:   a.Category,
			Total:      round2(total),
			Count:      count,
			DailyAvg:   round2(total / float64(days)),
			ByCategory: byCategory,
			Recent:     recent,
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: get_spending_summary: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_budget_status
// ─────────────────────────────────────────────────────────────────────────────

// getBudgetStatusArgs is the JSON-decoded input for the "get_budget_status" tool.
type getBudgetStatusArgs struct {
	// MonthlyBudget overrides the assumed monthly budget. Must be positive
	// when provided. Defaults to 3000.
	MonthlyBudget float64 `json:"monthly_budget,omitempty"`
}

// getBudgetStatusResult is the JSON-encoded output of the "get_budget_status" tool.
type getBudgetStatusResult struct {
	Status              string  `json:"status"`
	Month               string  `json:"month"`
	Budget              float64 `json:"budget"`
	Spent               float64 `json:"spent"`
	Remaining           float64 `json:"remaining"`
	DaysElapsed         int     `json:"days_elapsed"`
	DaysRemaining       int     `json:"days_remaining"`
	DailyBudgetLeft     float64 `json:"daily_budget_left"`
	ProjectedMonthTotal float64 `json:"projected_month_total"`
	OnTrack             bool    `json:"on_track"`
}

// makeGetBudgetStatusHandler returns a handler for the "get_budget_status"
// tool. The projection extrapolates the month-to-date run rate across the
// whole month.
func makeGetBudgetStatusHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getBudgetStatusArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		budget := a.MonthlyBudget
		if budget == 0 {
			budget = defaultMonthlyBudget
		}
		if budget < 0 {
			return "", tools.Validationf("monthly_budget must be positive, got %v", budget)
		}

		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()

		totals, err := st.SumExpensesByCategory(ctx, monthStart, now)
		if err != nil {
			return "", fmt.Errorf("expense tool: get_budget_status: %w", err)
		}
		spent := 0.0
		for _, t := range totals {
			spent += t.Total
		}

		daysElapsed := now.Day()
		daysRemaining := daysInMonth - daysElapsed
		remaining := budget - spent

		dailyLeft := remaining
		if daysRemaining > 0 {
			dailyLeft = remaining / float64(daysRemaining)
		}
		projected := spent / float64(daysElapsed) * float64(daysInMonth)

		res, err := json.Marshal(getBudgetStatusResult{
			Status:              "ok",
			Month:               now.Format("2006-01"),
			Budget:              round2(budget),
			Spent:               round2(spent),
			Remaining:           round2(remaining),
			DaysElapsed:         daysElapsed,
			DaysRemaining:       daysRemaining,
			DailyBudgetLeft:     round2(dailyLeft),
			ProjectedMonthTotal: round2(projected),
			OnTrack:             projected <= budget,
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: get_budget_status: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// calculate_savings_goal
// ─────────────────────────────────────────────────────────────────────────────

// calculateSavingsGoalArgs is the JSON-decoded input for the
// "calculate_savings_goal" tool.
type calculateSavingsGoalArgs struct {
	// TargetAmount is the total amount to save. Must be positive.
	TargetAmount float64 `json:"target_amount"`

	// TargetMonths is the number of months to save it in. Must be a positive
	// whole number.
	TargetMonths float64 `json:"target_months"`

	// MonthlyIncome is the saver's monthly income. Optional; zero means
	// unknown, in which case income-relative figures are zero.
	MonthlyIncome float64 `json:"monthly_income,omitempty"`
}

// calculateSavingsGoalResult is the JSON-encoded output of the
// "calculate_savings_goal" tool.
type calculateSavingsGoalResult struct {
	Status                string  `json:"status"`
	MonthlySavingsNeeded  float64 `json:"monthly_savings_needed"`
	TargetAmount          float64 `json:"target_amount"`
	TargetMonths          int     `json:"target_months"`
	Feasible              bool    `json:"feasible"`
	PercentageOfIncome    float64 `json:"percentage_of_income"`
	RemainingAfterSavings float64 `json:"remaining_after_savings"`
}

// makeCalculateSavingsGoalHandler returns a handler for the
// "calculate_savings_goal" tool. Pure arithmetic; a goal is considered
// feasible when the required saving is at most half the stated income.
func makeCalculateSavingsGoalHandler() func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a calculateSavingsGoalArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		if a.TargetAmount <= 0 {
			return "", tools.Validationf("target_amount must be positive, got %v", a.TargetAmount)
		}
		if a.TargetMonths != math.Trunc(a.TargetMonths) {
			return "", tools.Validationf("target_months must be a whole number, got %v", a.TargetMonths)
		}
		if a.TargetMonths <= 0 {
			return "", tools.Validationf("target_months must be positive, got %v", a.TargetMonths)
		}
		if a.MonthlyIncome < 0 {
			return "", tools.Validationf("monthly_income must not be negative, got %v", a.MonthlyIncome)
		}

		needed := round2(a.TargetAmount / a.TargetMonths)

		percentage := 0.0
		if a.MonthlyIncome > 0 {
			percentage = round2(needed / a.MonthlyIncome * 100)
		}

		res, err := json.Marshal(calculateSavingsGoalResult{
			Status:                "ok",
			MonthlySavingsNeeded:  needed,
			TargetAmount:          round2(a.TargetAmount),
			TargetMonths:          int(a.TargetMonths),
			Feasible:              a.MonthlyIncome > 0 && needed <= a.MonthlyIncome*0.5,
			PercentageOfIncome:    percentage,
			RemainingAfterSavings: round2(a.MonthlyIncome - needed),
		})
		if err != nil {
			return "", fmt.Errorf("expense tool: calculate_savings_goal: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// weekStart returns the Monday 00:00 UTC that starts the week containing t.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -offset)
}

// round2 rounds to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

// NewTools constructs the expense tool set wired to the provided store.
func NewTools(st Store) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "track_expense",
				Description: "Record an expense, for today or a past date. Returns the new entry's id and the running total for the same category in that week. Categories: food, transport, shopping, health, entertainment, utilities.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"amount": map[string]any{
							"type":        "number",
							"description": "Expense amount. Must be positive.",
						},
						"category": map[string]any{
							"type":        "string",
							"description": "Spending category.",
							"enum":        []string{"food", "transport", "shopping", "health", "entertainment", "utilities"},
						},
						"description": map[string]any{
							"type":        "string",
							"description": "What the expense was for.",
						},
						"date": map[string]any{
							"type":        "string",
							"description": "Day the expense happened, as YYYY-MM-DD. Defaults to today.",
						},
					},
					"required": []string{"amount", "category"},
				},
				EstimatedDurationMs: 20,
				MaxDurationMs:       200,
			},
			Handler: makeTrackExpenseHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_spending_today",
				Description: "List today's expenses in chronological order together with the day's total.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
					"required":   []string{},
				},
				EstimatedDurationMs: 20,
				MaxDurationMs:       200,
				Idempotent:          true,
				CacheableSeconds:    5,
			},
			Handler: makeGetSpendingTodayHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_spending_summary",
				Description: "Summarise spending over the last N days (default 30): overall total, daily average, per-category breakdown ordered by total, and the five most recent expenses. Optionally restrict to one category.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"days": map[string]any{
							"type":        "integer",
							"description": "Lookback window in days including today, between 1 and 365. Defaults to 30.",
							"minimum":     1,
							"maximum":     365,
						},
						"category": map[string]any{
							"type":        "string",
							"description": "Restrict the summary to this category. Omit for all categories.",
							"enum":        []string{"food", "transport", "shopping", "health", "entertainment", "utilities"},
						},
					},
					"required": []string{},
				},
				EstimatedDurationMs: 50,
				MaxDurationMs:       300,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler: makeGetSpendingSummaryHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_budget_status",
				Description: "Compare month-to-date spending against a monthly budget (default 3000): amount spent, amount remaining, days left, sustainable daily spend, and the projected month-end total.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"monthly_budget": map[string]any{
							"type":        "number",
							"description": "Monthly budget to compare against. Defaults to 3000.",
						},
					},
					"required": []string{},
				},
				EstimatedDurationMs: 30,
				MaxDurationMs:       200,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler: makeGetBudgetStatusHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "calculate_savings_goal",
				Description: "Work out the monthly saving needed to reach a target amount in a number of months, and whether that is feasible against a monthly income. Pure calculation; nothing is stored.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"target_amount": map[string]any{
							"type":        "number",
							"description": "Total amount to save. Must be positive.",
						},
						"target_months": map[string]any{
							"type":        "integer",
							"description": "Months to save it in. Must be positive.",
						},
						"monthly_income": map[string]any{
							"type":        "number",
							"description": "Monthly income. Omit when unknown.",
						},
					},
					"required": []string{"target_amount", "target_months"},
				},
				EstimatedDurationMs: 1,
				MaxDurationMs:       10,
				Idempotent:          true,
				CacheableSeconds:    3600,
			},
			Handler: makeCalculateSavingsGoalHandler(),
		},
	}
}
