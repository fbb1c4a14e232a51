package expensetool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tools"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustSpend(t *testing.T, st *store.Store, e store.Expense) {
	t.Helper()
	if _, err := st.LogExpense(context.Background(), e); err != nil {
		t.Fatalf("log expense: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// track_expense
// ─────────────────────────────────────────────────────────────────────────────

func TestTrackExpense(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeTrackExpenseHandler(st)

	out, err := handler(context.Background(), `{"amount":45.50,"category":"food","description":"dinner"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res trackExpenseResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}
	if res.Status != "ok" || res.ID <= 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.WeekCategoryTotal != 45.5 {
		t.Errorf("week_category_total = %v, want 45.5", res.WeekCategoryTotal)
	}

	// A second food expense raises the running weekly total.
	out, err = handler(context.Background(), `{"amount":10,"category":"food"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.WeekCategoryTotal != 55.5 {
		t.Errorf("week_category_total = %v, want 55.5", res.WeekCategoryTotal)
	}
}

func TestTrackExpense_OtherCategoryDoesNotCount(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustSpend(t, st, store.Expense{Amount: 99, Category: store.CategoryTransport})

	handler := makeTrackExpenseHandler(st)
	out, err := handler(context.Background(), `{"amount":20,"category":"food"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res trackExpenseResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.WeekCategoryTotal != 20 {
		t.Errorf("week_category_total = %v, want 20 (transport must not count)", res.WeekCategoryTotal)
	}
}

func TestTrackExpense_BackdatedDate(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeTrackExpenseHandler(st)

	out, err := handler(context.Background(), `{"amount":18,"category":"food","date":"2026-07-03"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res trackExpenseResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}
	if res.Date != "2026-07-03" {
		t.Errorf("date = %q, want 2026-07-03", res.Date)
	}
	// The weekly total is for the week containing the backdated expense,
	// not the current one.
	if res.WeekCategoryTotal != 18 {
		t.Errorf("week_category_total = %v, want 18", res.WeekCategoryTotal)
	}

	rows, err := st.QueryExpenses(context.Background(), store.ExpenseFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := time.Date(2026, 7, 3, 0, 0, 0, 0, time.UTC)
	if len(rows) != 1 || !rows[0].Timestamp.Equal(want) {
		t.Errorf("stored rows = %+v, want one expense at %v", rows, want)
	}
}

func TestTrackExpense_BackdatedJoinsItsWeek(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	// An earlier expense in the same past week counts toward the total; one
	// from the following week does not.
	mustSpend(t, st, store.Expense{Amount: 7, Category: store.CategoryFood,
		Timestamp: time.Date(2026, 6, 29, 0, 0, 0, 0, time.UTC)})
	mustSpend(t, st, store.Expense{Amount: 100, Category: store.CategoryFood,
		Timestamp: time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)})

	handler := makeTrackExpenseHandler(st)
	out, err := handler(context.Background(), `{"amount":18,"category":"food","date":"2026-07-03"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res trackExpenseResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.WeekCategoryTotal != 25 {
		t.Errorf("week_category_total = %v, want 25 (7 + 18, next week excluded)", res.WeekCategoryTotal)
	}
}

func TestTrackExpense_InvalidDate(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeTrackExpenseHandler(st)

	for _, args := range []string{
		`{"amount":10,"category":"food","date":"yesterday"}`,
		`{"amount":10,"category":"food","date":"03-07-2026"}`,
	} {
		if _, err := handler(context.Background(), args); !errors.Is(err, tools.ErrValidation) {
			t.Errorf("args %s: expected ErrValidation, got %v", args, err)
		}
	}

	rows, err := st.QueryExpenses(context.Background(), store.ExpenseFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rejected expense must not be stored, found %d rows", len(rows))
	}
}

func TestTrackExpense_InvalidAmount(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeTrackExpenseHandler(st)

	for _, args := range []string{
		`{"amount":0,"category":"food"}`,
		`{"amount":-12.5,"category":"food"}`,
	} {
		if _, err := handler(context.Background(), args); !errors.Is(err, tools.ErrValidation) {
			t.Errorf("args %s: expected ErrValidation, got %v", args, err)
		}
	}
}

func TestTrackExpense_InvalidCategory(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeTrackExpenseHandler(st)

	_, err := handler(context.Background(), `{"amount":10,"category":"gadgets"}`)
	if !errors.Is(err, tools.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	rows, err := st.QueryExpenses(context.Background(), store.ExpenseFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rejected expense must not be stored, found %d rows", len(rows))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_spending_today
// ─────────────────────────────────────────────────────────────────────────────

func TestSpendingToday_IncludesJustTracked(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	track := makeTrackExpenseHandler(st)
	if _, err := track(context.Background(), `{"amount":45.50,"category":"food","description":"dinner"}`); err != nil {
		t.Fatalf("track: %v", err)
	}

	today := makeGetSpendingTodayHandler(st)
	out, err := today(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getSpendingTodayResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}
	if res.Count != 1 || res.Total != 45.5 {
		t.Errorf("count/total = %d/%v, want 1/45.5", res.Count, res.Total)
	}
	if len(res.Expenses) != 1 || res.Expenses[0].Description != "dinner" {
		t.Errorf("expected the tracked dinner, got %+v", res.Expenses)
	}
}

func TestSpendingToday_ExcludesYesterday(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	mustSpend(t, st, store.Expense{Amount: 30, Category: store.CategoryFood, Timestamp: yesterday})
	mustSpend(t, st, store.Expense{Amount: 12, Category: store.CategoryTransport})

	handler := makeGetSpendingTodayHandler(st)
	out, err := handler(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getSpendingTodayResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.Count != 1 || res.Total != 12 {
		t.Errorf("count/total = %d/%v, want 1/12", res.Count, res.Total)
	}
}

func TestSpendingToday_Empty(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeGetSpendingTodayHandler(st)

	out, err := handler(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"expenses":[]`) {
		t.Errorf("empty day should encode an empty array, got %s", out)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_spending_summary
// ─────────────────────────────────────────────────────────────────────────────

func TestSpendingSummary(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	mustSpend(t, st, store.Expense{Amount: 42.50, Category: store.CategoryFood})
	mustSpend(t, st, store.Expense{Amount: 10, Category: store.CategoryFood})
	mustSpend(t, st, store.Expense{Amount: 20, Category: store.CategoryTransport})

	handler := makeGetSpendingSummaryHandler(st)
	out, err := handler(context.Background(), `{"days":30}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getSpendingSummaryResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}
	if res.Total != 72.5 || res.Count != 3 {
		t.Errorf("total/count = %v/%d, want 72.5/3", res.Total, res.Count)
	}
	if res.DailyAvg != 2.42 {
		t.Errorf("daily_avg = %v, want 2.42", res.DailyAvg)
	}
	if len(res.ByCategory) != 2 {
		t.Fatalf("expected 2 category lines, got %d", len(res.ByCategory))
	}
	// Ordered by total descending: food (52.50) before transport (20).
	if res.ByCategory[0].Category != store.CategoryFood || res.ByCategory[0].Total != 52.5 {
		t.Errorf("top category = %+v, want food/52.5", res.ByCategory[0])
	}
	if res.ByCategory[0].Avg != 26.25 {
		t.Errorf("food avg = %v, want 26.25", res.ByCategory[0].Avg)
	}
	if len(res.Recent) != 3 {
		t.Errorf("expected 3 recent entries, got %d", len(res.Recent))
	}
}

func TestSpendingSummary_RecentCappedAtFive(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	for i := 0; i < 7; i++ {
		mustSpend(t, st, store.Expense{Amount: float64(i + 1), Category: store.CategoryFood})
	}

	handler := makeGetSpendingSummaryHandler(st)
	out, err := handler(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getSpendingSummaryResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(res.Recent) != 5 {
		t.Errorf("recent = %d entries, want 5", len(res.Recent))
	}
	if res.Count != 7 {
		t.Errorf("count = %d, want 7", res.Count)
	}
}

func TestSpendingSummary_CategoryFilter(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	mustSpend(t, st, store.Expense{Amount: 42.50, Category: store.CategoryFood})
	mustSpend(t, st, store.Expense{Amount: 20, Category: store.CategoryTransport})

	handler := makeGetSpendingSummaryHandler(st)
	out, err := handler(context.Background(), `{"category":"food"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getSpendingSummaryResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.Total != 42.5 || res.Count != 1 {
		t.Errorf("total/count = %v/%d, want 42.5/1", res.Total, res.Count)
	}
	if len(res.ByCategory) != 1 || res.ByCategory[0].Category != store.CategoryFood {
		t.Errorf("by_category = %+v, want only food", res.ByCategory)
	}
	for _, r := range res.Recent {
		if r.Category != store.CategoryFood {
			t.Errorf("recent must honour the category filter, got %+v", r)
		}
	}
}

func TestSpendingSummary_UnknownCategory(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeGetSpendingSummaryHandler(st)

	_, err := handler(context.Background(), `{"category":"gadgets"}`)
	if !errors.Is(err, tools.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_budget_status
// ─────────────────────────────────────────────────────────────────────────────

func TestBudgetStatus(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustSpend(t, st, store.Expense{Amount: 100, Category: store.CategoryFood})

	handler := makeGetBudgetStatusHandler(st)
	out, err := handler(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getBudgetStatusResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}

	now := time.Now().UTC()
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()

	if res.Budget != 3000 {
		t.Errorf("budget = %v, want default 3000", res.Budget)
	}
	if res.Spent != 100 || res.Remaining != 2900 {
		t.Errorf("spent/remaining = %v/%v, want 100/2900", res.Spent, res.Remaining)
	}
	if res.Month != now.Format("2006-01") {
		t.Errorf("month = %q, want %q", res.Month, now.Format("2006-01"))
	}
	if res.DaysElapsed != now.Day() {
		t.Errorf("days_elapsed = %d, want %d", res.DaysElapsed, now.Day())
	}
	if res.DaysRemaining != daysInMonth-now.Day() {
		t.Errorf("days_remaining = %d, want %d", res.DaysRemaining, daysInMonth-now.Day())
	}
	wantProjected := round2(100 / float64(now.Day()) * float64(daysInMonth))
	if res.ProjectedMonthTotal != wantProjected {
		t.Errorf("projected_month_total = %v, want %v", res.ProjectedMonthTotal, wantProjected)
	}
	if !res.OnTrack {
		t.Error("100 spent against 3000 should be on track")
	}
}

func TestBudgetStatus_OverBudget(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustSpend(t, st, store.Expense{Amount: 100, Category: store.CategoryFood})

	handler := makeGetBudgetStatusHandler(st)
	out, err := handler(context.Background(), `{"monthly_budget":50}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res getBudgetStatusResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.Remaining != -50 {
		t.Errorf("remaining = %v, want -50", res.Remaining)
	}
	if res.OnTrack {
		t.Error("overspent month must not be on track")
	}
}

func TestBudgetStatus_NegativeBudget(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	handler := makeGetBudgetStatusHandler(st)

	_, err := handler(context.Background(), `{"monthly_budget":-100}`)
	if !errors.Is(err, tools.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// calculate_savings_goal
// ─────────────────────────────────────────────────────────────────────────────

func TestCalculateSavingsGoal(t *testing.T) {
	t.Parallel()
	handler := makeCalculateSavingsGoalHandler()

	out, err := handler(context.Background(), `{"target_amount":1200,"target_months":6,"monthly_income":4000}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"status":"ok","monthly_savings_needed":200,"target_amount":1200,"target_months":6,"feasible":true,"percentage_of_income":5,"remaining_after_savings":3800}`
	if out != want {
		t.Errorf("result = %s\nwant     %s", out, want)
	}

	var res calculateSavingsGoalResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.MonthlySavingsNeeded != 200 || !res.Feasible || res.PercentageOfIncome != 5 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCalculateSavingsGoal_NoIncome(t *testing.T) {
	t.Parallel()
	handler := makeCalculateSavingsGoalHandler()

	out, err := handler(context.Background(), `{"target_amount":1200,"target_months":6}`)
	if err != nil {
		t.Fatalf("income is optional: %v", err)
	}

	var res calculateSavingsGoalResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.PercentageOfIncome != 0 {
		t.Errorf("percentage_of_income = %v, want 0 without income", res.PercentageOfIncome)
	}
	if res.Feasible {
		t.Error("feasibility cannot be asserted without income")
	}
	if res.MonthlySavingsNeeded != 200 {
		t.Errorf("monthly_savings_needed = %v, want 200", res.MonthlySavingsNeeded)
	}
}

func TestCalculateSavingsGoal_RoundsToCents(t *testing.T) {
	t.Parallel()
	handler := makeCalculateSavingsGoalHandler()

	out, err := handler(context.Background(), `{"target_amount":1000,"target_months":3,"monthly_income":1000}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res calculateSavingsGoalResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.MonthlySavingsNeeded != 333.33 {
		t.Errorf("monthly_savings_needed = %v, want 333.33", res.MonthlySavingsNeeded)
	}
	if res.RemainingAfterSavings != 666.67 {
		t.Errorf("remaining_after_savings = %v, want 666.67", res.RemainingAfterSavings)
	}
}

func TestCalculateSavingsGoal_Infeasible(t *testing.T) {
	t.Parallel()
	handler := makeCalculateSavingsGoalHandler()

	out, err := handler(context.Background(), `{"target_amount":12000,"target_months":6,"monthly_income":3000}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res calculateSavingsGoalResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	// 2000/month against 3000 income is above the 50% feasibility bar.
	if res.Feasible {
		t.Error("expected infeasible goal")
	}
}

func TestCalculateSavingsGoal_Validation(t *testing.T) {
	t.Parallel()
	handler := makeCalculateSavingsGoalHandler()

	cases := []struct {
		name string
		args string
	}{
		{"zero months", `{"target_amount":1200,"target_months":0}`},
		{"negative months", `{"target_amount":1200,"target_months":-3}`},
		{"fractional months", `{"target_amount":1200,"target_months":2.5}`},
		{"zero amount", `{"target_amount":0,"target_months":6}`},
		{"negative amount", `{"target_amount":-500,"target_months":6}`},
		{"negative income", `{"target_amount":1200,"target_months":6,"monthly_income":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := handler(context.Background(), tc.args); !errors.Is(err, tools.ErrValidation) {
				t.Errorf("args %s: expected ErrValidation, got %v", tc.args, err)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry wiring
// ─────────────────────────────────────────────────────────────────────────────

func TestDispatch_TrackExpenseMissingRequired(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	r, err := tools.NewRegistry(NewTools(st))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got := r.Dispatch(context.Background(), "track_expense", `{"amount":10}`)
	if !strings.HasPrefix(got, `{"error":"Invalid arguments for track_expense: `) {
		t.Errorf("expected invalid-arguments envelope, got %s", got)
	}
	if !strings.Contains(got, "category") {
		t.Errorf("envelope should name the missing parameter, got %s", got)
	}
}

func TestDispatch_SavingsGoalZeroMonths(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	r, err := tools.NewRegistry(NewTools(st))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got := r.Dispatch(context.Background(), "calculate_savings_goal", `{"target_amount":1200,"target_months":0}`)
	if !strings.HasPrefix(got, `{"error":"Invalid arguments for calculate_savings_goal: `) {
		t.Errorf("expected invalid-arguments envelope, got %s", got)
	}
}

func TestNewTools_Names(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	want := []string{"track_expense", "get_spending_today", "get_spending_summary", "get_budget_status", "calculate_savings_goal"}
	set := NewTools(st)
	if len(set) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(set))
	}
	for i, tool := range set {
		if tool.Definition.Name != want[i] {
			t.Errorf("tool %d = %q, want %q", i, tool.Definition.Name, want[i])
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// weekStart
// ─────────────────────────────────────────────────────────────────────────────

func TestWeekStart(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"wednesday",
			time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC),
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday belongs to the preceding monday",
			time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			"monday is its own week start",
			time.Date(2026, 8, 24, 0, 0, 1, 0, time.UTC),
			time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := weekStart(tc.in); !got.Equal(tc.want) {
				t.Errorf("weekStart(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
