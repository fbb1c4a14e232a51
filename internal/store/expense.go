package store

import (
	"context"
	"strings"
	"time"
)

// Expense categories tracked by the assistant. The set is closed: the schema
// rejects anything else with ErrIntegrity.
const (
	CategoryFood          = "food"
	CategoryTransport     = "transport"
	CategoryShopping      = "shopping"
	CategoryHealth        = "health"
	CategoryEntertainment = "entertainment"
	CategoryUtilities     = "utilities"
)

// Categories returns all valid expense category names.
func Categories() []string {
	return []string{
		CategoryFood, CategoryTransport, CategoryShopping,
		CategoryHealth, CategoryEntertainment, CategoryUtilities,
	}
}

// ValidCategory reports whether name is a known expense category.
func ValidCategory(name string) bool {
	switch name {
	case CategoryFood, CategoryTransport, CategoryShopping,
		CategoryHealth, CategoryEntertainment, CategoryUtilities:
		return true
	}
	return false
}

// Expense is one recorded purchase.
type Expense struct {
	ID          int64
	Amount      float64
	Category    string
	Description string
	Timestamp   time.Time
}

// ExpenseFilter narrows an expense query. Zero values mean "no constraint".
type ExpenseFilter struct {
	Category string
	From     time.Time
	To       time.Time
	Desc     bool
	Limit    int
}

// CategoryTotal is the aggregate spend for one category over a period.
type CategoryTotal struct {
	Category string
	Total    float64
	Count    int
}

// CategoryAverage is the mean transaction size for one category over a period.
type CategoryAverage struct {
	Category string
	Average  float64
	Count    int
}

// LogExpense records an expense and returns its row ID. A zero Timestamp
// defaults to now.
func (s *Store) LogExpense(ctx context.Context, e Expense) (int64, error) {
	const query = `
		INSERT INTO expenses (amount, category, description, timestamp)
		VALUES (?, ?, ?, ?)`

	res, err := s.q.ExecContext(ctx, query,
		e.Amount, e.Category, e.Description, dbTime(orNow(e.Timestamp)))
	if err != nil {
		return 0, mapErr("log expense", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("log expense", err)
	}
	return id, nil
}

// QueryExpenses returns expenses matching the filter, ordered by timestamp
// (ascending unless f.Desc).
func (s *Store) QueryExpenses(ctx context.Context, f ExpenseFilter) ([]Expense, error) {
	query := `SELECT id, amount, category, description, timestamp FROM expenses`

	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, dbTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, dbTime(f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp"
	if f.Desc {
		query += " DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query expenses", err)
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var e Expense
		var ts string
		if err := rows.Scan(&e.ID, &e.Amount, &e.Category, &e.Description, &ts); err != nil {
			return nil, mapErr("query expenses scan", err)
		}
		if e.Timestamp, err = parseTime("query expenses", ts); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("query expenses", err)
	}
	return expenses, nil
}

// SumExpensesByCategory returns the total spend per category between from and
// to (zero bounds are open), ordered by total descending so the biggest
// spending bucket comes first.
func (s *Store) SumExpensesByCategory(ctx context.Context, from, to time.Time) ([]CategoryTotal, error) {
	query := `SELECT category, SUM(amount), COUNT(*) FROM expenses`
	conds, args := timeBounds(from, to)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " GROUP BY category ORDER BY SUM(amount) DESC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("sum expenses", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, mapErr("sum expenses scan", err)
		}
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("sum expenses", err)
	}
	return totals, nil
}

// AverageExpensesByCategory returns the mean transaction size per category
// between from and to (zero bounds are open), ordered by average descending.
func (s *Store) AverageExpensesByCategory(ctx context.Context, from, to time.Time) ([]CategoryAverage, error) {
	query := `SELECT category, AVG(amount), COUNT(*) FROM expenses`
	conds, args := timeBounds(from, to)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " GROUP BY category ORDER BY AVG(amount) DESC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("average expenses", err)
	}
	defer rows.Close()

	var avgs []CategoryAverage
	for rows.Next() {
		var ca CategoryAverage
		if err := rows.Scan(&ca.Category, &ca.Average, &ca.Count); err != nil {
			return nil, mapErr("average expenses scan", err)
		}
		avgs = append(avgs, ca)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("average expenses", err)
	}
	return avgs, nil
}

// timeBounds builds WHERE conditions for an optional timestamp range.
func timeBounds(from, to time.Time) (conds []string, args []any) {
	if !from.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, dbTime(from))
	}
	if !to.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, dbTime(to))
	}
	return conds, args
}
