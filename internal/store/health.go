package store

import (
	"context"
	"strings"
	"time"
)

// Health metrics tracked by the assistant. The set is closed: the schema
// rejects anything else with ErrIntegrity.
const (
	MetricSleepHours      = "sleep_hours"
	MetricSteps           = "steps"
	MetricHeartRate       = "heart_rate"
	MetricMood            = "mood"
	MetricWeight          = "weight"
	MetricWater           = "water"
	MetricExerciseMinutes = "exercise_minutes"
)

// Metrics returns all valid health metric names.
func Metrics() []string {
	return []string{
		MetricSleepHours, MetricSteps, MetricHeartRate, MetricMood,
		MetricWeight, MetricWater, MetricExerciseMinutes,
	}
}

// ValidMetric reports whether name is a known health metric.
func ValidMetric(name string) bool {
	switch name {
	case MetricSleepHours, MetricSteps, MetricHeartRate, MetricMood,
		MetricWeight, MetricWater, MetricExerciseMinutes:
		return true
	}
	return false
}

// Mood labels ordered from best to worst. Mood is the one categorical metric;
// its Value column stores the numeric score so aggregation still works, and
// these helpers translate both ways.
const (
	MoodGreat    = "great"
	MoodGood     = "good"
	MoodOkay     = "okay"
	MoodTired    = "tired"
	MoodStressed = "stressed"
)

var moodScores = map[string]float64{
	MoodGreat:    5,
	MoodGood:     4,
	MoodOkay:     3,
	MoodTired:    2,
	MoodStressed: 1,
}

// MoodScore returns the numeric score for a mood label, or false if the label
// is unknown.
func MoodScore(label string) (float64, bool) {
	score, ok := moodScores[label]
	return score, ok
}

// MoodLabel returns the label for a numeric mood score, rounding to the
// nearest known score. Scores outside [1,5] clamp to the extremes.
func MoodLabel(score float64) string {
	switch {
	case score >= 4.5:
		return MoodGreat
	case score >= 3.5:
		return MoodGood
	case score >= 2.5:
		return MoodOkay
	case score >= 1.5:
		return MoodTired
	default:
		return MoodStressed
	}
}

// HealthLog is one recorded observation of a single health metric.
// Categorical metrics (mood) are stored as a numeric code in Value; the
// mapping lives with the tool layer, the store treats every value as a number.
type HealthLog struct {
	ID        int64
	Metric    string
	Value     float64
	Notes     string
	Timestamp time.Time
}

// HealthFilter narrows a health query. Zero values mean "no constraint":
// empty Metric matches all metrics, zero From/To leave that bound open, and
// Limit <= 0 returns every matching row.
type HealthFilter struct {
	Metric string
	From   time.Time
	To     time.Time
	Desc   bool
	Limit  int
}

// HealthDailyStat summarises one metric on one calendar day (UTC).
type HealthDailyStat struct {
	Date  string // YYYY-MM-DD
	Avg   float64
	Min   float64
	Max   float64
	Count int
}

// LogHealth records a health observation and returns its row ID. A zero
// Timestamp defaults to now.
func (s *Store) LogHealth(ctx context.Context, entry HealthLog) (int64, error) {
	const query = `
		INSERT INTO health_logs (metric, value, notes, timestamp)
		VALUES (?, ?, ?, ?)`

	res, err := s.q.ExecContext(ctx, query,
		entry.Metric, entry.Value, entry.Notes, dbTime(orNow(entry.Timestamp)))
	if err != nil {
		return 0, mapErr("log health", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("log health", err)
	}
	return id, nil
}

// QueryHealth returns health logs matching the filter, ordered by timestamp
// (ascending unless f.Desc).
func (s *Store) QueryHealth(ctx context.Context, f HealthFilter) ([]HealthLog, error) {
	query := `SELECT id, metric, value, notes, timestamp FROM health_logs`

	var conds []string
	var args []any
	if f.Metric != "" {
		conds = append(conds, "metric = ?")
		args = append(args, f.Metric)
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
		return nil, mapErr("query health", err)
	}
	defer rows.Close()

	var logs []HealthLog
	for rows.Next() {
		var entry HealthLog
		var ts string
		if err := rows.Scan(&entry.ID, &entry.Metric, &entry.Value, &entry.Notes, &ts); err != nil {
			return nil, mapErr("query health scan", err)
		}
		if entry.Timestamp, err = parseTime("query health", ts); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("query health", err)
	}
	return logs, nil
}

// AggregateHealthByDate returns per-day statistics for one metric between from
// and to (inclusive), ordered by date ascending. Days without observations are
// absent from the result.
func (s *Store) AggregateHealthByDate(ctx context.Context, metric string, from, to time.Time) ([]HealthDailyStat, error) {
	const query = `
		SELECT date(timestamp), AVG(value), MIN(value), MAX(value), COUNT(*)
		FROM health_logs
		WHERE metric = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY date(timestamp)
		ORDER BY date(timestamp)`

	rows, err := s.q.QueryContext(ctx, query, metric, dbTime(from), dbTime(to))
	if err != nil {
		return nil, mapErr("aggregate health", err)
	}
	defer rows.Close()

	var stats []HealthDailyStat
	for rows.Next() {
		var st HealthDailyStat
		if err := rows.Scan(&st.Date, &st.Avg, &st.Min, &st.Max, &st.Count); err != nil {
			return nil, mapErr("aggregate health scan", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("aggregate health", err)
	}
	return stats, nil
}
