// Package healthtool provides the built-in tools that let the assistant
// record and review personal health metrics.
//
// Three tools are exported via [NewTools]:
//   - "log_health"         — record one or more metric observations for a day.
//   - "get_health_today"   — list today's raw entries.
//   - "get_health_summary" — per-metric aggregates over the last N days.
//
// All handlers are safe for concurrent use. Range validation lives here, not
// in the store: the store only enforces that metric names are known.
package healthtool

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

// Store is the persistence surface the health tools need.
// *store.Store satisfies it.
type Store interface {
	LogHealth(ctx context.Context, entry store.HealthLog) (int64, error)
	QueryHealth(ctx context.Context, f store.HealthFilter) ([]store.HealthLog, error)
	AggregateHealthByDate(ctx context.Context, metric string, from, to time.Time) ([]store.HealthDailyStat, error)
	Transaction(ctx context.Context, fn func(tx *store.Store) error) error
}

// metricRange bounds one numeric metric. Whole == true rejects fractional
// values (steps, heart rate, water glasses, exercise minutes).
type metricRange struct {
	min   float64
	max   float64
	whole bool
	unit  string
}

// metricRanges holds the accepted range per numeric metric. Mood is
// categorical and handled separately.
var metricRanges = map[string]metricRange{
	store.MetricSleepHours:      {min: 3, max: 12, unit: "hours"},
	store.MetricSteps:           {min: 0, max: 20000, whole: true, unit: "steps"},
	store.MetricHeartRate:       {min: 40, max: 120, whole: true, unit: "bpm"},
	store.MetricWeight:          {min: 80, max: 400, unit: "lbs"},
	store.MetricWater:           {min: 0, max: 20, whole: true, unit: "glasses"},
	store.MetricExerciseMinutes: {min: 0, max: 300, whole: true, unit: "minutes"},
}

// ─────────────────────────────────────────────────────────────────────────────
// log_health
// ─────────────────────────────────────────────────────────────────────────────

// logHealthArgs is the JSON-decoded input for the "log_health" tool. All
// metric fields are optional pointers so that "absent" and "zero" can be told
// apart; at least one metric must be present.
type logHealthArgs struct {
	SleepHours      *float64 `json:"sleep_hours,omitempty"`
	Steps           *float64 `json:"steps,omitempty"`
	HeartRate       *float64 `json:"heart_rate,omitempty"`
	Mood            *string  `json:"mood,omitempty"`
	Weight          *float64 `json:"weight,omitempty"`
	Water           *float64 `json:"water,omitempty"`
	ExerciseMinutes *float64 `json:"exercise_minutes,omitempty"`

	// Notes is free text attached to every metric logged in this call.
	Notes string `json:"notes,omitempty"`

	// Date is the calendar day the observations belong to, as YYYY-MM-DD.
	// Defaults to today (UTC).
	Date string `json:"date,omitempty"`
}

// logHealthResult is the JSON-encoded output of the "log_health" tool.
type logHealthResult struct {
	Status string           `json:"status"`
	Date   string           `json:"date"`
	Logged map[string]int64 `json:"logged"`
}

// makeLogHealthHandler returns a handler for the "log_health" tool. All
// provided metrics are validated before anything is written, and the writes
// happen inside a single transaction so a day's entry is all-or-nothing.
func makeLogHealthHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a logHealthArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}

		type observation struct {
			metric string
			value  float64
		}
		var obs []observation

		numeric := []struct {
			metric string
			value  *float64
		}{
			{store.MetricSleepHours, a.SleepHours},
			{store.MetricSteps, a.Steps},
			{store.MetricHeartRate, a.HeartRate},
			{store.MetricWeight, a.Weight},
			{store.MetricWater, a.Water},
			{store.MetricExerciseMinutes, a.ExerciseMinutes},
		}
		for _, n := range numeric {
			if n.value == nil {
				continue
			}
			r := metricRanges[n.metric]
			v := *n.value
			if r.whole && v != math.Trunc(v) {
				return "", tools.Validationf("%s must be a whole number, got %v", n.metric, v)
			}
			if v < r.min || v > r.max {
				return "", tools.Validationf("%s must be between %v and %v %s, got %v", n.metric, r.min, r.max, r.unit, v)
			}
			obs = append(obs, observation{metric: n.metric, value: v})
		}
		if a.Mood != nil {
			score, ok := store.MoodScore(*a.Mood)
			if !ok {
				return "", tools.Validationf("mood must be one of great, good, okay, tired, stressed; got %q", *a.Mood)
			}
			obs = append(obs, observation{metric: store.MetricMood, value: score})
		}

		if len(obs) == 0 {
			return "", tools.Validationf("at least one health metric is required")
		}

		ts := time.Now().UTC()
		if a.Date != "" {
			day, err := time.Parse("2006-01-02", a.Date)
			if err != nil {
				return "", tools.Validationf("date must be YYYY-MM-DD, got %q", a.Date)
			}
			ts = day.UTC()
		}

		logged := make(map[string]int64, len(obs))
		err := st.Transaction(ctx, func(tx *store.Store) error {
			for _, o := range obs {
				id, err := tx.LogHealth(ctx, store.HealthLog{
					Metric:    o.metric,
					Value:     o.value,
					Notes:     a.Notes,
					Timestamp: ts,
				})
				if err != nil {
					return err
				}
				logged[o.metric] = id
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("health tool: log_health: %w", err)
		}

		res, err := json.Marshal(logHealthResult{
			Status: "ok",
			Date:   ts.Format("2006-01-02"),
			Logged: logged,
		})
		if err != nil {
			return "", fmt.Errorf("health tool: log_health: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_health_today
// ─────────────────────────────────────────────────────────────────────────────

// getHealthTodayArgs is the JSON-decoded input for the "get_health_today" tool.
type getHealthTodayArgs struct {
	// Metric optionally restricts results to a single metric.
	Metric string `json:"metric,omitempty"`
}

// healthEntry is one raw observation in a get_health_today result.
type healthEntry struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Label  string  `json:"label,omitempty"`
	Notes  string  `json:"notes,omitempty"`
	Time   string  `json:"time"`
}

// getHealthTodayResult is the JSON-encoded output of the "get_health_today" tool.
type getHealthTodayResult struct {
	Status  string        `json:"status"`
	Date    string        `json:"date"`
	Count   int           `json:"count"`
	Entries []healthEntry `json:"entries"`
}

// makeGetHealthTodayHandler returns a handler for the "get_health_today" tool.
func makeGetHealthTodayHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getHealthTodayArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		if a.Metric != "" && !store.ValidMetric(a.Metric) {
			return "", tools.Validationf("unknown metric %q", a.Metric)
		}

		now := time.Now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

		logs, err := st.QueryHealth(ctx, store.HealthFilter{
			Metric: a.Metric,
			From:   midnight,
		})
		if err != nil {
			return "", fmt.Errorf("health tool: get_health_today: %w", err)
		}

		entries := make([]healthEntry, 0, len(logs))
		for _, l := range logs {
			e := healthEntry{
				Metric: l.Metric,
				Value:  l.Value,
				Notes:  l.Notes,
				Time:   l.Timestamp.UTC().Format("15:04"),
			}
			if l.Metric == store.MetricMood {
				e.Label = store.MoodLabel(l.Value)
			}
			entries = append(entries, e)
		}

		res, err := json.Marshal(getHealthTodayResult{
			Status:  "ok",
			Date:    now.Format("2006-01-02"),
			Count:   len(entries),
			Entries: entries,
		})
		if err != nil {
			return "", fmt.Errorf("health tool: get_health_today: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_health_summary
// ─────────────────────────────────────────────────────────────────────────────

// defaultSummaryDays is the lookback window when "days" is not provided.
const defaultSummaryDays = 7

// getHealthSummaryArgs is the JSON-decoded input for the "get_health_summary" tool.
type getHealthSummaryArgs struct {
	// Days is the lookback window including today. Defaults to 7.
	Days int `json:"days,omitempty"`
}

// metricSummary aggregates one metric over the window.
type metricSummary struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
	Label string  `json:"label,omitempty"`
}

// getHealthSummaryResult is the JSON-encoded output of the "get_health_summary" tool.
type getHealthSummaryResult struct {
	Status  string                   `json:"status"`
	Days    int                      `json:"days"`
	Metrics map[string]metricSummary `json:"metrics"`
}

// makeGetHealthSummaryHandler returns a handler for the "get_health_summary"
// tool. Per-day aggregates are merged into window totals; the averages are
// weighted by per-day counts so they equal the raw-row average.
func makeGetHealthSummaryHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getHealthSummaryArgs
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

		now := time.Now().UTC()
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -(days - 1))

		metrics := make(map[string]metricSummary)
		for _, metric := range store.Metrics() {
			daily, err := st.AggregateHealthByDate(ctx, metric, from, now)
			if err != nil {
				return "", fmt.Errorf("health tool: get_health_summary: %s: %w", metric, err)
			}
			if len(daily) == 0 {
				continue
			}

			sum := 0.0
			count := 0
			ms := metricSummary{Min: math.Inf(1), Max: math.Inf(-1)}
			for _, d := range daily {
				sum += d.Avg * float64(d.Count)
				count += d.Count
				ms.Min = math.Min(ms.Min, d.Min)
				ms.Max = math.Max(ms.Max, d.Max)
			}
			ms.Avg = round2(sum / float64(count))
			ms.Count = count
			if metric == store.MetricMood {
				ms.Label = store.MoodLabel(ms.Avg)
			}
			metrics[metric] = ms
		}

		res, err := json.Marshal(getHealthSummaryResult{
			Status:  "ok",
			Days:    days,
			Metrics: metrics,
		})
		if err != nil {
			return "", fmt.Errorf("health tool: get_health_summary: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// round2 rounds to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

// NewTools constructs the health tool set wired to the provided store.
func NewTools(st Store) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "log_health",
				Description: "Record health metrics for a day. Provide any combination of: sleep_hours (3-12), steps (0-20000), heart_rate (40-120 bpm), mood (great/good/okay/tired/stressed), weight (80-400 lbs), water (0-20 glasses), exercise_minutes (0-300). At least one metric is required. Optionally attach notes and a date (YYYY-MM-DD, defaults to today).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sleep_hours": map[string]any{
							"type":        "number",
							"description": "Hours slept, between 3 and 12.",
						},
						"steps": map[string]any{
							"type":        "integer",
							"description": "Step count, between 0 and 20000.",
						},
						"heart_rate": map[string]any{
							"type":        "integer",
							"description": "Resting heart rate in bpm, between 40 and 120.",
						},
						"mood": map[string]any{
							"type":        "string",
							"description": "Mood for the day.",
							"enum":        []string{"great", "good", "okay", "tired", "stressed"},
						},
						"weight": map[string]any{
							"type":        "number",
							"description": "Body weight in lbs, between 80 and 400.",
						},
						"water": map[string]any{
							"type":        "integer",
							"description": "Glasses of water, between 0 and 20.",
						},
						"exercise_minutes": map[string]any{
							"type":        "integer",
							"description": "Minutes of exercise, between 0 and 300.",
						},
						"notes": map[string]any{
							"type":        "string",
							"description": "Free-text note attached to every metric logged in this call.",
						},
						"date": map[string]any{
							"type":        "string",
							"description": "Day the observations belong to, as YYYY-MM-DD. Defaults to today.",
						},
					},
					"required": []string{},
				},
				EstimatedDurationMs: 20,
				MaxDurationMs:       200,
			},
			Handler: makeLogHealthHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_health_today",
				Description: "List today's raw health entries in chronological order. Optionally restrict to one metric.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"metric": map[string]any{
							"type":        "string",
							"description": "Restrict results to this metric. Omit for all metrics.",
							"enum":        []string{"sleep_hours", "steps", "heart_rate", "mood", "weight", "water", "exercise_minutes"},
						},
					},
					"required": []string{},
				},
				EstimatedDurationMs: 20,
				MaxDurationMs:       200,
				Idempotent:          true,
				CacheableSeconds:    5,
			},
			Handler: makeGetHealthTodayHandler(st),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_health_summary",
				Description: "Summarise health metrics over the last N days (default 7): average, minimum, maximum, and sample count per metric. Mood is additionally reported as a label.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"days": map[string]any{
							"type":        "integer",
							"description": "Lookback window in days including today, between 1 and 365. Defaults to 7.",
							"minimum":     1,
							"maximum":     365,
						},
					},
					"required": []string{},
				},
				EstimatedDurationMs: 50,
				MaxDurationMs:       300,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler: makeGetHealthSummaryHandler(st),
		},
	}
}
