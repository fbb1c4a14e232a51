package store

import (
	"context"
	"time"
)

// UserInsight is a durable fact or preference the assistant has learned about
// the user ("prefers morning workouts", "saving for a house deposit").
type UserInsight struct {
	ID        int64
	Insight   string
	CreatedAt time.Time
}

// SaveInsight stores a learned fact about the user and returns its row ID.
func (s *Store) SaveInsight(ctx context.Context, insight string) (int64, error) {
	const query = `INSERT INTO user_insights (insight, created_at) VALUES (?, ?)`

	res, err := s.q.ExecContext(ctx, query, insight, dbTime(time.Now()))
	if err != nil {
		return 0, mapErr("save insight", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("save insight", err)
	}
	return id, nil
}

// RecentInsights returns the latest insights, newest first.
func (s *Store) RecentInsights(ctx context.Context, limit int) ([]UserInsight, error) {
	const query = `
		SELECT id, insight, created_at
		FROM user_insights ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, mapErr("recent insights", err)
	}
	defer rows.Close()

	var insights []UserInsight
	for rows.Next() {
		var ui UserInsight
		var created string
		if err := rows.Scan(&ui.ID, &ui.Insight, &created); err != nil {
			return nil, mapErr("recent insights scan", err)
		}
		if ui.CreatedAt, err = parseTime("recent insights", created); err != nil {
			return nil, err
		}
		insights = append(insights, ui)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("recent insights", err)
	}
	return insights, nil
}
