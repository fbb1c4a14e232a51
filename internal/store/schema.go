package store

import "context"

// schema is the SQL DDL for all tables. Every statement is idempotent, so the
// schema can be applied on each startup without a migration framework.
//
// Enum columns carry CHECK constraints so an invalid metric, category, or role
// surfaces as ErrIntegrity at the storage boundary rather than as silent bad
// data. Range validation (is this heart rate plausible?) belongs to the tool
// handlers, not here.
const schema = `
CREATE TABLE IF NOT EXISTS health_logs (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    metric    TEXT NOT NULL CHECK (metric IN (
                  'sleep_hours','steps','heart_rate','mood',
                  'weight','water','exercise_minutes')),
    value     REAL NOT NULL,
    notes     TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_logs_metric_ts ON health_logs(metric, timestamp);

CREATE TABLE IF NOT EXISTS expenses (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    amount      REAL NOT NULL,
    category    TEXT NOT NULL CHECK (category IN (
                    'food','transport','shopping','health',
                    'entertainment','utilities')),
    description TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expenses_category_ts ON expenses(category, timestamp);

CREATE TABLE IF NOT EXISTS conversations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    role       TEXT NOT NULL CHECK (role IN ('user','assistant')),
    content    TEXT NOT NULL,
    model_used TEXT NOT NULL DEFAULT '',
    latency_ms INTEGER NOT NULL DEFAULT 0,
    timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_ts ON conversations(timestamp);

CREATE TABLE IF NOT EXISTS embeddings (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    text_content    TEXT NOT NULL,
    embedding       BLOB,
    metadata        TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_conversation ON embeddings(conversation_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_created ON embeddings(created_at);

CREATE TABLE IF NOT EXISTS user_insights (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    insight    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_insights_created ON user_insights(created_at);
`

// migrate applies the schema DDL. Safe to call repeatedly.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return mapErr("migrate", err)
	}
	return nil
}
