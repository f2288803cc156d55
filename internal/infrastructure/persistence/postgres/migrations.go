package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_catalog",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_progress_and_game_state",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_learning_events",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Users known to the engine. Inactive users keep their data but leave every
-- leaderboard.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_active ON users(id) WHERE active;

-- Lessons and the normalized topic they belong to.
CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_lessons_topic ON lessons(topic);
`

const migration001Down = `
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PROGRESS AND GAME STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS progress_records (
    user_id TEXT NOT NULL,
    lesson_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'not_started',
    progress_percent INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    mastery_percent INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    best_score INTEGER,
    last_accessed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, lesson_id),
    CONSTRAINT valid_status CHECK (status IN ('not_started', 'in_progress', 'completed')),
    CONSTRAINT valid_progress CHECK (progress_percent BETWEEN 0 AND 100),
    CONSTRAINT valid_mastery CHECK (mastery_percent BETWEEN 0 AND 100),
    CONSTRAINT valid_best_score CHECK (best_score IS NULL OR best_score BETWEEN 0 AND 100),
    CONSTRAINT valid_time_spent CHECK (time_spent_seconds >= 0)
);

CREATE INDEX IF NOT EXISTS idx_progress_user_accessed ON progress_records(user_id, last_accessed_at DESC);
CREATE INDEX IF NOT EXISTS idx_progress_completed_topic ON progress_records(topic, user_id) WHERE status = 'completed';

CREATE TABLE IF NOT EXISTS game_states (
    user_id TEXT PRIMARY KEY,
    xp INTEGER NOT NULL DEFAULT 0,
    streak_current INTEGER NOT NULL DEFAULT 0,
    streak_longest INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_streak CHECK (streak_current >= 0 AND streak_longest >= streak_current)
);

CREATE INDEX IF NOT EXISTS idx_game_states_xp ON game_states(xp DESC, user_id);
`

const migration002Down = `
DROP TABLE IF EXISTS game_states;
DROP TABLE IF EXISTS progress_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: LEARNING EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Append-only. The primary key is what makes redelivery idempotent.
CREATE TABLE IF NOT EXISTS learning_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind VARCHAR(30) NOT NULL,
    subject_id TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    score INTEGER,
    progress_percent INTEGER,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    mastery INTEGER,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('lesson_completed', 'quiz_scored', 'checkin'))
);

CREATE INDEX IF NOT EXISTS idx_learning_events_user_time ON learning_events(user_id, occurred_at);
`

const migration003Down = `
DROP TABLE IF EXISTS learning_events;
`
