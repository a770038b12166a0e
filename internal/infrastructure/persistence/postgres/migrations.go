package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE EVENT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Append-only progression log. seq orders every user's events;
-- idem_key makes appends idempotent.
CREATE TABLE IF NOT EXISTS events (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    idem_key VARCHAR(255) NOT NULL UNIQUE,
    kind VARCHAR(30) NOT NULL,
    user_id VARCHAR(128) NOT NULL,
    subject_id VARCHAR(128) NOT NULL DEFAULT '',
    occurrence_date DATE,
    activity_date DATE NOT NULL,
    recurring BOOLEAN NOT NULL DEFAULT FALSE,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    proof_type VARCHAR(20) NOT NULL DEFAULT '',
    privacy_level VARCHAR(20) NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL DEFAULT '',
    priority BOOLEAN NOT NULL DEFAULT FALSE,
    time_saved_minutes INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('task_completed', 'progress_shared', 'circle_joined', 'challenge_won')),
    CONSTRAINT valid_time_saved CHECK (time_saved_minutes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_events_user_seq ON events(user_id, seq);
`

const migration001Down = `
DROP TABLE IF EXISTS events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- XP ledger. Entry IDs are derived from the source event, so replays
-- never double-credit.
CREATE TABLE IF NOT EXISTS xp_entries (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    source_event_id VARCHAR(64) NOT NULL DEFAULT '',
    amount INTEGER NOT NULL,
    reason VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    position BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_xp_entries_user ON xp_entries(user_id, position);
CREATE INDEX IF NOT EXISTS idx_xp_entries_user_created ON xp_entries(user_id, created_at);

CREATE TABLE IF NOT EXISTS streaks (
    user_id VARCHAR(128) PRIMARY KEY,
    current_days INTEGER NOT NULL DEFAULT 0,
    longest_days INTEGER NOT NULL DEFAULT 0,
    last_active DATE,
    started_on DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streak CHECK (current_days >= 0 AND longest_days >= current_days)
);

CREATE TABLE IF NOT EXISTS user_progress (
    user_id VARCHAR(128) PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    circles_joined INTEGER NOT NULL DEFAULT 0,
    challenges_won INTEGER NOT NULL DEFAULT 0,
    shares_posted INTEGER NOT NULL DEFAULT 0,
    time_saved_minutes INTEGER NOT NULL DEFAULT 0,
    checkpoint VARCHAR(64) NOT NULL DEFAULT '',
    last_event_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS achievements (
    user_id VARCHAR(128) NOT NULL,
    achievement_id VARCHAR(100) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (user_id, achievement_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS user_progress;
DROP TABLE IF EXISTS streaks;
DROP TABLE IF EXISTS xp_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE TASKS AND SCOPES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(128) PRIMARY KEY,
    display_name VARCHAR(64) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(128) PRIMARY KEY,
    owner_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title VARCHAR(200) NOT NULL,
    category VARCHAR(30) NOT NULL,
    priority BOOLEAN NOT NULL DEFAULT FALSE,
    scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    deadline TIMESTAMP WITH TIME ZONE,
    proof VARCHAR(20) NOT NULL DEFAULT 'none',
    recurring BOOLEAN NOT NULL DEFAULT FALSE,
    time_saved_minutes INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    completed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_task_status CHECK (status IN ('pending', 'completed', 'missed'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_tasks_overdue ON tasks(deadline)
    WHERE status = 'pending' AND recurring = FALSE AND deadline IS NOT NULL;

CREATE TABLE IF NOT EXISTS scopes (
    id VARCHAR(128) PRIMARY KEY,
    kind VARCHAR(20) NOT NULL,
    name VARCHAR(100) NOT NULL,
    privacy_default VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_scope_kind CHECK (kind IN ('circle', 'challenge'))
);

CREATE TABLE IF NOT EXISTS scope_members (
    scope_id VARCHAR(128) NOT NULL REFERENCES scopes(id) ON DELETE CASCADE,
    user_id VARCHAR(128) NOT NULL,
    display_name VARCHAR(64) NOT NULL DEFAULT '',
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (scope_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_scope_members_user ON scope_members(user_id);
`

const migration003Down = `
DROP TABLE IF EXISTS scope_members;
DROP TABLE IF EXISTS scopes;
DROP TABLE IF EXISTS tasks;
DROP TABLE IF EXISTS users;
`
