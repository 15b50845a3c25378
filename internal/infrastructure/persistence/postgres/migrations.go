package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progress_sources", UpSQL: migration001Up},
		{Version: 2, Name: "create_achievements", UpSQL: migration002Up},
		{Version: 3, Name: "create_points", UpSQL: migration003Up},
		{Version: 4, Name: "create_leaderboard_entries", UpSQL: migration004Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROGRESS SOURCES
// ══════════════════════════════════════════════════════════════════════════════

// Tables owned by the learning-platform collaborators. The engine only reads
// them; they are created here so a fresh database is usable end to end.
const migration001Up = `
CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lessons_course ON lessons(course_id);

CREATE TABLE IF NOT EXISTS lesson_progress (
    user_id TEXT NOT NULL,
    lesson_id TEXT NOT NULL REFERENCES lessons(id),
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMPTZ,
    PRIMARY KEY (user_id, lesson_id)
);
CREATE INDEX IF NOT EXISTS idx_lesson_progress_completed ON lesson_progress(user_id) WHERE is_completed;

CREATE TABLE IF NOT EXISTS enrollments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    course_title TEXT NOT NULL DEFAULT '',
    progress INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    CONSTRAINT valid_enrollment_progress CHECK (progress BETWEEN 0 AND 100),
    UNIQUE (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS quiz_results (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_quiz_results_user ON quiz_results(user_id);

CREATE TABLE IF NOT EXISTS activity_log (
    user_id TEXT NOT NULL,
    activity_date DATE NOT NULL,
    minutes INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, activity_date)
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS achievements (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    points INTEGER NOT NULL,
    requirement_type TEXT NOT NULL,
    requirement_value DOUBLE PRECISION NOT NULL,
    course_id TEXT,
    position BIGSERIAL NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_category CHECK (category IN ('learning', 'participation', 'excellence', 'completion')),
    CONSTRAINT valid_requirement CHECK (requirement_type IN ('lessons_completed', 'courses_completed', 'study_hours', 'quiz_score', 'study_streak')),
    CONSTRAINT positive_points CHECK (points > 0)
);
CREATE INDEX IF NOT EXISTS idx_achievements_course ON achievements(course_id, position);

-- One grant per (user, achievement); the evaluator relies on this for idempotency.
CREATE TABLE IF NOT EXISTS user_achievements (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    achievement_id TEXT NOT NULL REFERENCES achievements(id),
    course_id TEXT,
    enrollment_id TEXT,
    earned_at TIMESTAMPTZ NOT NULL,
    is_completed BOOLEAN NOT NULL DEFAULT TRUE,
    progress INTEGER NOT NULL DEFAULT 100,
    CONSTRAINT uq_user_achievement UNIQUE (user_id, achievement_id),
    CONSTRAINT valid_grant_progress CHECK (progress BETWEEN 0 AND 100)
);
CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id, earned_at DESC);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: POINTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Append-only. Never UPDATE or DELETE rows here.
CREATE TABLE IF NOT EXISTS points_ledger (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    points INTEGER NOT NULL,
    action TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    achievement_id TEXT REFERENCES achievements(id),
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_points_ledger_user ON points_ledger(user_id);
CREATE INDEX IF NOT EXISTS idx_points_ledger_created ON points_ledger(created_at);

CREATE TABLE IF NOT EXISTS user_points (
    user_id TEXT PRIMARY KEY,
    total_points INTEGER NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    courses_completed INTEGER NOT NULL DEFAULT 0,
    lessons_completed INTEGER NOT NULL DEFAULT 0,
    achievements_earned INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LEADERBOARD ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS leaderboard_entries (
    period_type TEXT NOT NULL,
    period_date TEXT NOT NULL,
    user_id TEXT NOT NULL,
    points INTEGER NOT NULL,
    rank INTEGER NOT NULL,
    last_at TIMESTAMPTZ NOT NULL,
    generated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (period_type, period_date, user_id),
    CONSTRAINT valid_period CHECK (period_type IN ('daily', 'weekly', 'monthly', 'all_time'))
);
CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_rank ON leaderboard_entries(period_type, period_date, rank);
`
