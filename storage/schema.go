package storage

// Schema is the PostgreSQL DDL for every table the service uses. It is
// idempotent and safe to run on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS trace_sessions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL DEFAULT '',
	turns          JSONB NOT NULL DEFAULT '[]',
	token_estimate INTEGER NOT NULL DEFAULT 0,
	version        BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_journal_entries (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	user_message TEXT NOT NULL,
	ai_response  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trace_journal_entries_user_idx
	ON trace_journal_entries (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS trace_journal_entries_session_idx
	ON trace_journal_entries (session_id, created_at);

CREATE TABLE IF NOT EXISTS trace_sentiment_scores (
	entry_id  TEXT PRIMARY KEY REFERENCES trace_journal_entries (id) ON DELETE CASCADE,
	label     TEXT NOT NULL,
	score     DOUBLE PRECISION NOT NULL,
	emotions  JSONB NOT NULL DEFAULT '[]',
	scored_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_pattern_analyses (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	entry_count  INTEGER NOT NULL,
	summary      TEXT NOT NULL,
	themes       JSONB NOT NULL DEFAULT '[]',
	insights     JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trace_pattern_analyses_user_idx
	ON trace_pattern_analyses (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS trace_leader (
	name       TEXT PRIMARY KEY,
	leader_id  TEXT NOT NULL,
	elected_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// Tables lists the tables in Schema, children first.
var Tables = []string{
	"trace_sentiment_scores",
	"trace_pattern_analyses",
	"trace_journal_entries",
	"trace_sessions",
	"trace_leader",
}

const leaderName = "default"

const (
	selectSessionQuery = `
		SELECT id, user_id, turns, token_estimate, version, created_at, updated_at
		FROM trace_sessions
		WHERE id = $1`

	insertSessionQuery = `
		INSERT INTO trace_sessions (id, user_id, turns, token_estimate, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (id) DO NOTHING`

	// An unowned session is claimed by the first commit that names a user.
	updateSessionQuery = `
		UPDATE trace_sessions
		SET turns = $2, token_estimate = $3, version = version + 1, updated_at = $4,
		    user_id = CASE WHEN user_id = '' THEN $6 ELSE user_id END
		WHERE id = $1 AND version = $5`

	insertEntryQuery = `
		INSERT INTO trace_journal_entries (id, user_id, session_id, user_message, ai_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	entryColumns = `id, user_id, session_id, user_message, ai_response, created_at`

	listEntriesQuery = `
		SELECT ` + entryColumns + `
		FROM trace_journal_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	listSessionEntriesQuery = `
		SELECT ` + entryColumns + `
		FROM trace_journal_entries
		WHERE user_id = $1 AND session_id = $2
		ORDER BY created_at ASC`

	listSessionsQuery = `
		SELECT session_id,
		       COUNT(*),
		       (array_agg(user_message ORDER BY created_at ASC))[1],
		       MIN(created_at),
		       MAX(created_at)
		FROM trace_journal_entries
		WHERE user_id = $1
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`

	entriesSinceQuery = `
		SELECT ` + entryColumns + `
		FROM trace_journal_entries
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`

	deleteSessionEntriesQuery = `
		DELETE FROM trace_journal_entries
		WHERE user_id = $1 AND session_id = $2`

	deleteOwnedSessionQuery = `
		DELETE FROM trace_sessions
		WHERE id = $1 AND user_id = $2`

	unscoredEntriesQuery = `
		SELECT e.id, e.user_id, e.session_id, e.user_message, e.ai_response, e.created_at
		FROM trace_journal_entries e
		LEFT JOIN trace_sentiment_scores s ON s.entry_id = e.id
		WHERE s.entry_id IS NULL
		ORDER BY e.created_at ASC
		LIMIT $1`

	upsertSentimentQuery = `
		INSERT INTO trace_sentiment_scores (entry_id, label, score, emotions, scored_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entry_id) DO UPDATE
		SET label = EXCLUDED.label, score = EXCLUDED.score,
		    emotions = EXCLUDED.emotions, scored_at = EXCLUDED.scored_at`

	sentimentForSessionQuery = `
		SELECT s.entry_id, s.label, s.score, s.emotions, s.scored_at
		FROM trace_sentiment_scores s
		JOIN trace_journal_entries e ON e.id = s.entry_id
		WHERE e.user_id = $1 AND e.session_id = $2
		ORDER BY e.created_at ASC`

	insertAnalysisQuery = `
		INSERT INTO trace_pattern_analyses
			(id, user_id, window_start, window_end, entry_count, summary, themes, insights, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	latestAnalysisQuery = `
		SELECT id, user_id, window_start, window_end, entry_count, summary, themes, insights, created_at
		FROM trace_pattern_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	// Takes the lease when absent or expired.
	leaderElectQuery = `
		INSERT INTO trace_leader (name, leader_id, elected_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (name) DO UPDATE
		SET leader_id = EXCLUDED.leader_id, elected_at = EXCLUDED.elected_at, expires_at = EXCLUDED.expires_at
		WHERE trace_leader.expires_at < NOW()`

	leaderReelectQuery = `
		UPDATE trace_leader
		SET expires_at = NOW() + make_interval(secs => $3)
		WHERE name = $1 AND leader_id = $2 AND expires_at >= NOW()`

	leaderResignQuery = `
		DELETE FROM trace_leader
		WHERE name = $1 AND leader_id = $2`
)
