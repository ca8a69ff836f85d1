package store

// schema is executed once at Open time, mirroring the teacher's pattern of
// running a fixed DDL string against the database on startup
// (internal/memory/operational.go's embedded schema_operational.sql),
// generalized here from Aider's agents/tasks/sessions tables to the
// coordination kernel's work_items/agents/memory_entries/event_log tables.
const schema = `
CREATE TABLE IF NOT EXISTS work_items (
	id             TEXT PRIMARY KEY,
	persona        TEXT NOT NULL,
	payload        TEXT NOT NULL,
	status         TEXT NOT NULL,
	agent_id       TEXT,
	priority       INTEGER NOT NULL DEFAULT 0,
	result         TEXT,
	failure_reason TEXT,
	attempt        INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	claimed_at     DATETIME,
	completed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_agent ON work_items(agent_id);
CREATE INDEX IF NOT EXISTS idx_work_items_persona_status ON work_items(persona, status);

CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	persona         TEXT NOT NULL,
	pid             INTEGER,
	status          TEXT NOT NULL,
	kill_reason     TEXT,
	started_at      DATETIME,
	heartbeat_at    DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_persona ON agents(persona);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

CREATE TABLE IF NOT EXISTS memory_entries (
	namespace        TEXT NOT NULL,
	key              TEXT NOT NULL,
	value            TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	last_accessed_at DATETIME,
	access_count     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS event_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	category   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	subject_id TEXT,
	detail     TEXT,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_log_category ON event_log(category);
CREATE INDEX IF NOT EXISTS idx_event_log_subject ON event_log(subject_id);
`
