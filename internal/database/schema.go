package database

// schemas maps database names to their embedded schema definitions.
// All statements are idempotent (CREATE TABLE IF NOT EXISTS) so Migrate
// can run on every startup.
var schemas = map[string]string{
	"config": configSchema,
	"cache":  cacheSchema,
}

// configSchema holds durable configuration state: allocation targets and
// per-bucket win-cooldown start timestamps.
const configSchema = `
CREATE TABLE IF NOT EXISTS allocation_targets (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    type       TEXT NOT NULL,
    name       TEXT NOT NULL,
    target_pct REAL NOT NULL,
    created_at INTEGER,
    updated_at INTEGER,
    UNIQUE(type, name)
);

CREATE INDEX IF NOT EXISTS idx_allocation_targets_type ON allocation_targets(type);

CREATE TABLE IF NOT EXISTS bucket_cooldowns (
    bucket_id      TEXT PRIMARY KEY,
    cooldown_start TEXT NOT NULL,
    updated_at     INTEGER
);
`

// cacheSchema holds ephemeral operational state: the last published
// planner status snapshot (msgpack-encoded).
const cacheSchema = `
CREATE TABLE IF NOT EXISTS planner_status (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    payload    BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`
