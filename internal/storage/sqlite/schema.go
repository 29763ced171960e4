package sqlite

// schema defines the SQLite database schema for incident history.
// remediation_attempts is a JSON array column replaced wholesale on every
// update, which is what makes Update idempotent at the row level.
const schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id                   TEXT PRIMARY KEY,
    target_id            TEXT NOT NULL,
    metric_name          TEXT NOT NULL,
    threshold            REAL NOT NULL,
    peak_value           REAL NOT NULL,
    status               TEXT NOT NULL,
    root_cause_summary   TEXT NOT NULL DEFAULT '',
    remediation_attempts TEXT NOT NULL DEFAULT '[]',
    opened_at            TIMESTAMP NOT NULL,
    closed_at            TIMESTAMP,
    cooldown_until       TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_incidents_target_id ON incidents(target_id);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_opened_at ON incidents(opened_at DESC);
`
