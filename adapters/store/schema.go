package store

// schemaVersion1 is the initial run-history schema.
const schemaVersion1 = 1

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersion1

// schemaRunHistory is the run-history DDL (fresh install). Two tables:
// one row per run, one row per (run, unit) scoreboard.
var schemaRunHistory = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	source_root TEXT NOT NULL,
	output_root TEXT NOT NULL,
	adapter     TEXT NOT NULL,
	iterations  INTEGER NOT NULL,
	parallel    INTEGER NOT NULL DEFAULT 1,
	units       INTEGER NOT NULL DEFAULT 0,
	promoted    INTEGER NOT NULL DEFAULT 0,
	faults      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS unit_results (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id               TEXT NOT NULL REFERENCES runs(id),
	unit_id              TEXT NOT NULL,
	final_step           TEXT NOT NULL,
	iterations           INTEGER NOT NULL,
	promotions           INTEGER NOT NULL,
	best_improvement_pct REAL NOT NULL,
	fault_kinds          TEXT,
	UNIQUE(run_id, unit_id)
);
`
