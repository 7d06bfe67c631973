// Package store persists run history: which runs happened, over which
// source tree, and how each unit fared. Nothing in the optimization loop
// depends on it; the CLI records summaries here and reads them back for
// the status command and the calibration report.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .whetstone) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schemaRunHistory); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) CreateRun(run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.StartedAt == "" {
		run.StartedAt = nowUTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs(id, started_at, finished_at, source_root, output_root, adapter, iterations, parallel, units, promoted, faults)
		 VALUES(?, ?, NULL, ?, ?, ?, ?, ?, 0, 0, 0)`,
		run.ID, run.StartedAt, run.SourceRoot, run.OutputRoot, run.Adapter, run.Iterations, run.Parallel,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SqlStore) FinishRun(id string, units, promoted, faults int) error {
	res, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, units = ?, promoted = ?, faults = ? WHERE id = ?",
		nowUTC(), units, promoted, faults, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: no run with id %s", id)
	}
	return nil
}

func (s *SqlStore) GetRun(id string) (*Run, error) {
	var r Run
	var finishedAt sql.NullString
	err := s.db.QueryRow(
		`SELECT id, started_at, finished_at, source_root, output_root, adapter,
		        iterations, parallel, units, promoted, faults
		 FROM runs WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.StartedAt, &finishedAt, &r.SourceRoot, &r.OutputRoot, &r.Adapter,
		&r.Iterations, &r.Parallel, &r.Units, &r.Promoted, &r.Faults)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.FinishedAt = nullStr(finishedAt)
	return &r, nil
}

func (s *SqlStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, source_root, output_root, adapter,
		        iterations, parallel, units, promoted, faults
		 FROM runs ORDER BY started_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var list []*Run
	for rows.Next() {
		var r Run
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &finishedAt, &r.SourceRoot, &r.OutputRoot, &r.Adapter,
			&r.Iterations, &r.Parallel, &r.Units, &r.Promoted, &r.Faults); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = nullStr(finishedAt)
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return list, nil
}

func (s *SqlStore) LatestRun() (*Run, error) {
	runs, err := s.ListRuns()
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

func (s *SqlStore) SaveUnitResult(rec *UnitRecord) error {
	if rec == nil {
		return errors.New("unit record is nil")
	}
	var kinds any
	if len(rec.FaultKinds) > 0 {
		b, err := json.Marshal(rec.FaultKinds)
		if err != nil {
			return fmt.Errorf("marshal fault kinds: %w", err)
		}
		kinds = string(b)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO unit_results(run_id, unit_id, final_step, iterations, promotions, best_improvement_pct, fault_kinds)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.UnitID, rec.FinalStep, rec.Iterations, rec.Promotions, rec.BestImprovementPct, kinds,
	)
	if err != nil {
		return fmt.Errorf("save unit result: %w", err)
	}
	return nil
}

func (s *SqlStore) ListUnitResults(runID string) ([]*UnitRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, unit_id, final_step, iterations, promotions, best_improvement_pct, fault_kinds
		 FROM unit_results WHERE run_id = ? ORDER BY unit_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unit results: %w", err)
	}
	defer rows.Close()
	var list []*UnitRecord
	for rows.Next() {
		var rec UnitRecord
		var kinds sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.UnitID, &rec.FinalStep, &rec.Iterations,
			&rec.Promotions, &rec.BestImprovementPct, &kinds); err != nil {
			return nil, fmt.Errorf("scan unit result: %w", err)
		}
		if kinds.Valid && kinds.String != "" {
			if err := json.Unmarshal([]byte(kinds.String), &rec.FaultKinds); err != nil {
				return nil, fmt.Errorf("unmarshal fault kinds: %w", err)
			}
		}
		list = append(list, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unit results: %w", err)
	}
	return list, nil
}
