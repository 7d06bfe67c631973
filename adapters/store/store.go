package store

// DefaultDBPath is the default relative path for the SQLite DB (per-workspace).
// Resolve against cwd or workspace root; Open() creates the parent dir (e.g. .whetstone).
const DefaultDBPath = ".whetstone/whetstone.db"

// Run is one orchestrator invocation: which tree it optimized, with what
// budget, and how it went. FinishedAt stays empty while the run is live.
type Run struct {
	ID         string // uuid, assigned by the caller
	StartedAt  string
	FinishedAt string
	SourceRoot string
	OutputRoot string
	Adapter    string
	Iterations int // per-unit iteration budget
	Parallel   int
	Units      int // units processed
	Promoted   int // units improved at least once
	Faults     int // recorded failures across all units
}

// UnitRecord is one unit's final scoreboard within a run.
type UnitRecord struct {
	RunID              string
	UnitID             string
	FinalStep          string
	Iterations         int
	Promotions         int
	BestImprovementPct float64
	FaultKinds         []string
}

// Store is the persistence facade for run history. One Run row per
// invocation, one UnitRecord per source unit; the status command and the
// calibration report read them back. CLI code uses only this interface;
// implementation is SQLite or in-memory.
type Store interface {
	// Run operations
	CreateRun(run *Run) error
	// FinishRun stamps finished_at and the final counters.
	FinishRun(id string, units, promoted, faults int) error
	GetRun(id string) (*Run, error)
	// ListRuns returns all runs, newest first.
	ListRuns() ([]*Run, error)
	// LatestRun returns the most recently started run, or nil if none exist.
	LatestRun() (*Run, error)

	// Unit scoreboard operations
	// SaveUnitResult inserts or overwrites the record for (run, unit).
	SaveUnitResult(rec *UnitRecord) error
	ListUnitResults(runID string) ([]*UnitRecord, error)

	Close() error
}
