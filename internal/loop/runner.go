package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"whetstone/adapters/optim"
	"whetstone/internal/compare"
	"whetstone/internal/logging"
	"whetstone/internal/materialize"
	"whetstone/internal/profile"
)

const (
	baselineProfileFilename = "baseline_profile.json"
	variantProfileFilename  = "profile.json"
)

// RunnerConfig holds the per-run knobs of the optimization loop.
type RunnerConfig struct {
	BasePath   string   // audit-trail root
	RunID      string
	Iterations int      // optimization iterations per unit
	Parallel   int      // worker bound for variant profiling
	ExeArgs    []string // arguments passed to every profiled executable
	Thresholds Thresholds
}

// DefaultRunnerConfig returns a RunnerConfig with the documented defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Iterations: 3,
		Parallel:   1,
		Thresholds: DefaultThresholds(),
	}
}

// UnitResult summarizes one unit's trip through the loop.
type UnitResult struct {
	UnitID             string         `json:"unit_id"`
	FinalStep          optim.LoopStep `json:"final_step"`
	Iterations         int            `json:"iterations"`
	Promotions         int            `json:"promotions"`
	Winners            []string       `json:"winners,omitempty"` // promoted variant IDs, in order
	BestImprovementPct float64        `json:"best_improvement_pct"`
	Faults             []*Fault       `json:"faults,omitempty"`
}

// Promoted reports whether the unit improved at least once.
func (u UnitResult) Promoted() bool { return u.Promotions > 0 }

// RunSummary is the whole run's outcome, one entry per unit in input order.
type RunSummary struct {
	RunID string       `json:"run_id"`
	Units []UnitResult `json:"units"`
}

// PromotedUnits counts units with at least one promotion.
func (s *RunSummary) PromotedUnits() int {
	n := 0
	for _, u := range s.Units {
		if u.Promoted() {
			n++
		}
	}
	return n
}

// AnyPromotion reports whether the run improved anything at all; it decides
// the process exit status.
func (s *RunSummary) AnyPromotion() bool { return s.PromotedUnits() > 0 }

// FaultCount totals recorded failures across all units.
func (s *RunSummary) FaultCount() int {
	n := 0
	for _, u := range s.Units {
		n += len(u.Faults)
	}
	return n
}

// Runner owns one run: the four collaborators, the comparator, and the
// audit-trail root. Units are processed sequentially; parallelism lives
// inside the variant-profiling stage only.
type Runner struct {
	cfg        RunnerConfig
	analyzer   Analyzer
	generator  Generator
	compiler   Compiler
	profiler   Profiler
	comparator *compare.Comparator
	log        *slog.Logger
}

// NewRunner wires a Runner. Zero Iterations/Parallel fall back to defaults.
func NewRunner(cfg RunnerConfig, a Analyzer, g Generator, c Compiler, p Profiler) *Runner {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 3
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	return &Runner{
		cfg:        cfg,
		analyzer:   a,
		generator:  g,
		compiler:   c,
		profiler:   p,
		comparator: compare.New(cfg.Thresholds.CompareConfig()),
		log:        logging.New("loop"),
	}
}

// Run optimizes every unit in order and returns the summary. The only fatal
// error is an unusable output root; every other failure is recorded in the
// affected unit's result and the run continues. A canceled context stops
// before the next unit; finished units keep their results.
func (r *Runner) Run(ctx context.Context, units []optim.SourceUnit) (*RunSummary, error) {
	if err := optim.EnsureDir(filepath.Join(r.cfg.BasePath, r.cfg.RunID)); err != nil {
		return nil, fmt.Errorf("output root: %w", err)
	}

	summary := &RunSummary{RunID: r.cfg.RunID}
	for _, unit := range units {
		if ctx.Err() != nil {
			r.log.Warn("run aborted", "run", r.cfg.RunID, "remaining_units", len(units)-len(summary.Units))
			break
		}
		summary.Units = append(summary.Units, *r.OptimizeUnit(ctx, unit))
	}

	r.log.Info("run complete", "run", r.cfg.RunID,
		"units", len(summary.Units), "promoted", summary.PromotedUnits(), "faults", summary.FaultCount())
	return summary, nil
}

// unitRun is the working state of one unit's loop. unit.Source and baseline
// advance together on promotion and never otherwise.
type unitRun struct {
	unit     optim.SourceUnit
	unitDir  string
	state    *optim.UnitState
	baseline *profile.Profile
	result   *UnitResult
}

// OptimizeUnit drives one unit from INIT to its terminal step. It never
// fails: every error lands in the result's fault list.
func (r *Runner) OptimizeUnit(ctx context.Context, unit optim.SourceUnit) *UnitResult {
	u := &unitRun{
		unit:    unit,
		unitDir: optim.UnitDir(r.cfg.BasePath, r.cfg.RunID, unit.ID),
		state:   optim.InitState(r.cfg.RunID, unit.ID),
		result:  &UnitResult{UnitID: unit.ID},
	}
	r.log.Info("unit start", "unit", unit.ID, "iterations", r.cfg.Iterations)

	if !r.establishBaseline(ctx, u) {
		optim.AdvanceStep(u.state, optim.StepExhausted, "baseline unavailable")
		r.finishUnit(u)
		return u.result
	}
	optim.AdvanceStep(u.state, optim.StepAnalyzing, "baseline profiled")
	r.saveState(u)

	for {
		verdict, outcome := r.runIteration(ctx, u)
		optim.AdvanceStep(u.state, verdict, outcome)
		r.saveState(u)
		r.log.Info("iteration closed",
			"unit", u.unit.ID, "iteration", u.state.Iteration, "verdict", string(verdict), "outcome", outcome)

		if verdict == optim.StepExhausted || u.state.Iteration >= r.cfg.Iterations || ctx.Err() != nil {
			break
		}
		optim.BeginIteration(u.state)
		r.saveState(u)
	}

	r.finishUnit(u)
	return u.result
}

// establishBaseline snapshots, compiles, and profiles the unit's original
// text into the first iteration directory. Reports false when the unit
// cannot even be measured, with the fault recorded.
func (r *Runner) establishBaseline(ctx context.Context, u *unitRun) bool {
	iterDir := optim.IterDir(u.unitDir, 1)
	snapshot := baselineFilename(u.unit)
	if err := optim.WriteSnapshot(iterDir, snapshot, u.unit.Source); err != nil {
		r.recordFault(u, NewFault(MaterializationFailure, u.unit.ID, 1, "", err))
		return false
	}

	bin, err := r.compiler.Compile(ctx, iterDir, snapshot, binPath(iterDir, snapshot))
	if err != nil {
		r.recordFault(u, NewFault(Classify(err), u.unit.ID, 1, "", err))
		return false
	}
	prof, err := r.profiler.Profile(ctx, bin, r.cfg.ExeArgs)
	if err != nil {
		r.recordFault(u, NewFault(Classify(err), u.unit.ID, 1, "", err))
		return false
	}
	if !prof.HasSamples() {
		r.recordFault(u, NewFault(ProfileUnavailable, u.unit.ID, 1, "",
			errors.New("baseline profile has no attributable samples")))
		return false
	}

	u.baseline = prof
	r.writeArtifact(u, iterDir, baselineProfileFilename, prof)
	return true
}

// runIteration executes one iteration's middle stages and returns the
// closing verdict with a short outcome note. The caller records the verdict
// into state.
func (r *Runner) runIteration(ctx context.Context, u *unitRun) (optim.LoopStep, string) {
	iter := u.state.Iteration
	iterDir := optim.IterDir(u.unitDir, iter)
	if iter > 1 {
		// Iteration 1's snapshot and profile were written while the
		// baseline was established.
		if err := optim.WriteSnapshot(iterDir, baselineFilename(u.unit), u.unit.Source); err != nil {
			r.log.Warn("baseline snapshot", "unit", u.unit.ID, "iteration", iter, "error", err)
		}
		r.writeArtifact(u, iterDir, baselineProfileFilename, u.baseline)
	}

	// ANALYZING
	report, err := r.analyzer.Analyze(ctx, u.unit, iter, u.baseline)
	if err != nil {
		r.recordFault(u, NewFault(Classify(err), u.unit.ID, iter, "", err))
		return optim.StepRetained, "analyze failed"
	}
	if report == nil {
		report = &optim.BottleneckReport{}
	}
	r.writeArtifact(u, iterDir, optim.ArtifactFilename(optim.StepAnalyzing), report)
	if !report.Found {
		return optim.StepExhausted, "no-bottleneck"
	}
	optim.AdvanceStep(u.state, optim.StepGenerating,
		fmt.Sprintf("bottleneck %s (%s)", report.Symbol, report.Category))

	// GENERATING
	set, err := r.generator.Generate(ctx, u.unit, iter, report)
	if err != nil {
		r.recordFault(u, NewFault(Classify(err), u.unit.ID, iter, "", err))
		return optim.StepRetained, "generate failed"
	}
	if set == nil || len(set.Variants) == 0 {
		return optim.StepExhausted, "no candidate variants"
	}
	r.writeArtifact(u, iterDir, optim.ArtifactFilename(optim.StepGenerating), set)
	optim.AdvanceStep(u.state, optim.StepMaterializing, fmt.Sprintf("%d variants", len(set.Variants)))

	// MATERIALIZING
	mat := materialize.WriteBatch(iterDir, u.unit.Filename(), set.Variants)
	r.writeArtifact(u, iterDir, optim.ArtifactFilename(optim.StepMaterializing), mat)
	for _, item := range mat.Items {
		if !item.OK() {
			r.recordFault(u, NewFault(MaterializationFailure, u.unit.ID, iter, item.VariantID,
				errors.New(item.Error)))
		}
	}
	if len(mat.Successful()) == 0 {
		return optim.StepRetained, "materialization failed"
	}
	optim.AdvanceStep(u.state, optim.StepProfiling, fmt.Sprintf("%d materialized", len(mat.Successful())))

	// PROFILING_VARIANTS
	outcomes := r.profileVariants(ctx, u, set.Variants, mat)
	profiled := 0
	for i := range outcomes {
		if outcomes[i].fault != nil {
			r.recordFault(u, outcomes[i].fault)
			continue
		}
		if outcomes[i].profile != nil {
			profiled++
		}
	}
	optim.AdvanceStep(u.state, optim.StepEvaluating, fmt.Sprintf("%d profiled", profiled))

	// EVALUATING
	evals, winner := r.evaluate(u, outcomes)
	r.writeArtifact(u, iterDir, optim.ArtifactFilename(optim.StepEvaluating), evals)
	if winner == nil {
		return optim.StepRetained, "no qualifying variant"
	}

	// Promotion swaps text and profile together; the next iteration derives
	// from the winner.
	u.unit.Source = winner.patch.Code
	u.baseline = winner.profile
	optim.RecordPromotion(u.state, winner.eval.DeltaPct)
	u.result.Winners = append(u.result.Winners, winner.patch.VariantID)
	return optim.StepPromoted, fmt.Sprintf("promoted %s (+%.1f%%)", winner.patch.VariantID, winner.eval.DeltaPct)
}

// variantOutcome is one pre-sized result slot of the profiling pool, written
// by exactly one worker.
type variantOutcome struct {
	patch   optim.CandidatePatch
	profile *profile.Profile
	fault   *Fault
}

// profileVariants compiles and profiles every materialized sibling with a
// bounded worker pool. Workers never return errors; faults stay in their
// slot so one bad variant cannot cancel the others.
func (r *Runner) profileVariants(ctx context.Context, u *unitRun, patches []optim.CandidatePatch, mat materialize.Result) []variantOutcome {
	outcomes := make([]variantOutcome, len(patches))
	iter := u.state.Iteration

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallel)
	for i, patch := range patches {
		outcomes[i] = variantOutcome{patch: patch}
		item := mat.Items[i]
		if !item.OK() {
			continue // already recorded as a materialization fault
		}
		i, patch, item := i, patch, item
		g.Go(func() error {
			outcomes[i] = r.profileOne(gctx, u.unit, iter, patch, item)
			return nil
		})
	}
	_ = g.Wait() // faults captured in the slots
	return outcomes
}

func (r *Runner) profileOne(ctx context.Context, unit optim.SourceUnit, iter int, patch optim.CandidatePatch, item materialize.Item) variantOutcome {
	out := variantOutcome{patch: patch}
	dir := filepath.Dir(item.Path)

	bin, err := r.compiler.Compile(ctx, dir, unit.Filename(), binPath(dir, unit.Filename()))
	if err != nil {
		out.fault = NewFault(Classify(err), unit.ID, iter, patch.VariantID, err)
		return out
	}
	prof, err := r.profiler.Profile(ctx, bin, r.cfg.ExeArgs)
	if err != nil {
		out.fault = NewFault(Classify(err), unit.ID, iter, patch.VariantID, err)
		return out
	}

	out.profile = prof
	if err := optim.WriteArtifact(dir, variantProfileFilename, prof); err != nil {
		r.log.Warn("variant profile artifact", "unit", unit.ID, "variant", patch.VariantID, "error", err)
	}
	if !prof.HasSamples() {
		out.fault = NewFault(ProfileUnavailable, unit.ID, iter, patch.VariantID,
			errors.New("variant profile has no attributable samples"))
	}
	return out
}

// promotion is the selected winner of one EVALUATING stage.
type promotion struct {
	patch   optim.CandidatePatch
	profile *profile.Profile
	eval    compare.EvaluationResult
}

// evaluate compares every cleanly profiled variant against the iteration's
// baseline, in batch order, and picks the promotion candidate: highest
// delta, then higher confidence, then first seen. Variants below the
// promotion confidence floor are evaluated but never selected.
func (r *Runner) evaluate(u *unitRun, outcomes []variantOutcome) ([]compare.EvaluationResult, *promotion) {
	var evals []compare.EvaluationResult
	var winner *promotion

	for i := range outcomes {
		out := &outcomes[i]
		if out.fault != nil || out.profile == nil {
			continue
		}
		res := r.comparator.Compare(u.baseline, out.profile)
		res.VariantID = out.patch.VariantID
		if res.Verdict == compare.VerdictUnknown {
			r.recordFault(u, NewFault(ComparisonIndeterminate, u.unit.ID, u.state.Iteration,
				out.patch.VariantID, errors.New(res.Detail)))
		}
		evals = append(evals, res)

		if !res.Improved() || res.Confidence < r.cfg.Thresholds.PromotionMinConfidence {
			continue
		}
		if winner == nil ||
			res.DeltaPct > winner.eval.DeltaPct ||
			(res.DeltaPct == winner.eval.DeltaPct && res.Confidence > winner.eval.Confidence) {
			winner = &promotion{patch: out.patch, profile: out.profile, eval: res}
		}
	}
	return evals, winner
}

// finishUnit seals state and copies the scoreboard into the result.
func (r *Runner) finishUnit(u *unitRun) {
	u.state.Status = "done"
	r.saveState(u)

	u.result.FinalStep = u.state.CurrentStep
	u.result.Iterations = u.state.Iteration
	u.result.Promotions = u.state.Promotions
	u.result.BestImprovementPct = u.state.BestImprovementPct

	r.log.Info("unit done", "unit", u.unit.ID, "final", string(u.result.FinalStep),
		"iterations", u.result.Iterations, "promotions", u.result.Promotions,
		"best_pct", u.result.BestImprovementPct, "faults", len(u.result.Faults))
}

func (r *Runner) recordFault(u *unitRun, f *Fault) {
	u.result.Faults = append(u.result.Faults, f)
	r.log.Warn("fault", "unit", f.UnitID, "iteration", f.Iteration,
		"variant", f.VariantID, "kind", string(f.Kind), "error", f.Message)
}

func (r *Runner) saveState(u *unitRun) {
	if err := optim.SaveState(u.unitDir, u.state); err != nil {
		r.log.Warn("save state", "unit", u.unit.ID, "error", err)
	}
}

// writeArtifact persists one audit-trail file. The trail is a serialization
// of in-memory truth, so a failed write is logged and the loop moves on.
func (r *Runner) writeArtifact(u *unitRun, dir, filename string, data any) {
	if err := optim.WriteArtifact(dir, filename, data); err != nil {
		r.log.Warn("write artifact", "unit", u.unit.ID, "file", filename, "error", err)
	}
}

// baselineFilename keeps the unit's extension so the compiler treats the
// snapshot like the original source.
func baselineFilename(unit optim.SourceUnit) string {
	return "baseline" + filepath.Ext(unit.Filename())
}

// binPath places the produced executable next to its source, named by the
// source's stem.
func binPath(dir, sourceName string) string {
	stem := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	if stem == "" || stem == sourceName {
		stem = sourceName + ".bin"
	}
	return filepath.Join(dir, stem)
}
