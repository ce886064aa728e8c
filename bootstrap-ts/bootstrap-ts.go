package bootstrapts

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0madic/go-bootstrap-bandits/logreg"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// ColdStartThreshold is the sample count below which an arm is scored
	// from the prior instead of its ensemble.
	ColdStartThreshold = 1000

	// PriorAlpha and PriorBeta parametrise the cold-start Beta prior (mean 0.05).
	PriorAlpha = 5.0
	PriorBeta  = 95.0

	// DefaultEstimators is the ensemble size per arm
	DefaultEstimators = 100
)

// EmptyArmPolicy decides what Fit does with an arm that has no rows
type EmptyArmPolicy int

const (
	// EmptyArmZero fills the ensemble with AlwaysZero and records zero samples
	EmptyArmZero EmptyArmPolicy = iota
	// EmptyArmFail makes Fit return ErrDegenerateArmData
	EmptyArmFail
)

func (p EmptyArmPolicy) String() string {
	switch p {
	case EmptyArmZero:
		return "zero"
	case EmptyArmFail:
		return "fail"
	default:
		return fmt.Sprintf("EmptyArmPolicy(%d)", int(p))
	}
}

// ParseEmptyArmPolicy converts "zero" or "fail" into an EmptyArmPolicy
func ParseEmptyArmPolicy(s string) (EmptyArmPolicy, error) {
	switch s {
	case "", "zero":
		return EmptyArmZero, nil
	case "fail":
		return EmptyArmFail, nil
	}
	return 0, fmt.Errorf("unknown empty arm policy %q", s)
}

// Bandit implements Bootstrap Thompson Sampling for contextual bandits.
// Every arm owns an ensemble of binary classifiers, each fitted on a
// bootstrap resample of the rows logged for that arm:
// - Arms with fewer than ColdStartThreshold rows are scored from Beta(5, 95)
// - Mature arms draw from N(mean, std) of their ensemble's probabilities
// - Fit replaces all arm models at once; there is no online update
// - Ensemble fitting and per-estimator prediction run on a bounded worker pool
type Bandit struct {
	nArms          int
	nEstimators    int
	workers        int
	emptyArmPolicy EmptyArmPolicy
	newLearner     LearnerFactory
	logger         *slog.Logger

	// The master RNG only hands out seeds for per-task RNGs, in a fixed
	// order, so results do not depend on scheduling.
	rng   *rand.Rand
	rngMu sync.Mutex

	state atomic.Pointer[fitState]
}

// fitState is the immutable result of one Fit call
type fitState struct {
	nFeatures int
	arms      []armModel
}

// Option defines a functional option for configuring Bandit
type Option func(*Bandit)

// WithEstimators sets the ensemble size per arm
func WithEstimators(n int) Option {
	return func(b *Bandit) {
		b.nEstimators = n
	}
}

// WithLearner sets the factory for the base learner fitted on each resample
func WithLearner(factory LearnerFactory) Option {
	return func(b *Bandit) {
		b.newLearner = factory
	}
}

// WithRandomSeed sets the random seed for reproducibility.
// A zero seed selects a time-based seed.
func WithRandomSeed(seed int64) Option {
	return func(b *Bandit) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		b.rng = newTaskRand(uint64(seed))
	}
}

// WithWorkers sets the number of concurrent fit and prediction tasks
func WithWorkers(workers int) Option {
	return func(b *Bandit) {
		b.workers = workers
	}
}

// WithEmptyArmPolicy sets how Fit treats arms without historical rows
func WithEmptyArmPolicy(policy EmptyArmPolicy) Option {
	return func(b *Bandit) {
		b.emptyArmPolicy = policy
	}
}

// WithLogger sets the logger used for fit diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bandit) {
		b.logger = logger
	}
}

// defaultLearner is L2 logistic regression fitted with L-BFGS
func defaultLearner() Learner {
	return logreg.New()
}

// New creates an unfitted bandit with nArms arms
func New(nArms int, options ...Option) (*Bandit, error) {
	if nArms <= 0 {
		return nil, fmt.Errorf("number of arms must be positive, got %d", nArms)
	}

	b := &Bandit{
		nArms:       nArms,
		nEstimators: DefaultEstimators,
		workers:     runtime.GOMAXPROCS(0),
		newLearner:  defaultLearner,
		rng:         newTaskRand(uint64(time.Now().UnixNano())),
	}

	for _, opt := range options {
		opt(b)
	}

	if b.nEstimators <= 0 {
		return nil, fmt.Errorf("number of estimators must be positive, got %d", b.nEstimators)
	}
	if b.workers <= 0 {
		return nil, fmt.Errorf("number of workers must be positive, got %d", b.workers)
	}
	if b.newLearner == nil {
		return nil, fmt.Errorf("learner factory must not be nil")
	}
	if b.emptyArmPolicy != EmptyArmZero && b.emptyArmPolicy != EmptyArmFail {
		return nil, fmt.Errorf("invalid empty arm policy %v", b.emptyArmPolicy)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b, nil
}

// NArms returns the number of arms
func (b *Bandit) NArms() int { return b.nArms }

// NEstimators returns the ensemble size per arm
func (b *Bandit) NEstimators() int { return b.nEstimators }

// nextSeeds draws n task seeds from the master RNG
func (b *Bandit) nextSeeds(n int) []uint64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()

	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = b.rng.Uint64()
	}
	return seeds
}

// validateMatrix rejects NaN and infinite features
func validateMatrix(X mat.Matrix) error {
	rows, cols := X.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := X.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite feature at row %d, column %d", ErrInvalidInput, i, j)
			}
		}
	}
	return nil
}

// Fit trains every arm's ensemble from logged contexts X, the arm chosen for
// each row and the binary outcome y. The previous state is replaced only
// if the whole fit succeeds.
func (b *Bandit) Fit(X mat.Matrix, chosenArm []int, y []float64) error {
	start := time.Now()

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("%w: empty training matrix %dx%d", ErrInvalidInput, rows, cols)
	}
	if len(chosenArm) != rows {
		return &ShapeError{Expected: rows, Got: len(chosenArm), Type: "chosen arms"}
	}
	if len(y) != rows {
		return &ShapeError{Expected: rows, Got: len(y), Type: "labels"}
	}
	if err := validateMatrix(X); err != nil {
		return err
	}

	rowsByArm := make([][]int, b.nArms)
	for i, arm := range chosenArm {
		if arm < 0 || arm >= b.nArms {
			return fmt.Errorf("%w: row %d has arm %d, want [0, %d)", ErrInvalidArm, i, arm, b.nArms)
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("%w: row %d has label %v", ErrInvalidLabel, i, y[i])
		}
		rowsByArm[arm] = append(rowsByArm[arm], i)
	}

	for arm, armRows := range rowsByArm {
		if len(armRows) == 0 && b.emptyArmPolicy == EmptyArmFail {
			return fmt.Errorf("arm %d: %w", arm, ErrDegenerateArmData)
		}
	}

	xd := mat.DenseCopyOf(X)
	labels := make([]float64, rows)
	copy(labels, y)

	state := &fitState{
		nFeatures: cols,
		arms:      make([]armModel, b.nArms),
	}

	var g errgroup.Group
	g.SetLimit(b.workers)

	for arm, armRows := range rowsByArm {
		model := &state.arms[arm]
		model.sampleCount = len(armRows)
		if len(armRows) == 0 {
			model.estimators = zeroEnsemble(b.nEstimators)
			continue
		}

		model.estimators = make([]estimator, b.nEstimators)
		seeds := b.nextSeeds(b.nEstimators)
		for slot, seed := range seeds {
			g.Go(func() error {
				est, err := fitSlot(xd, labels, armRows, seed, b.newLearner)
				if err != nil {
					return fmt.Errorf("arm %d, estimator %d: %w", arm, slot, err)
				}
				model.estimators[slot] = est
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	b.state.Store(state)

	for arm, model := range state.arms {
		counts := countKinds(model.estimators)
		b.logger.Debug("arm ensemble trained",
			"arm", arm,
			"samples", model.sampleCount,
			"zero", counts[SlotZero],
			"one", counts[SlotOne],
			"fitted", counts[SlotFitted])
	}
	b.logger.Debug("bandit fitted",
		"arms", b.nArms,
		"estimators", b.nEstimators,
		"rows", rows,
		"features", cols,
		"elapsed", time.Since(start))

	return nil
}

// countKinds tallies slots by kind
func countKinds(ests []estimator) map[SlotKind]int {
	counts := make(map[SlotKind]int, 3)
	for _, e := range ests {
		counts[e.kind]++
	}
	return counts
}

// loadState returns the fitted state or ErrNotFitted
func (b *Bandit) loadState() (*fitState, error) {
	state := b.state.Load()
	if state == nil {
		return nil, ErrNotFitted
	}
	return state, nil
}

// Scores returns an nArms x rows matrix with one sampled score per arm and
// context row.
func (b *Bandit) Scores(X mat.Matrix) (*mat.Dense, error) {
	state, err := b.loadState()
	if err != nil {
		return nil, err
	}

	rows, cols := X.Dims()
	if cols != state.nFeatures {
		return nil, &ShapeError{Expected: state.nFeatures, Got: cols, Type: "context features"}
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty context batch", ErrInvalidInput)
	}
	if err := validateMatrix(X); err != nil {
		return nil, err
	}

	xd := mat.DenseCopyOf(X)
	scores := mat.NewDense(b.nArms, rows, nil)
	seeds := b.nextSeeds(b.nArms)

	for arm, model := range state.arms {
		dst := scores.RawRowView(arm)
		if model.sampleCount < ColdStartThreshold {
			priorScores(dst, newTaskSource(seeds[arm]))
			continue
		}
		if err := b.thompsonScores(dst, model, xd, newTaskSource(seeds[arm])); err != nil {
			return nil, fmt.Errorf("arm %d: %w", arm, err)
		}
	}

	return scores, nil
}

// priorScores fills dst with independent Beta(PriorAlpha, PriorBeta) draws
func priorScores(dst []float64, src rand.Source) {
	prior := distuv.Beta{Alpha: PriorAlpha, Beta: PriorBeta, Src: src}
	for i := range dst {
		dst[i] = prior.Rand()
	}
}

// thompsonScores fills dst with one N(mean, std) draw per row, where mean
// and std are taken across the arm's ensemble predictions for that row
func (b *Bandit) thompsonScores(dst []float64, model armModel, X *mat.Dense, src rand.Source) error {
	rows, _ := X.Dims()
	proba := mat.NewDense(len(model.estimators), rows, nil)

	var g errgroup.Group
	g.SetLimit(b.workers)
	for idx, est := range model.estimators {
		g.Go(func() error {
			p, err := est.predictProba(X)
			if err != nil {
				return fmt.Errorf("estimator %d: %w", idx, err)
			}
			if len(p) != rows {
				return &ShapeError{Expected: rows, Got: len(p), Type: fmt.Sprintf("estimator %d predictions", idx)}
			}
			proba.SetRow(idx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	col := make([]float64, len(model.estimators))
	for i := range dst {
		mat.Col(col, i, proba)
		mean, std := stat.PopMeanStdDev(col, nil)
		// Rounding can leave a tiny negative variance for identical values.
		if !(std > 0) {
			std = 0
		}
		dst[i] = distuv.Normal{Mu: mean, Sigma: std, Src: src}.Rand()
	}
	return nil
}

// Predict returns, for every row of X, the arm with the highest sampled
// score. Ties go to the lowest arm index. A batch without rows is rejected
// with ErrInvalidInput rather than answered with an empty selection.
func (b *Bandit) Predict(X mat.Matrix) ([]int, error) {
	scores, err := b.Scores(X)
	if err != nil {
		return nil, err
	}

	_, rows := scores.Dims()
	arms := make([]int, rows)
	for i := range arms {
		maxIdx := 0
		maxVal := scores.At(0, i)
		for a := 1; a < b.nArms; a++ {
			if v := scores.At(a, i); v > maxVal {
				maxVal = v
				maxIdx = a
			}
		}
		arms[i] = maxIdx
	}
	return arms, nil
}

// NFeatures returns the context dimension seen at the last Fit
func (b *Bandit) NFeatures() (int, error) {
	state, err := b.loadState()
	if err != nil {
		return 0, err
	}
	return state.nFeatures, nil
}

// SampleCount returns the number of rows routed to arm at the last Fit
func (b *Bandit) SampleCount(arm int) (int, error) {
	state, err := b.loadState()
	if err != nil {
		return 0, err
	}
	if arm < 0 || arm >= b.nArms {
		return 0, fmt.Errorf("%w: %d", ErrInvalidArm, arm)
	}
	return state.arms[arm].sampleCount, nil
}

// EnsembleKinds returns the kind of every ensemble slot of arm
func (b *Bandit) EnsembleKinds(arm int) ([]SlotKind, error) {
	state, err := b.loadState()
	if err != nil {
		return nil, err
	}
	if arm < 0 || arm >= b.nArms {
		return nil, fmt.Errorf("%w: %d", ErrInvalidArm, arm)
	}
	kinds := make([]SlotKind, len(state.arms[arm].estimators))
	for i, e := range state.arms[arm].estimators {
		kinds[i] = e.kind
	}
	return kinds, nil
}

// Fitted reports whether Fit has succeeded since construction or Reset
func (b *Bandit) Fitted() bool {
	return b.state.Load() != nil
}

// Reset drops the fitted state
func (b *Bandit) Reset() {
	b.state.Store(nil)
}

// GetStats returns current model statistics
func (b *Bandit) GetStats() map[string]any {
	stats := map[string]any{
		"n_arms":           b.nArms,
		"n_estimators":     b.nEstimators,
		"workers":          b.workers,
		"empty_arm_policy": b.emptyArmPolicy.String(),
		"fitted":           false,
	}

	state := b.state.Load()
	if state == nil {
		return stats
	}

	sampleCounts := make([]int, b.nArms)
	coldStart := 0
	totals := make(map[SlotKind]int, 3)
	for arm, model := range state.arms {
		sampleCounts[arm] = model.sampleCount
		if model.sampleCount < ColdStartThreshold {
			coldStart++
		}
		for kind, n := range countKinds(model.estimators) {
			totals[kind] += n
		}
	}

	stats["fitted"] = true
	stats["n_features"] = state.nFeatures
	stats["sample_counts"] = sampleCounts
	stats["cold_start_arms"] = coldStart
	stats["zero_slots"] = totals[SlotZero]
	stats["one_slots"] = totals[SlotOne]
	stats["fitted_slots"] = totals[SlotFitted]
	return stats
}
