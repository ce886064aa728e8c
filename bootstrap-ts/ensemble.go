package bootstrapts

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Learner is the binary classifier fitted on each bootstrap resample.
// PredictProba returns P(class=1) for every row of X.
type Learner interface {
	Fit(X mat.Matrix, y []float64) error
	PredictProba(X mat.Matrix) ([]float64, error)
}

// LearnerFactory returns a fresh, unfitted Learner
type LearnerFactory func() Learner

// AlwaysZero predicts class 1 with probability 0 for every row.
// It stands in for a learner whose resample contained only label 0.
type AlwaysZero struct{}

// Fit is a no-op
func (AlwaysZero) Fit(mat.Matrix, []float64) error { return nil }

// PredictProba returns a zero for each row of X
func (AlwaysZero) PredictProba(X mat.Matrix) ([]float64, error) {
	rows, _ := X.Dims()
	return make([]float64, rows), nil
}

// AlwaysOne predicts class 1 with probability 1 for every row.
// It stands in for a learner whose resample contained only label 1.
type AlwaysOne struct{}

// Fit is a no-op
func (AlwaysOne) Fit(mat.Matrix, []float64) error { return nil }

// PredictProba returns a one for each row of X
func (AlwaysOne) PredictProba(X mat.Matrix) ([]float64, error) {
	rows, _ := X.Dims()
	proba := make([]float64, rows)
	for i := range proba {
		proba[i] = 1
	}
	return proba, nil
}

// SlotKind tags what an ensemble slot holds
type SlotKind uint8

const (
	SlotZero   SlotKind = iota // AlwaysZero
	SlotOne                    // AlwaysOne
	SlotFitted                 // a fitted Learner
)

func (k SlotKind) String() string {
	switch k {
	case SlotZero:
		return "zero"
	case SlotOne:
		return "one"
	case SlotFitted:
		return "fitted"
	default:
		return fmt.Sprintf("SlotKind(%d)", uint8(k))
	}
}

// parseSlotKind is the inverse of SlotKind.String
func parseSlotKind(tag string) (SlotKind, error) {
	switch tag {
	case "zero":
		return SlotZero, nil
	case "one":
		return SlotOne, nil
	case "fitted":
		return SlotFitted, nil
	}
	return 0, fmt.Errorf("unknown slot tag %q", tag)
}

// estimator is one ensemble slot; learner is set only for SlotFitted
type estimator struct {
	kind    SlotKind
	learner Learner
}

func (e estimator) predictProba(X mat.Matrix) ([]float64, error) {
	switch e.kind {
	case SlotZero:
		return AlwaysZero{}.PredictProba(X)
	case SlotOne:
		return AlwaysOne{}.PredictProba(X)
	case SlotFitted:
		return e.learner.PredictProba(X)
	}
	return nil, fmt.Errorf("invalid slot kind %v", e.kind)
}

// armModel is the fitted ensemble of one arm
type armModel struct {
	estimators  []estimator
	sampleCount int
}

// zeroEnsemble is the fallback ensemble for an arm without rows
func zeroEnsemble(n int) []estimator {
	ests := make([]estimator, n)
	for i := range ests {
		ests[i] = estimator{kind: SlotZero}
	}
	return ests
}

// newTaskRand creates the private RNG of a single fit or scoring task
func newTaskRand(seed uint64) *rand.Rand {
	return rand.New(newTaskSource(seed))
}

func newTaskSource(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// fitSlot draws a bootstrap resample of the given rows and fits one slot.
// X and y hold the full training set; rows are the indices routed to the arm.
func fitSlot(X *mat.Dense, y []float64, rows []int, seed uint64, newLearner LearnerFactory) (estimator, error) {
	n := len(rows)
	if n == 0 {
		return estimator{}, ErrDegenerateArmData
	}

	rng := newTaskRand(seed)
	sample := make([]int, n)
	ones := 0
	for i := range sample {
		sample[i] = rows[rng.IntN(n)]
		if y[sample[i]] == 1 {
			ones++
		}
	}

	switch ones {
	case 0:
		return estimator{kind: SlotZero}, nil
	case n:
		return estimator{kind: SlotOne}, nil
	}

	_, cols := X.Dims()
	Xs := mat.NewDense(n, cols, nil)
	ys := make([]float64, n)
	for i, r := range sample {
		Xs.SetRow(i, X.RawRowView(r))
		ys[i] = y[r]
	}

	learner := newLearner()
	if err := learner.Fit(Xs, ys); err != nil {
		return estimator{}, fmt.Errorf("fit learner: %w", err)
	}
	return estimator{kind: SlotFitted, learner: learner}, nil
}
