package bootstrapts

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/n0madic/go-bootstrap-bandits/logreg"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// constLearner predicts the same probability for every row
type constLearner struct {
	p float64
}

func (c *constLearner) Fit(mat.Matrix, []float64) error { return nil }

func (c *constLearner) PredictProba(X mat.Matrix) ([]float64, error) {
	rows, _ := X.Dims()
	proba := make([]float64, rows)
	for i := range proba {
		proba[i] = c.p
	}
	return proba, nil
}

// rateLearner predicts the positive rate of the resample it was fitted on,
// so ensemble disagreement equals the bootstrap variance of that rate
type rateLearner struct {
	p float64
}

func (r *rateLearner) Fit(_ mat.Matrix, y []float64) error {
	r.p = stat.Mean(y, nil)
	return nil
}

func (r *rateLearner) PredictProba(X mat.Matrix) ([]float64, error) {
	return (&constLearner{p: r.p}).PredictProba(X)
}

type failingLearner struct{}

func (failingLearner) Fit(mat.Matrix, []float64) error { return errors.New("boom") }

func (failingLearner) PredictProba(X mat.Matrix) ([]float64, error) {
	return nil, errors.New("boom")
}

// makeLogs generates rowsPerArm logged rows per arm with the given positive
// rates; each row's label is drawn independently of its context
func makeLogs(rng *rand.Rand, rowsPerArm []int, rates []float64, dim int) (*mat.Dense, []int, []float64) {
	total := 0
	for _, n := range rowsPerArm {
		total += n
	}
	X := mat.NewDense(total, dim, nil)
	arms := make([]int, 0, total)
	y := make([]float64, 0, total)
	row := 0
	for arm, n := range rowsPerArm {
		for i := 0; i < n; i++ {
			for j := 0; j < dim; j++ {
				X.Set(row, j, rng.NormFloat64())
			}
			label := 0.0
			if rng.Float64() < rates[arm] {
				label = 1
			}
			arms = append(arms, arm)
			y = append(y, label)
			row++
		}
	}
	return X, arms, y
}

// constantLogs generates n rows for one arm, all with the same label
func constantLogs(n, arm, dim int, label float64) (*mat.Dense, []int, []float64) {
	X := mat.NewDense(n, dim, nil)
	arms := make([]int, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			X.Set(i, j, float64(i%7)-3)
		}
		arms[i] = arm
		y[i] = label
	}
	return X, arms, y
}

// logs is one logged dataset
type logs struct {
	X    *mat.Dense
	arms []int
	y    []float64
}

// stack concatenates logged datasets
func stack(parts ...logs) (*mat.Dense, []int, []float64) {
	X := mat.DenseCopyOf(parts[0].X)
	arms := append([]int(nil), parts[0].arms...)
	y := append([]float64(nil), parts[0].y...)
	for _, p := range parts[1:] {
		var s mat.Dense
		s.Stack(X, p.X)
		X = &s
		arms = append(arms, p.arms...)
		y = append(y, p.y...)
	}
	return X, arms, y
}

func contexts(rows, dim int) *mat.Dense {
	X := mat.NewDense(rows, dim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < dim; j++ {
			X.Set(i, j, float64(i+j)*0.1)
		}
	}
	return X
}

func TestNewBandit(t *testing.T) {
	tests := []struct {
		name    string
		nArms   int
		options []Option
		wantErr bool
	}{
		{name: "defaults", nArms: 3},
		{
			name:  "with custom options",
			nArms: 5,
			options: []Option{
				WithEstimators(20),
				WithWorkers(2),
				WithRandomSeed(42),
				WithEmptyArmPolicy(EmptyArmFail),
				WithLearner(func() Learner { return logreg.New(logreg.WithC(0.5)) }),
			},
		},
		{name: "zero arms", nArms: 0, wantErr: true},
		{name: "zero estimators", nArms: 2, options: []Option{WithEstimators(0)}, wantErr: true},
		{name: "zero workers", nArms: 2, options: []Option{WithWorkers(0)}, wantErr: true},
		{name: "nil learner", nArms: 2, options: []Option{WithLearner(nil)}, wantErr: true},
		{name: "bad policy", nArms: 2, options: []Option{WithEmptyArmPolicy(EmptyArmPolicy(7))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.nArms, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if b.NArms() != tt.nArms {
				t.Errorf("Expected %d arms, got %d", tt.nArms, b.NArms())
			}
			if b.Fitted() {
				t.Errorf("New bandit must not be fitted")
			}
		})
	}

	b, _ := New(2)
	if b.NEstimators() != DefaultEstimators {
		t.Errorf("Expected default %d estimators, got %d", DefaultEstimators, b.NEstimators())
	}
}

func TestDegeneratePredictors(t *testing.T) {
	X := contexts(4, 3)

	zero := AlwaysZero{}
	if err := zero.Fit(nil, nil); err != nil {
		t.Fatalf("AlwaysZero.Fit failed: %v", err)
	}
	p, _ := zero.PredictProba(X)
	if len(p) != 4 {
		t.Fatalf("Expected 4 predictions, got %d", len(p))
	}
	for i, v := range p {
		if v != 0 {
			t.Errorf("AlwaysZero row %d: got %f", i, v)
		}
	}

	one := AlwaysOne{}
	if err := one.Fit(X, []float64{0, 0, 0, 0}); err != nil {
		t.Fatalf("AlwaysOne.Fit failed: %v", err)
	}
	p, _ = one.PredictProba(X)
	for i, v := range p {
		if v != 1 {
			t.Errorf("AlwaysOne row %d: got %f", i, v)
		}
	}
}

func TestSlotKindString(t *testing.T) {
	for _, kind := range []SlotKind{SlotZero, SlotOne, SlotFitted} {
		parsed, err := parseSlotKind(kind.String())
		if err != nil || parsed != kind {
			t.Errorf("parseSlotKind(%q) = %v, %v", kind.String(), parsed, err)
		}
	}
	if _, err := parseSlotKind("bogus"); err == nil {
		t.Errorf("Expected error for unknown tag")
	}
}

func TestFitEnsembleSize(t *testing.T) {
	const (
		nArms       = 3
		nEstimators = 7
	)
	rng := rand.New(rand.NewSource(1))
	X, arms, y := makeLogs(rng, []int{30, 20, 10}, []float64{0.5, 0.3, 0.6}, 2)

	b, err := New(nArms, WithEstimators(nEstimators), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	wantCounts := []int{30, 20, 10}
	for a := range nArms {
		kinds, err := b.EnsembleKinds(a)
		if err != nil {
			t.Fatalf("EnsembleKinds failed: %v", err)
		}
		if len(kinds) != nEstimators {
			t.Errorf("Arm %d: expected %d estimators, got %d", a, nEstimators, len(kinds))
		}
		count, _ := b.SampleCount(a)
		if count != wantCounts[a] {
			t.Errorf("Arm %d: expected sample count %d, got %d", a, wantCounts[a], count)
		}
	}
}

func TestDegenerateArmsScenario(t *testing.T) {
	X0, a0, y0 := constantLogs(5, 0, 2, 0)
	X1, a1, y1 := constantLogs(5, 1, 2, 1)
	X, arms, y := stack(logs{X0, a0, y0}, logs{X1, a1, y1})

	b, err := New(2, WithEstimators(10), WithRandomSeed(7))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	wantKind := []SlotKind{SlotZero, SlotOne}
	for a := range 2 {
		kinds, _ := b.EnsembleKinds(a)
		for i, k := range kinds {
			if k != wantKind[a] {
				t.Errorf("Arm %d slot %d: expected %v, got %v", a, i, wantKind[a], k)
			}
		}
		if count, _ := b.SampleCount(a); count != 5 {
			t.Errorf("Arm %d: expected sample count 5, got %d", a, count)
		}
	}

	// Both arms are cold, so only the output shape is deterministic
	pred, err := b.Predict(contexts(50, 2))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(pred) != 50 {
		t.Fatalf("Expected 50 predictions, got %d", len(pred))
	}
	for i, arm := range pred {
		if arm < 0 || arm >= 2 {
			t.Errorf("Row %d: invalid arm %d", i, arm)
		}
	}
}

func TestDegenerateSlotPredictions(t *testing.T) {
	zero := estimator{kind: SlotZero}
	one := estimator{kind: SlotOne}
	X := contexts(3, 2)

	p, err := zero.predictProba(X)
	if err != nil {
		t.Fatalf("predictProba failed: %v", err)
	}
	for _, v := range p {
		if v != 0 {
			t.Errorf("Zero slot predicted %f", v)
		}
	}
	p, _ = one.predictProba(X)
	for _, v := range p {
		if v != 1 {
			t.Errorf("One slot predicted %f", v)
		}
	}
	if _, err := (estimator{kind: SlotKind(9)}).predictProba(X); err == nil {
		t.Errorf("Expected error for invalid slot kind")
	}
}

func TestColdStartPriorMean(t *testing.T) {
	// 999 rows of label 1: every slot is AlwaysOne, yet the arm stays cold
	X, arms, y := constantLogs(ColdStartThreshold-1, 0, 2, 1)

	b, err := New(1, WithEstimators(5), WithRandomSeed(11))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	const nDraws = 20000
	scores, err := b.Scores(contexts(nDraws, 2))
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}

	draws := scores.RawRowView(0)
	mean := stat.Mean(draws, nil)
	wantMean := PriorAlpha / (PriorAlpha + PriorBeta)
	if math.Abs(mean-wantMean) > 0.002 {
		t.Errorf("Prior mean %f, want %f", mean, wantMean)
	}
	for i, v := range draws {
		if v <= 0 || v >= 1 {
			t.Fatalf("Draw %d out of (0,1): %f", i, v)
		}
	}
}

func TestMatureZeroVarianceScore(t *testing.T) {
	const p = 0.25
	rng := rand.New(rand.NewSource(5))
	X, arms, y := makeLogs(rng, []int{ColdStartThreshold}, []float64{0.5}, 2)

	b, err := New(1,
		WithEstimators(10),
		WithRandomSeed(3),
		WithLearner(func() Learner { return &constLearner{p: p} }),
	)
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	scores, err := b.Scores(contexts(100, 2))
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}
	for i, v := range scores.RawRowView(0) {
		if math.Abs(v-p) > 1e-12 {
			t.Errorf("Row %d: expected score %f, got %f", i, p, v)
		}
	}
}

func TestMatureEnsembleDisagreement(t *testing.T) {
	const rate = 0.3
	rng := rand.New(rand.NewSource(9))
	X, arms, y := makeLogs(rng, []int{2000}, []float64{rate}, 2)
	empirical := stat.Mean(y, nil)

	b, err := New(1,
		WithEstimators(50),
		WithRandomSeed(21),
		WithLearner(func() Learner { return &rateLearner{} }),
	)
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	scores, err := b.Scores(contexts(5000, 2))
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}
	mean, std := stat.MeanStdDev(scores.RawRowView(0), nil)
	if math.Abs(mean-empirical) > 0.01 {
		t.Errorf("Thompson mean %f, want about %f", mean, empirical)
	}
	if std <= 0 {
		t.Errorf("Expected positive spread from ensemble disagreement, got %f", std)
	}
}

func TestPredictSelectsBestMatureArm(t *testing.T) {
	X0, a0, y0 := constantLogs(ColdStartThreshold, 0, 2, 0)
	X1, a1, y1 := constantLogs(ColdStartThreshold, 1, 2, 1)
	X, arms, y := stack(logs{X0, a0, y0}, logs{X1, a1, y1})

	b, err := New(2, WithEstimators(10), WithRandomSeed(1))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, err := b.Predict(contexts(20, 2))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, arm := range pred {
		if arm != 1 {
			t.Errorf("Row %d: expected arm 1, got %d", i, arm)
		}
	}
}

func TestPredictTieBreaksToLowestArm(t *testing.T) {
	X0, a0, y0 := constantLogs(ColdStartThreshold, 0, 1, 1)
	X1, a1, y1 := constantLogs(ColdStartThreshold, 1, 1, 1)
	X2, a2, y2 := constantLogs(ColdStartThreshold, 2, 1, 1)
	X, arms, y := stack(logs{X0, a0, y0}, logs{X1, a1, y1}, logs{X2, a2, y2})

	b, err := New(3, WithEstimators(4), WithRandomSeed(1))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, err := b.Predict(contexts(10, 1))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, arm := range pred {
		if arm != 0 {
			t.Errorf("Row %d: expected tie to go to arm 0, got %d", i, arm)
		}
	}
}

func TestFitShapeMismatch(t *testing.T) {
	b, _ := New(2, WithEstimators(3))
	X := contexts(10, 2)

	tests := []struct {
		name string
		arms []int
		y    []float64
	}{
		{name: "chosen arm rows", arms: make([]int, 9), y: make([]float64, 10)},
		{name: "label rows", arms: make([]int, 10), y: make([]float64, 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Fit(X, tt.arms, tt.y)
			if !errors.Is(err, ErrShapeMismatch) {
				t.Fatalf("Expected ErrShapeMismatch, got %v", err)
			}
			var shapeErr *ShapeError
			if !errors.As(err, &shapeErr) || shapeErr.Expected != 10 {
				t.Errorf("Expected ShapeError with Expected=10, got %v", err)
			}
		})
	}
}

func TestFitInvalidInputs(t *testing.T) {
	b, _ := New(2, WithEstimators(3))

	nanX := contexts(3, 2)
	nanX.Set(1, 1, math.NaN())

	tests := []struct {
		name    string
		X       *mat.Dense
		arms    []int
		y       []float64
		wantErr error
	}{
		{name: "arm out of range", X: contexts(3, 2), arms: []int{0, 2, 1}, y: []float64{0, 1, 0}, wantErr: ErrInvalidArm},
		{name: "negative arm", X: contexts(3, 2), arms: []int{0, -1, 1}, y: []float64{0, 1, 0}, wantErr: ErrInvalidArm},
		{name: "non-binary label", X: contexts(3, 2), arms: []int{0, 1, 1}, y: []float64{0, 0.5, 0}, wantErr: ErrInvalidLabel},
		{name: "nan feature", X: nanX, arms: []int{0, 1, 1}, y: []float64{0, 1, 0}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Fit(tt.X, tt.arms, tt.y)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if b.Fitted() {
		t.Errorf("Failed fits must not leave a fitted state")
	}
}

func TestNotFitted(t *testing.T) {
	b, err := New(3)
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	X := contexts(2, 2)

	if _, err := b.Predict(X); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Predict: expected ErrNotFitted, got %v", err)
	}
	if _, err := b.Scores(X); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Scores: expected ErrNotFitted, got %v", err)
	}
	if _, err := b.SampleCount(0); !errors.Is(err, ErrNotFitted) {
		t.Errorf("SampleCount: expected ErrNotFitted, got %v", err)
	}
	if err := b.Save(&bytes.Buffer{}); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Save: expected ErrNotFitted, got %v", err)
	}
}

func TestPredictShapeMismatch(t *testing.T) {
	X, arms, y := constantLogs(10, 0, 3, 1)
	b, _ := New(1, WithEstimators(2))
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	_, err := b.Predict(contexts(4, 2))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestEmptyArmPolicies(t *testing.T) {
	// Arm 1 never appears in the logs
	X, arms, y := constantLogs(10, 0, 2, 1)

	t.Run("zero", func(t *testing.T) {
		b, _ := New(2, WithEstimators(4))
		if err := b.Fit(X, arms, y); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		kinds, _ := b.EnsembleKinds(1)
		if len(kinds) != 4 {
			t.Fatalf("Expected 4 slots, got %d", len(kinds))
		}
		for i, k := range kinds {
			if k != SlotZero {
				t.Errorf("Slot %d: expected zero, got %v", i, k)
			}
		}
		if count, _ := b.SampleCount(1); count != 0 {
			t.Errorf("Expected sample count 0, got %d", count)
		}
		scores, err := b.Scores(contexts(5, 2))
		if err != nil {
			t.Fatalf("Scores failed: %v", err)
		}
		for _, v := range scores.RawRowView(1) {
			if math.IsNaN(v) {
				t.Errorf("Empty arm produced NaN score")
			}
		}
	})

	t.Run("fail", func(t *testing.T) {
		b, _ := New(2, WithEstimators(4), WithEmptyArmPolicy(EmptyArmFail))
		err := b.Fit(X, arms, y)
		if !errors.Is(err, ErrDegenerateArmData) {
			t.Fatalf("Expected ErrDegenerateArmData, got %v", err)
		}
		if b.Fitted() {
			t.Errorf("Failed fit must not leave a fitted state")
		}
	})
}

func TestFitReplacesState(t *testing.T) {
	b, _ := New(2, WithEstimators(3), WithRandomSeed(5))

	X, arms, y := constantLogs(8, 0, 2, 1)
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	X, arms, y = constantLogs(6, 1, 2, 0)
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if count, _ := b.SampleCount(0); count != 0 {
		t.Errorf("Arm 0: expected sample count 0 after refit, got %d", count)
	}
	if count, _ := b.SampleCount(1); count != 6 {
		t.Errorf("Arm 1: expected sample count 6, got %d", count)
	}
}

func TestFailedFitKeepsPreviousState(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	X, arms, y := makeLogs(rng, []int{40}, []float64{0.5}, 2)

	calls := 0
	b, _ := New(1, WithEstimators(3), WithWorkers(1), WithLearner(func() Learner {
		calls++
		if calls > 3 {
			return failingLearner{}
		}
		return logreg.New()
	}))

	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("First fit failed: %v", err)
	}
	if err := b.Fit(X, arms, y); err == nil {
		t.Fatalf("Expected second fit to fail")
	}

	if count, err := b.SampleCount(0); err != nil || count != 40 {
		t.Errorf("Expected previous state with 40 samples, got %d, %v", count, err)
	}
}

func TestFitReproducible(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	X, arms, y := makeLogs(rng, []int{ColdStartThreshold, 300}, []float64{0.4, 0.6}, 2)
	ctx := contexts(25, 2)

	run := func(workers int) (*mat.Dense, []byte) {
		b, err := New(2, WithEstimators(5), WithRandomSeed(99), WithWorkers(workers))
		if err != nil {
			t.Fatalf("Failed to create bandit: %v", err)
		}
		if err := b.Fit(X, arms, y); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		scores, err := b.Scores(ctx)
		if err != nil {
			t.Fatalf("Scores failed: %v", err)
		}
		var buf bytes.Buffer
		if err := b.Save(&buf); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		return scores, buf.Bytes()
	}

	scoresA, savedA := run(1)
	scoresB, savedB := run(1)
	scoresC, savedC := run(8)

	if !mat.Equal(scoresA, scoresB) || !bytes.Equal(savedA, savedB) {
		t.Errorf("Same seed produced different results")
	}
	if !mat.Equal(scoresA, scoresC) || !bytes.Equal(savedA, savedC) {
		t.Errorf("Worker count changed results")
	}
}

func TestSaveAndLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	X, arms, y := makeLogs(rng, []int{ColdStartThreshold, 50, 0}, []float64{0.3, 1.0, 0}, 3)

	b, err := New(3, WithEstimators(4), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Failed to create bandit: %v", err)
	}
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	var buf bytes.Buffer
	if err := b.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, err := Load(&buf, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if restored.NArms() != b.NArms() || restored.NEstimators() != b.NEstimators() {
		t.Errorf("Parameters mismatch after restore")
	}

	original := b.state.Load()
	loaded := restored.state.Load()
	if loaded.nFeatures != original.nFeatures {
		t.Errorf("Feature count mismatch: %d != %d", loaded.nFeatures, original.nFeatures)
	}

	ctx := contexts(10, 3)
	for a := range 3 {
		if loaded.arms[a].sampleCount != original.arms[a].sampleCount {
			t.Errorf("Arm %d: sample count mismatch", a)
		}
		for i, est := range original.arms[a].estimators {
			got := loaded.arms[a].estimators[i]
			if got.kind != est.kind {
				t.Errorf("Arm %d slot %d: kind %v != %v", a, i, got.kind, est.kind)
				continue
			}
			want, _ := est.predictProba(ctx)
			have, err := got.predictProba(ctx)
			if err != nil {
				t.Fatalf("Restored slot prediction failed: %v", err)
			}
			for r := range want {
				if want[r] != have[r] {
					t.Errorf("Arm %d slot %d row %d: %f != %f", a, i, r, have[r], want[r])
				}
			}
		}
	}

	pred, err := restored.Predict(ctx)
	if err != nil {
		t.Fatalf("Predict on restored model failed: %v", err)
	}
	if len(pred) != 10 {
		t.Errorf("Expected 10 predictions, got %d", len(pred))
	}
}

func TestSaveRequiresMarshaler(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	X, arms, y := makeLogs(rng, []int{30}, []float64{0.5}, 2)

	b, _ := New(1, WithEstimators(3), WithLearner(func() Learner { return &constLearner{p: 0.5} }))
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if err := b.Save(&bytes.Buffer{}); err == nil {
		t.Errorf("Expected Save to fail for a learner without MarshalBinary")
	}
}

func TestLoadRejectsBadData(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte("not gob"))); err == nil {
		t.Errorf("Expected error decoding garbage")
	}

	rng := rand.New(rand.NewSource(4))
	X, arms, y := makeLogs(rng, []int{30}, []float64{0.5}, 2)
	b, _ := New(1, WithEstimators(3), WithRandomSeed(1))
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	var buf bytes.Buffer
	if err := b.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	kinds, _ := b.EnsembleKinds(0)
	hasFitted := false
	for _, k := range kinds {
		hasFitted = hasFitted || k == SlotFitted
	}
	if !hasFitted {
		t.Skip("no fitted slot drawn")
	}

	_, err := Load(&buf, WithLearner(func() Learner { return &constLearner{} }))
	if err == nil {
		t.Errorf("Expected Load to fail for a learner without UnmarshalBinary")
	}
}

func TestGetStatsAndReset(t *testing.T) {
	b, _ := New(2, WithEstimators(3))

	stats := b.GetStats()
	if stats["fitted"] != false {
		t.Errorf("Expected unfitted stats, got %v", stats)
	}

	X, arms, y := constantLogs(10, 0, 2, 1)
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	stats = b.GetStats()
	if stats["fitted"] != true {
		t.Errorf("Expected fitted stats")
	}
	if stats["one_slots"] != 3 || stats["zero_slots"] != 3 || stats["fitted_slots"] != 0 {
		t.Errorf("Unexpected slot totals: %v", stats)
	}
	if stats["cold_start_arms"] != 2 {
		t.Errorf("Expected 2 cold-start arms, got %v", stats["cold_start_arms"])
	}
	if n, err := b.NFeatures(); err != nil || n != 2 {
		t.Errorf("Expected NFeatures 2, got %d (%v)", n, err)
	}

	b.Reset()
	if b.Fitted() {
		t.Errorf("Expected Reset to drop the fitted state")
	}
	if _, err := b.Predict(contexts(1, 2)); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Expected ErrNotFitted after Reset, got %v", err)
	}
	if _, err := b.NFeatures(); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Expected ErrNotFitted from NFeatures after Reset, got %v", err)
	}
}

func TestParseEmptyArmPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    EmptyArmPolicy
		wantErr bool
	}{
		{in: "", want: EmptyArmZero},
		{in: "zero", want: EmptyArmZero},
		{in: "fail", want: EmptyArmFail},
		{in: "panic", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseEmptyArmPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEmptyArmPolicy(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseEmptyArmPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// noRows is a context batch with columns but no rows
type noRows struct{ cols int }

func (m noRows) Dims() (int, int) { return 0, m.cols }
func (m noRows) At(i, j int) float64 { panic("noRows has no elements") }
func (m noRows) T() mat.Matrix { return mat.Transpose{Matrix: m} }

func TestPredictEmptyBatch(t *testing.T) {
	b, _ := New(2, WithEstimators(3), WithRandomSeed(1))
	X, arms, y := constantLogs(10, 0, 2, 1)
	if err := b.Fit(X, arms, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if _, err := b.Predict(noRows{cols: 2}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for an empty batch, got %v", err)
	}
}
