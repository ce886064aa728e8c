package logreg

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotFitted is returned by PredictProba when Fit has not succeeded yet.
var ErrNotFitted = errors.New("logreg: model is not fitted")

// Model is an L2-regularised binary logistic regression fitted with L-BFGS.
// The objective is 0.5*||w||² + C*Σ logloss(x_i, y_i); the intercept is not
// penalised.
type Model struct {
	c            float64 // inverse regularisation strength
	maxIter      int     // maximum number of L-BFGS major iterations
	tol          float64 // gradient infinity-norm stopping threshold
	fitIntercept bool    // whether to learn an intercept term

	coef      []float64
	intercept float64
	fitted    bool
}

// Option defines a functional option for configuring Model
type Option func(*Model)

// WithC sets the inverse of the regularisation strength
func WithC(c float64) Option {
	return func(m *Model) {
		m.c = c
	}
}

// WithMaxIter sets the maximum number of optimizer iterations
func WithMaxIter(maxIter int) Option {
	return func(m *Model) {
		m.maxIter = maxIter
	}
}

// WithTolerance sets the gradient threshold used as the stopping criterion
func WithTolerance(tol float64) Option {
	return func(m *Model) {
		m.tol = tol
	}
}

// WithFitIntercept enables or disables the intercept term
func WithFitIntercept(fitIntercept bool) Option {
	return func(m *Model) {
		m.fitIntercept = fitIntercept
	}
}

// New creates an unfitted logistic regression with C=1, 100 iterations and
// an intercept.
func New(options ...Option) *Model {
	m := &Model{
		c:            1.0,
		maxIter:      100,
		tol:          1e-4,
		fitIntercept: true,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// asDense avoids a copy when X is already dense
func asDense(X mat.Matrix) *mat.Dense {
	if d, ok := X.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(X)
}

// Fit learns the coefficients from X and binary labels y.
func (m *Model) Fit(X mat.Matrix, y []float64) error {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("logreg: empty training matrix %dx%d", rows, cols)
	}
	if len(y) != rows {
		return fmt.Errorf("logreg: %d labels for %d rows", len(y), rows)
	}
	if m.c <= 0 || math.IsNaN(m.c) {
		return fmt.Errorf("logreg: C must be positive, got %v", m.c)
	}
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("logreg: label %d is %v, want 0 or 1", i, v)
		}
	}

	xd := asDense(X)
	nParams := cols
	if m.fitIntercept {
		nParams++
	}

	// z holds the per-row margins of the most recent evaluation.
	z := make([]float64, rows)
	margins := func(w []float64) {
		b := 0.0
		if m.fitIntercept {
			b = w[cols]
		}
		for i := 0; i < rows; i++ {
			z[i] = floats.Dot(xd.RawRowView(i), w[:cols]) + b
		}
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			margins(w)
			loss := 0.5 * floats.Dot(w[:cols], w[:cols])
			for i := 0; i < rows; i++ {
				loss += m.c * (softplus(z[i]) - y[i]*z[i])
			}
			return loss
		},
		Grad: func(grad, w []float64) {
			margins(w)
			copy(grad[:cols], w[:cols])
			if m.fitIntercept {
				grad[cols] = 0
			}
			for i := 0; i < rows; i++ {
				residual := m.c * (sigmoid(z[i]) - y[i])
				floats.AddScaled(grad[:cols], residual, xd.RawRowView(i))
				if m.fitIntercept {
					grad[cols] += residual
				}
			}
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: m.tol,
		MajorIterations:   m.maxIter,
	}
	result, err := optimize.Minimize(problem, make([]float64, nParams), settings, &optimize.LBFGS{})
	if result == nil {
		return fmt.Errorf("logreg: optimization failed: %w", err)
	}
	// Any finite result is accepted, including one returned with the
	// iteration limit or a line search failure; err is reported only when
	// the solution diverged.
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if err != nil {
				return fmt.Errorf("logreg: optimization diverged (status %v): %w", result.Status, err)
			}
			return fmt.Errorf("logreg: optimization diverged (status %v)", result.Status)
		}
	}

	m.coef = make([]float64, cols)
	copy(m.coef, result.X[:cols])
	m.intercept = 0
	if m.fitIntercept {
		m.intercept = result.X[cols]
	}
	m.fitted = true
	return nil
}

// PredictProba returns P(y=1 | x) for every row of X.
func (m *Model) PredictProba(X mat.Matrix) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	rows, cols := X.Dims()
	if cols != len(m.coef) {
		return nil, fmt.Errorf("logreg: X has %d features, model expects %d", cols, len(m.coef))
	}
	xd := asDense(X)
	proba := make([]float64, rows)
	for i := range proba {
		proba[i] = sigmoid(floats.Dot(xd.RawRowView(i), m.coef) + m.intercept)
	}
	return proba, nil
}

// Coefficients returns a copy of the fitted feature weights.
func (m *Model) Coefficients() []float64 {
	out := make([]float64, len(m.coef))
	copy(out, m.coef)
	return out
}

// Intercept returns the fitted bias term.
func (m *Model) Intercept() float64 {
	return m.intercept
}

// sigmoid is 1/(1+e^-z), evaluated without overflow for large |z|
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus is log(1+e^z)
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// ModelState represents the serializable state of Model
type ModelState struct {
	Version      int       `gob:"version"`
	C            float64   `gob:"c"`
	MaxIter      int       `gob:"max_iter"`
	Tol          float64   `gob:"tol"`
	FitIntercept bool      `gob:"fit_intercept"`
	Coef         []float64 `gob:"coef"`
	Intercept    float64   `gob:"intercept"`
	Fitted       bool      `gob:"fitted"`
}

// MarshalBinary implements encoding.BinaryMarshaler using gob
func (m *Model) MarshalBinary() ([]byte, error) {
	state := ModelState{
		Version:      1,
		C:            m.c,
		MaxIter:      m.maxIter,
		Tol:          m.tol,
		FitIntercept: m.fitIntercept,
		Coef:         m.coef,
		Intercept:    m.intercept,
		Fitted:       m.fitted,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (m *Model) UnmarshalBinary(data []byte) error {
	var state ModelState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("logreg: unsupported gob version")
	}
	if state.Fitted && len(state.Coef) == 0 {
		return errors.New("logreg: fitted state without coefficients")
	}

	m.c = state.C
	m.maxIter = state.MaxIter
	m.tol = state.Tol
	m.fitIntercept = state.FitIntercept
	m.coef = make([]float64, len(state.Coef))
	copy(m.coef, state.Coef)
	m.intercept = state.Intercept
	m.fitted = state.Fitted
	return nil
}
