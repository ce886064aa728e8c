package bootstrapts

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch reports disagreeing row counts between X, chosen arms
	// and labels, or a feature count that differs from the one seen at Fit.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNotFitted is returned when scoring a bandit that has no fitted state.
	ErrNotFitted = errors.New("bandit is not fitted")

	// ErrDegenerateArmData is returned by Fit under EmptyArmFail when an arm
	// has no historical rows to bootstrap from.
	ErrDegenerateArmData = errors.New("arm has no historical rows")

	// ErrInvalidArm is returned by Fit for a chosen arm outside [0, nArms).
	ErrInvalidArm = errors.New("chosen arm out of range")

	// ErrInvalidLabel is returned by Fit for a label other than 0 or 1.
	ErrInvalidLabel = errors.New("label must be 0 or 1")

	// ErrInvalidInput reports empty batches and non-finite features.
	ErrInvalidInput = errors.New("invalid input")
)

// ShapeError represents a dimension validation error
type ShapeError struct {
	Expected int
	Got      int
	Type     string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s must have size %d, got %d", e.Type, e.Expected, e.Got)
}

// Unwrap lets errors.Is match ErrShapeMismatch
func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}
