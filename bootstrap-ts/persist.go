package bootstrapts

import (
	"encoding"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// BanditState represents the serializable state of Bandit
type BanditState struct {
	Version        int        `gob:"version"`
	NArms          int        `gob:"n_arms"`
	NEstimators    int        `gob:"n_estimators"`
	NFeatures      int        `gob:"n_features"`
	EmptyArmPolicy int        `gob:"empty_arm_policy"`
	Arms           []ArmState `gob:"arms"`
}

// ArmState represents the serializable state of one arm model
type ArmState struct {
	SampleCount int         `gob:"sample_count"`
	Slots       []SlotState `gob:"slots"`
}

// SlotState is one ensemble slot: Tag is "zero", "one" or "fitted", and
// Learner carries the learner's own binary encoding for fitted slots
type SlotState struct {
	Tag     string `gob:"tag"`
	Learner []byte `gob:"learner"`
}

// Save serializes the fitted model to gob format.
// Fitted learners must implement encoding.BinaryMarshaler.
func (b *Bandit) Save(w io.Writer) error {
	fitted, err := b.loadState()
	if err != nil {
		return err
	}

	state := BanditState{
		Version:        1,
		NArms:          b.nArms,
		NEstimators:    b.nEstimators,
		NFeatures:      fitted.nFeatures,
		EmptyArmPolicy: int(b.emptyArmPolicy),
		Arms:           make([]ArmState, len(fitted.arms)),
	}

	for a, model := range fitted.arms {
		armState := ArmState{
			SampleCount: model.sampleCount,
			Slots:       make([]SlotState, len(model.estimators)),
		}
		for i, est := range model.estimators {
			slot := SlotState{Tag: est.kind.String()}
			if est.kind == SlotFitted {
				m, ok := est.learner.(encoding.BinaryMarshaler)
				if !ok {
					return fmt.Errorf("arm %d, estimator %d: learner %T does not implement encoding.BinaryMarshaler", a, i, est.learner)
				}
				data, err := m.MarshalBinary()
				if err != nil {
					return fmt.Errorf("arm %d, estimator %d: %w", a, i, err)
				}
				slot.Learner = data
			}
			armState.Slots[i] = slot
		}
		state.Arms[a] = armState
	}

	encoder := gob.NewEncoder(w)
	return encoder.Encode(state)
}

// Load deserializes a model from gob format. Options are applied after the
// stored configuration, so WithLearner must supply a learner able to decode
// the stored fitted slots (encoding.BinaryUnmarshaler). The stored ensemble
// size always wins over WithEstimators.
func Load(r io.Reader, options ...Option) (*Bandit, error) {
	decoder := gob.NewDecoder(r)

	var state BanditState
	if err := decoder.Decode(&state); err != nil {
		return nil, err
	}

	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	opts := append([]Option{
		WithEmptyArmPolicy(EmptyArmPolicy(state.EmptyArmPolicy)),
	}, options...)
	opts = append(opts, WithEstimators(state.NEstimators))

	b, err := New(state.NArms, opts...)
	if err != nil {
		return nil, err
	}

	// Validate data lengths
	if state.NFeatures <= 0 {
		return nil, errors.New("invalid feature count")
	}
	if len(state.Arms) != state.NArms {
		return nil, errors.New("invalid arm count")
	}

	fitted := &fitState{
		nFeatures: state.NFeatures,
		arms:      make([]armModel, state.NArms),
	}
	for a, armState := range state.Arms {
		if len(armState.Slots) != state.NEstimators {
			return nil, fmt.Errorf("invalid slot count for arm %d", a)
		}
		if armState.SampleCount < 0 {
			return nil, fmt.Errorf("invalid sample count for arm %d", a)
		}

		model := armModel{
			sampleCount: armState.SampleCount,
			estimators:  make([]estimator, len(armState.Slots)),
		}
		for i, slot := range armState.Slots {
			kind, err := parseSlotKind(slot.Tag)
			if err != nil {
				return nil, fmt.Errorf("arm %d, estimator %d: %w", a, i, err)
			}
			est := estimator{kind: kind}
			if kind == SlotFitted {
				learner := b.newLearner()
				u, ok := learner.(encoding.BinaryUnmarshaler)
				if !ok {
					return nil, fmt.Errorf("learner %T does not implement encoding.BinaryUnmarshaler", learner)
				}
				if err := u.UnmarshalBinary(slot.Learner); err != nil {
					return nil, fmt.Errorf("arm %d, estimator %d: %w", a, i, err)
				}
				est.learner = learner
			}
			model.estimators[i] = est
		}
		fitted.arms[a] = model
	}

	b.state.Store(fitted)
	return b, nil
}
