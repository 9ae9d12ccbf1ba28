package operations

import (
	"fmt"

	apperrors "featureflow/internal/errors"
)

// Registry collects pipeline steps and resolves their execution order. It is
// built once before the coordinator starts and never mutated afterwards.
type Registry struct {
	steps []Step
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// NewPipelineRegistry registers resample, fracdiff and emd
func NewPipelineRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, step := range []Step{NewResampleStep(), NewFracDiffStep(), NewEMDStep()} {
		if err := r.Register(step); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(step Step) error {
	switch {
	case step == nil:
		return apperrors.NewAppValidationError("cannot register nil step")
	case step.ID() == "":
		return apperrors.NewAppValidationError("step ID cannot be empty")
	}
	if _, dup := r.index[step.ID()]; dup {
		return apperrors.NewAppValidationError(fmt.Sprintf("step %s already registered", step.ID()))
	}
	r.index[step.ID()] = len(r.steps)
	r.steps = append(r.steps, step)
	return nil
}

// Order sorts the steps so every step follows its dependencies. Among steps
// that are ready at the same time, registration order wins.
func (r *Registry) Order() ([]Step, error) {
	pending := make([]int, len(r.steps))
	dependents := make([][]int, len(r.steps))
	for i, step := range r.steps {
		for _, dep := range step.DependsOn() {
			j, ok := r.index[dep]
			if !ok {
				return nil, apperrors.NewConfigError(
					fmt.Sprintf("step %s depends on unknown step %s", step.ID(), dep), nil)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(r.steps))
	ordered := make([]Step, 0, len(r.steps))
	for len(ordered) < len(r.steps) {
		next := -1
		for i := range r.steps {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, apperrors.NewConfigError("dependency cycle between pipeline steps", nil)
		}
		done[next] = true
		ordered = append(ordered, r.steps[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return ordered, nil
}
