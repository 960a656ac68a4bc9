package metrics

import (
	"fmt"
)

// Inputs is what a provider sees when it computes one metric: the request, the
// engine of the run and the resolved values of its dependencies by role.
type Inputs struct {
	Config Config
	Engine Engine

	deps map[Role]resolvedDep
}

type resolvedDep struct {
	cfg   Config
	value any
}

// Value returns the resolved value of a dependency.
func (in *Inputs) Value(role Role) (any, bool) {
	dep, ok := in.deps[role]
	if !ok {
		return nil, false
	}

	return dep.value, true
}

// Dependency returns the request bound to a role.
func (in *Inputs) Dependency(role Role) (Config, bool) {
	dep, ok := in.deps[role]
	return dep.cfg, ok
}

// Input returns a dependency value with the expected shape. A missing or
// differently shaped value is a metric resolution error and is never substituted.
func Input[T any](in *Inputs, role Role) (T, error) {
	var zero T

	dep, ok := in.deps[role]
	if !ok {
		return zero, fmt.Errorf("%w: %s has no %s dependency", ErrMetricResolution, in.Config.Name(), role)
	}

	value, ok := dep.value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s dependency %s of %s is %T, expected %T",
			ErrMetricResolution, role, dep.cfg.Name(), in.Config.Name(), dep.value, zero)
	}

	return value, nil
}

// OptionalInput returns a dependency value when the role is bound.
func OptionalInput[T any](in *Inputs, role Role) (T, bool, error) {
	var zero T

	if _, ok := in.deps[role]; !ok {
		return zero, false, nil
	}

	value, err := Input[T](in, role)
	if err != nil {
		return zero, true, err
	}

	return value, true, nil
}

// NewInputs binds values to roles directly, bypassing resolution.
func NewInputs(cfg Config, engine Engine, values map[Role]any) *Inputs {
	deps := make(map[Role]resolvedDep, len(values))
	for role, value := range values {
		deps[role] = resolvedDep{value: value}
	}

	return &Inputs{Config: cfg, Engine: engine, deps: deps}
}
