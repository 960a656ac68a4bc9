package metrics

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy
var (
	// ErrConfiguration is returned for malformed metric or rule parameters
	ErrConfiguration = errors.New("configuration error")
	// ErrMetricResolution is returned when a dependency could not be computed or has an unexpected shape
	ErrMetricResolution = errors.New("metric resolution error")
	// ErrBackendExecution is returned when the backend failed while materializing a condition or partial function
	ErrBackendExecution = errors.New("backend execution error")
	// ErrUnsupportedMetric is returned when the active backend has no provider for a metric
	ErrUnsupportedMetric = errors.New("unsupported metric")
	// ErrDependencyCycle is returned when provider dependencies form a cycle
	ErrDependencyCycle = errors.New("metric dependency cycle")
)

// Catalog errors
var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrCatalogSealed     = errors.New("catalog is sealed")
	ErrCatalogNotSealed  = errors.New("catalog has not been validated")
)

// PanicError is a recovered panic raised while computing a metric.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Containable reports whether err is a data-dependent execution failure that a
// rule may record instead of propagating. Configuration errors, catalog or
// backend mismatches and caller cancellation are never containable.
func Containable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrUnsupportedMetric),
		errors.Is(err, ErrDependencyCycle),
		errors.Is(err, context.Canceled):
		return false
	}

	return true
}

// Traceback returns the stack captured for err, if any.
func Traceback(err error) (string, bool) {
	var panicErr *PanicError
	if errors.As(err, &panicErr) && len(panicErr.Stack) > 0 {
		return string(panicErr.Stack), true
	}

	return "", false
}

func classified(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrMetricResolution) ||
		errors.Is(err, ErrBackendExecution) ||
		errors.Is(err, ErrUnsupportedMetric) ||
		errors.Is(err, ErrDependencyCycle)
}

// wrapResolution attaches the metric identity and classifies unclassified errors
// as metric resolution errors.
func wrapResolution(cfg Config, err error) error {
	if classified(err) {
		return fmt.Errorf("metric %s: %w", cfg.Name(), err)
	}

	return fmt.Errorf("%w: metric %s: %w", ErrMetricResolution, cfg.Name(), err)
}

// wrapBackend classifies unclassified materialization errors as backend execution errors.
func wrapBackend(domain Domain, err error) error {
	if classified(err) {
		return fmt.Errorf("materialize %s: %w", domain, err)
	}

	return fmt.Errorf("%w: materialize %s: %w", ErrBackendExecution, domain, err)
}
