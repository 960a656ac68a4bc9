package validation

import "errors"

// Validation-specific errors
var (
	ErrUnknownObservedValue = errors.New("observed metric was not resolved")
	ErrNilSuite             = errors.New("suite is nil")
)
