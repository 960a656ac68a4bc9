package validation

import (
	"context"
	"sync"

	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/result"
)

// MockValidator is a mock implementation of Validator for testing
type MockValidator struct {
	mu sync.Mutex

	// Control behavior
	RequestMetricsFunc func(ctx context.Context, engine metrics.Engine, configs []metrics.Config) (metrics.Values, error)
	ValidateRuleFunc   func(ctx context.Context, engine metrics.Engine, req expectations.Request) (result.ValidationResult, error)
	ValidateSuiteFunc  func(ctx context.Context, engine metrics.Engine, suite *expectations.Suite) (*SuiteResult, error)
	RegistryValue      *expectations.Registry

	// Track calls for assertions
	RuleCalls  []RuleCall
	SuiteCalls []SuiteCall
}

// RuleCall records a ValidateRule call
type RuleCall struct {
	BatchID string
	Backend metrics.Kind
	Request expectations.Request
}

// SuiteCall records a ValidateSuite call
type SuiteCall struct {
	BatchID string
	Backend metrics.Kind
	Suite   *expectations.Suite
}

// NewMockValidator creates a new mock validator
func NewMockValidator() *MockValidator {
	return &MockValidator{
		RuleCalls:  make([]RuleCall, 0),
		SuiteCalls: make([]SuiteCall, 0),
	}
}

// RequestMetrics implements Validator
func (m *MockValidator) RequestMetrics(ctx context.Context, engine metrics.Engine, configs []metrics.Config) (metrics.Values, error) {
	if m.RequestMetricsFunc != nil {
		return m.RequestMetricsFunc(ctx, engine, configs)
	}

	return metrics.Values{}, nil
}

// ValidateRule implements Validator
func (m *MockValidator) ValidateRule(ctx context.Context, engine metrics.Engine, req expectations.Request) (result.ValidationResult, error) {
	m.mu.Lock()
	m.RuleCalls = append(m.RuleCalls, RuleCall{
		BatchID: engine.BatchID(),
		Backend: engine.Kind(),
		Request: req,
	})
	m.mu.Unlock()

	if m.ValidateRuleFunc != nil {
		return m.ValidateRuleFunc(ctx, engine, req)
	}

	return result.New(true, nil, nil), nil
}

// ValidateSuite implements Validator
func (m *MockValidator) ValidateSuite(ctx context.Context, engine metrics.Engine, suite *expectations.Suite) (*SuiteResult, error) {
	m.mu.Lock()
	m.SuiteCalls = append(m.SuiteCalls, SuiteCall{
		BatchID: engine.BatchID(),
		Backend: engine.Kind(),
		Suite:   suite,
	})
	m.mu.Unlock()

	if m.ValidateSuiteFunc != nil {
		return m.ValidateSuiteFunc(ctx, engine, suite)
	}

	return &SuiteResult{SuiteName: suite.Name, BatchID: engine.BatchID(), Backend: string(engine.Kind()), Success: true}, nil
}

// Registry implements Validator
func (m *MockValidator) Registry() *expectations.Registry {
	return m.RegistryValue
}

// Reset clears all recorded calls
func (m *MockValidator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RuleCalls = make([]RuleCall, 0)
	m.SuiteCalls = make([]SuiteCall, 0)
}

// GetSuiteCallCount returns the number of ValidateSuite calls
func (m *MockValidator) GetSuiteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SuiteCalls)
}

// Ensure mock implements the interface
var _ Validator = (*MockValidator)(nil)
