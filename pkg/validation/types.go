package validation

import (
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/result"
)

// RuleResult is the result of one rule of a suite together with its request.
type RuleResult struct {
	ExpectationConfig expectations.Request `json:"expectation_config" yaml:"expectation_config"`
	result.ValidationResult `yaml:",inline"`
}

// Statistics summarizes a suite run.
type Statistics struct {
	EvaluatedExpectations    int     `json:"evaluated_expectations" yaml:"evaluated_expectations"`
	SuccessfulExpectations   int     `json:"successful_expectations" yaml:"successful_expectations"`
	UnsuccessfulExpectations int     `json:"unsuccessful_expectations" yaml:"unsuccessful_expectations"`
	SuccessPercent           float64 `json:"success_percent" yaml:"success_percent"`
}

// SuiteResult is the outcome of a suite over one batch.
type SuiteResult struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	SuiteName  string       `json:"suite_name" yaml:"suite_name"`
	BatchID    string       `json:"batch_id" yaml:"batch_id"`
	Backend    string       `json:"backend" yaml:"backend"`
	Success    bool         `json:"success" yaml:"success"`
	Statistics Statistics   `json:"statistics" yaml:"statistics"`
	Results    []RuleResult `json:"results" yaml:"results"`
}
