package expectations

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Suite errors
var (
	ErrSuiteNameRequired = errors.New("suite name is required")
	ErrEmptySuite        = errors.New("suite has no expectations")
)

// Suite is a named list of rule requests.
type Suite struct {
	Name         string    `yaml:"name" json:"name"`
	Expectations []Request `yaml:"expectations" json:"expectations"`
}

// Validate checks the suite shape. Rule kwargs are checked when configured.
func (s *Suite) Validate() error {
	if s.Name == "" {
		return ErrSuiteNameRequired
	}

	if len(s.Expectations) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySuite, s.Name)
	}

	for i, req := range s.Expectations {
		if req.Type == "" {
			return fmt.Errorf("expectation %d: expectation_type is required", i)
		}
	}

	return nil
}

// ParseSuite decodes a YAML suite.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}

	if err := suite.Validate(); err != nil {
		return nil, err
	}

	return &suite, nil
}

// LoadSuite reads a YAML suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path) //nolint:gosec // suite path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	return ParseSuite(data)
}
