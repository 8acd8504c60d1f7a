package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fulmenhq/exportsync/pkg/schema"
)

// maxReportedViolations bounds the schema errors quoted in a config error.
const maxReportedViolations = 10

// ValidateConfig validates YAML or JSON configuration data against the
// embedded configuration schema
func ValidateConfig(configData []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(configData, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %v", err)
	}
	if doc == nil {
		// An empty file configures nothing.
		return nil
	}

	result, err := schema.Validate(doc, schema.ConfigV1)
	if err != nil {
		return fmt.Errorf("schema validation error: %v", err)
	}
	if !result.Valid {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(result.Messages(maxReportedViolations), "\n"))
	}
	return nil
}

// ValidateFile validates the config file at path
func ValidateFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("failed to read config file: %v", err)
	}
	if err := ValidateConfig(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
