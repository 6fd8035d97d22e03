package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// SchemaError lists every schema violation found in a settings document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "config schema validation failed: " + strings.Join(e.Violations, "; ")
}

// ValidateSettings validates raw config settings, as produced by
// viper.AllSettings, against the embedded JSON schema.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	sort.Strings(violations)
	return &SchemaError{Violations: violations}
}
