package analyzer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	data, err := json.Marshal(AnalysisSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// Validate checks a decoded JSON value against AnalysisSchema.
func Validate(obj any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	result := schema.Validate(obj)
	if result.IsValid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors))
	for field, verr := range result.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, verr.Message))
	}
	sort.Strings(msgs)
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// coerce normalizes the fields the model commonly gets almost right:
// missing or null timeline/mitreMapping become empty arrays and severities
// are upper-cased. Everything else is left for Validate to judge.
func coerce(obj map[string]any) {
	for _, key := range []string{"timeline", "mitreMapping"} {
		if v, ok := obj[key]; !ok || v == nil {
			obj[key] = []any{}
		}
	}

	events, ok := obj["timeline"].([]any)
	if !ok {
		return
	}
	for _, e := range events {
		ev, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := ev["severity"].(string); ok {
			ev["severity"] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
}
