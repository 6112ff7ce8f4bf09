package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// BuildJSONSchema projects a Decision's field summary into a JSON Schema
// document describing the shape the decider just inferred. Used as a
// post-hoc drift check: documents in the same batch that don't validate
// against their own inferred shape indicate the decider's dominant-type
// sampling missed a real heterogeneity the batch contains.
func BuildJSONSchema(decision Decision) []byte {
	properties := make(map[string]interface{}, len(decision.Fields))
	for path, field := range decision.Fields {
		properties[path] = map[string]interface{}{"type": jsonSchemaType(field.DominantType)}
	}

	doc := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	b, _ := json.Marshal(doc)
	return b
}

func jsonSchemaType(t JsonType) interface{} {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return []string{"integer", "null"}
	case TypeFloat:
		return []string{"number", "null"}
	case TypeString:
		return []string{"string", "null"}
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "string"
	}
}

// DriftReport is the result of validating one document against a Decision's
// inferred JSON Schema: which top-level fields failed, and why.
type DriftReport struct {
	Valid  bool
	Errors []string
}

// CheckDrift validates a single document against the JSON Schema derived
// from decision.Fields, surfacing any structural drift the decider's
// aggregate stats smoothed over.
func CheckDrift(decision Decision, document map[string]interface{}) (DriftReport, error) {
	schemaLoader := gojsonschema.NewBytesLoader(BuildJSONSchema(decision))
	docLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return DriftReport{}, fmt.Errorf("validate against inferred schema: %w", err)
	}

	if result.Valid() {
		return DriftReport{Valid: true}, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return DriftReport{Valid: false, Errors: errs}, nil
}
