package tool

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// compileSchema builds a closed JSON schema from the declared parameters.
// A required parameter with a default is not listed as required: the default
// is filled in after validation.
func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, p := range def.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop

		if p.Required && p.Default == nil {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema for %q: %w", def.ID, err)
	}
	return schema, nil
}

// validateParams checks params against the compiled schema and reports every
// violation at once.
func validateParams(schema *gojsonschema.Schema, toolID string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &ValidationError{
			ToolID:     toolID,
			Violations: []Violation{{Parameter: "(root)", Kind: ViolationOther, Message: err.Error()}},
		}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, toViolation(re))
	}
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Parameter != violations[j].Parameter {
			return violations[i].Parameter < violations[j].Parameter
		}
		return violations[i].Kind < violations[j].Kind
	})

	return &ValidationError{ToolID: toolID, Violations: violations}
}

func toViolation(re gojsonschema.ResultError) Violation {
	param := re.Field()
	if prop, ok := re.Details()["property"].(string); ok && prop != "" {
		param = prop
	}

	kind := ViolationOther
	switch re.Type() {
	case "required":
		kind = ViolationMissing
	case "invalid_type":
		kind = ViolationType
	case "enum":
		kind = ViolationEnum
	case "additional_property_not_allowed":
		kind = ViolationUnknown
	}

	return Violation{Parameter: param, Kind: kind, Message: re.Description()}
}

// applyDefaults returns a copy of params with declared defaults filled in for
// absent parameters.
func applyDefaults(def Definition, params map[string]any) map[string]any {
	out := make(map[string]any, len(def.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range def.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// validateDefinition rejects malformed definitions at registration time.
func validateDefinition(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("tool definition: id is required")
	}
	if def.Name == "" {
		return fmt.Errorf("tool %q: name is required", def.ID)
	}
	if !def.Category.IsValid() {
		return fmt.Errorf("tool %q: unknown category %q", def.ID, def.Category)
	}
	if !def.RiskLevel.IsValid() {
		return fmt.Errorf("tool %q: unknown risk level %q", def.ID, def.RiskLevel)
	}
	if def.SchemaVersion == "" {
		return fmt.Errorf("tool %q: schema_version is required", def.ID)
	}

	seen := make(map[string]struct{}, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %q: parameter name is required", def.ID)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("tool %q: duplicate parameter %q", def.ID, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.IsValid() {
			return fmt.Errorf("tool %q: parameter %q has unknown type %q", def.ID, p.Name, p.Type)
		}
	}
	return nil
}
