// Package validation checks adoption application details before submission.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"adoption-workflow/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// RequiredFields are the application details an adopter must provide before submitting.
var RequiredFields = []string{
	"fullName",
	"email",
	"phone",
	"address",
	"housingType",
	"householdSize",
	"petExperience",
	"adoptionReason",
}

const applicationSchema = `{
  "type": "object",
  "required": ["fullName", "email", "phone", "address", "housingType", "householdSize", "petExperience", "adoptionReason"],
  "properties": {
    "fullName":       {"type": "string", "pattern": "\\S"},
    "email":          {"type": "string", "format": "email"},
    "phone":          {"type": "string", "pattern": "^\\+?[0-9\\s\\-()]{7,}$"},
    "address":        {"type": "string", "pattern": "\\S"},
    "housingType":    {"type": "string", "pattern": "\\S"},
    "householdSize":  {"type": "integer", "minimum": 1},
    "petExperience":  {"type": "string", "pattern": "\\S"},
    "adoptionReason": {"type": "string", "pattern": "\\S"},
    "hasYard":        {"type": "boolean"},
    "otherPets":      {"type": "string"}
  }
}`

// ApplicationValidator validates application details against a JSON schema.
type ApplicationValidator struct {
	schema *gojsonschema.Schema
}

func NewApplicationValidator() (*ApplicationValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(applicationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile application schema: %w", err)
	}
	return &ApplicationValidator{schema: schema}, nil
}

// MustApplicationValidator panics if the embedded schema does not compile.
func MustApplicationValidator() *ApplicationValidator {
	v, err := NewApplicationValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns a VALIDATION_FAILED error listing every offending field, or nil.
func (v *ApplicationValidator) Validate(details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(details))
	if err != nil {
		return errors.NewValidationFailedError(fmt.Sprintf("application details are not valid JSON: %v", err), nil)
	}
	if result.Valid() {
		return nil
	}

	seen := make(map[string]bool)
	var fields []string
	var messages []string
	for _, desc := range result.Errors() {
		field := fieldName(desc)
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
		messages = append(messages, fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	sort.Strings(fields)
	sort.Strings(messages)

	return errors.NewValidationFailedError(strings.Join(messages, "; "), fields)
}

// Required errors are reported against the parent object, the property name is in the details.
func fieldName(desc gojsonschema.ResultError) string {
	if desc.Type() == "required" {
		if property, ok := desc.Details()["property"].(string); ok {
			return property
		}
	}
	return desc.Field()
}
