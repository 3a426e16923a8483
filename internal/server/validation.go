package server

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// eventSchema validates the event upsert body before any field
// interpretation happens.
var eventSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"id":                  map[string]interface{}{"type": "integer", "minimum": 1},
		"title":               map[string]interface{}{"type": "string", "maxLength": 200},
		"description":         map[string]interface{}{"type": "string"},
		"location":            map[string]interface{}{"type": "string", "maxLength": 300},
		"latitude":            map[string]interface{}{"type": []string{"number", "null"}},
		"longitude":           map[string]interface{}{"type": []string{"number", "null"}},
		"start_date":          map[string]interface{}{"type": "string"},
		"end_date":            map[string]interface{}{"type": "string"},
		"icon":                map[string]interface{}{"type": "string", "maxLength": 100},
		"is_recurring":        map[string]interface{}{"type": "boolean"},
		"recurrence_rule":     map[string]interface{}{"type": "string", "enum": []string{"", "weekly", "biweekly", "monthly"}},
		"recurrence_end_date": map[string]interface{}{"type": "string"},
		"is_active":           map[string]interface{}{"type": "boolean"},
		"is_popup":            map[string]interface{}{"type": "boolean"},
		"notify":              map[string]interface{}{"type": "boolean"},
	},
	"additionalProperties": false,
}

func validateEventPayload(data map[string]interface{}) []string {
	schemaLoader := gojsonschema.NewGoLoader(eventSchema)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return []string{fmt.Sprintf("schema validation error: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return errs
}

type errInvalidTimestamp string

func (e errInvalidTimestamp) Error() string {
	return fmt.Sprintf("invalid timestamp %q, expected RFC 3339 or YYYY-MM-DD", string(e))
}
