package statestore

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fields are optional: a freshly initialized state may omit counters. When
// present they must have the right type.
const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "phase":      {"type": "string"},
    "taskIndex":  {"type": "integer", "minimum": 0},
    "totalTasks": {"type": "integer", "minimum": 0},
    "specPath":   {"type": "string"}
  }
}`

const markerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "specPath":    {"type": "string"},
    "instruction": {"type": "string"},
    "reason":      {"type": "string"}
  }
}`

var schemas = map[RecordKind]*jsonschema.Schema{
	KindState:  jsonschema.MustCompileString("workflow-state.json", stateSchema),
	KindMarker: jsonschema.MustCompileString("restart-request.json", markerSchema),
}

func validate(kind RecordKind, doc any) error {
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for %s", kind)
	}
	return schema.Validate(doc)
}
