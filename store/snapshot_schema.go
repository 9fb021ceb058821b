package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowline-dev/flowline/flow"
)

// snapshotSchemaJSON is the JSON Schema for persisted snapshot documents.
// Embedded as a constant to avoid filesystem dependencies.
const snapshotSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowline.dev/schemas/snapshot.json",
  "type": "object",
  "required": ["execution_id", "workflow", "status", "execution_order", "steps", "results"],
  "properties": {
    "execution_id": { "type": "string", "minLength": 1 },
    "workflow": { "type": "string" },
    "status": {
      "type": "string",
      "enum": ["running", "completed", "failed"]
    },
    "execution_order": {
      "type": "array",
      "items": { "type": "string" }
    },
    "steps": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/step_record" }
    },
    "results": { "type": "object" },
    "error": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "step_record": {
      "type": "object",
      "required": ["name", "status"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "status": {
          "type": "string",
          "enum": ["pending", "ready", "running", "completed", "failed", "recovering"]
        },
        "error": { "type": "string" },
        "duration_ms": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

var snapshotSchema = mustCompileSnapshotSchema()

func mustCompileSnapshotSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal snapshot schema: %v", err))
	}
	if err := c.AddResource("https://flowline.dev/schemas/snapshot.json", doc); err != nil {
		panic(fmt.Sprintf("add snapshot schema resource: %v", err))
	}
	s, err := c.Compile("https://flowline.dev/schemas/snapshot.json")
	if err != nil {
		panic(fmt.Sprintf("compile snapshot schema: %v", err))
	}
	return s
}

// ValidateSnapshotJSON checks a raw snapshot document against the snapshot
// JSON Schema. Used on load so a corrupted or hand-edited checkpoint fails
// fast instead of resuming garbage state.
func ValidateSnapshotJSON(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return flow.NewErrorf(flow.ErrCodeStore, "snapshot is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := snapshotSchema.Validate(doc); err != nil {
		return flow.NewErrorf(flow.ErrCodeStore, "snapshot failed schema validation: %s", err.Error()).WithCause(err)
	}
	return nil
}

// DecodeSnapshot validates and unmarshals a raw snapshot document.
func DecodeSnapshot(raw []byte) (*Snapshot, error) {
	if err := ValidateSnapshotJSON(raw); err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeStore, "unmarshal snapshot: %s", err.Error()).WithCause(err)
	}
	return &snap, nil
}

// EncodeSnapshot marshals a snapshot to its persisted JSON form.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeStore, "marshal snapshot: %s", err.Error()).WithCause(err)
	}
	return raw, nil
}
