package dbadmin

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// newDatabaseSchemaJSON validates an ADMIN_NEW_DATABASE request body,
// applied the way internal/config/validate.go validates config.json in the
// teacher.
const newDatabaseSchemaJSON = `{
  "type": "object",
  "description": "Request body for creating a new clustered database.",
  "properties": {
    "dbname": {
      "type": "string",
      "pattern": "^[a-zA-Z][a-zA-Z0-9-_]{0,18}[a-zA-Z0-9]$"
    },
    "time_precision": {
      "type": "string",
      "enum": ["s", "ms", "us", "ns"]
    },
    "buffer_size": {
      "type": "integer",
      "minimum": 512,
      "multipleOf": 512
    },
    "duration_num": {
      "type": "string"
    },
    "duration_log": {
      "type": "string"
    }
  },
  "required": ["dbname"]
}`

var newDatabaseSchema = compileSchema("new-database.json", newDatabaseSchemaJSON)

func compileSchema(name, raw string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(raw))); err != nil {
		panic(fmt.Sprintf("dbadmin: invalid embedded schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("dbadmin: compiling schema %s: %v", name, err))
	}
	return s
}

// ValidateNewDatabaseRequest schema-validates raw against newDatabaseSchema
// before it is unmarshalled into a NewDatabaseRequest, the same
// validate-then-decode order the teacher uses for its own config.
func ValidateNewDatabaseRequest(raw []byte) (NewDatabaseRequest, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return NewDatabaseRequest{}, fmt.Errorf("dbadmin: invalid JSON: %w", err)
	}
	if err := newDatabaseSchema.Validate(v); err != nil {
		return NewDatabaseRequest{}, fmt.Errorf("dbadmin: request failed schema validation: %w", err)
	}

	var req NewDatabaseRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewDatabaseRequest{}, err
	}
	return req, nil
}
