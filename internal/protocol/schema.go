package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// opSchema constrains the OP frame envelope. Field-level semantics stay in
// the dispatcher; the schema rejects frames that could not name a valid
// operation.
const opSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version", "op", "caller"],
  "properties": {
    "type": {"const": "OP"},
    "protocol_version": {"type": "string"},
    "id": {"type": "string"},
    "op": {"type": "string", "pattern": "^[A-Z][A-Z_]*$"},
    "caller": {"type": "string", "minLength": 1},
    "value": {"type": "string", "pattern": "^[0-9]+$"},
    "item_ids": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "shard_ids": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "weights": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "price_table": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "prices": {"type": "array", "items": {"type": "string", "pattern": "^[0-9]+$"}},
    "price": {"type": "string", "pattern": "^[0-9]+$"}
  }
}`

var compiledOpSchema = mustCompile("op.schema.json", opSchema)

func mustCompile(name, raw string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// ValidateOpFrame checks a raw OP frame against the envelope schema.
func ValidateOpFrame(raw []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Errf(ErrProtoBadRequest, "malformed frame: %v", err)
	}
	if err := compiledOpSchema.Validate(v); err != nil {
		return Errf(ErrProtoBadRequest, "invalid OP frame: %v", err)
	}
	return nil
}
