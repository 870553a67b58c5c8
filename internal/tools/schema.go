// Package tools provides the agent's tool catalog: data tools backed by the
// store, remote tools proxied to the sandbox workspace provider, and
// namespaced plugin tools for external connectors.
package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema derives a JSON Schema from a tool's argument struct. Tag the
// struct with `json` and `jsonschema` tags; fields without omitempty are
// required.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
