// Package payload validates the opaque JSON value body of an insert/update
// request against an operator-supplied JSON Schema before it is accepted as
// a queue element's value. Compile once at startup, validate many times on
// the request path — the same shape as jsondata.ValidSchema.
package payload

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator holds a compiled JSON Schema used to gate queue payload values.
// The zero Validator (no schema compiled) accepts any well-formed JSON.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile loads and compiles the JSON Schema at schemaPath.
func Compile(schemaPath string) (Validator, error) {
	compiler := jsonschema.NewCompiler()
	sch, err := compiler.Compile(schemaPath)
	if err != nil {
		return Validator{}, fmt.Errorf("payload: unable to compile schema %q: %w", schemaPath, err)
	}
	return Validator{schema: sch}, nil
}

// Validate reports whether body conforms to the compiled schema. A
// Validator with no schema compiled accepts any well-formed JSON body.
func (v *Validator) Validate(body []byte) (bool, error) {
	var unmarshalled any
	if err := json.Unmarshal(body, &unmarshalled); err != nil {
		return false, fmt.Errorf("payload: invalid JSON body: %w", err)
	}

	if v.schema == nil {
		return true, nil
	}
	if err := v.schema.Validate(unmarshalled); err != nil {
		return false, fmt.Errorf("payload: body does not conform to schema: %w", err)
	}
	return true, nil
}
