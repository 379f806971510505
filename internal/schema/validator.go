// Package schema validates control surface payloads against JSON Schemas.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names.
const (
	CallStart = "call.start"
	CallEnd   = "call.end"
)

// ErrInvalidPayload wraps every validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

const callStartSchema = `{
  "type": "object",
  "required": ["call_id", "phone_number", "incoming", "exists_in_contacts"],
  "properties": {
    "call_id":            {"type": "string", "minLength": 1},
    "phone_number":       {"type": "string"},
    "incoming":           {"type": "boolean"},
    "exists_in_contacts": {"type": "boolean"},
    "destination_token":  {"type": "string"}
  }
}`

const callEndSchema = `{
  "type": "object",
  "required": ["call_id"],
  "properties": {
    "call_id":  {"type": "string"},
    "duration": {"type": "integer", "minimum": 0}
  }
}`

// Validator holds compiled schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles the built-in schemas. It panics on a malformed schema since
// they are compile-time constants.
func New() *Validator {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	v.mustAdd(CallStart, callStartSchema)
	v.mustAdd(CallEnd, callEndSchema)
	return v
}

func (v *Validator) mustAdd(name, raw string) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	v.schemas[name] = s
}

// Validate checks payload against the named schema.
func (v *Validator) Validate(name string, payload []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
	}
	return nil
}
