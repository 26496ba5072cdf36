package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// compiledSchema is a tool schema parsed once at registration.
type compiledSchema struct {
	raw    json.RawMessage
	schema *openapi3.Schema
}

func compileSchema(raw json.RawMessage) (*compiledSchema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty schema", ErrInvalidSchema)
	}
	var s openapi3.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if !s.Type.Is(openapi3.TypeObject) {
		return nil, fmt.Errorf("%w: top-level type must be object", ErrInvalidSchema)
	}
	return &compiledSchema{raw: raw, schema: &s}, nil
}

// validate decodes args and checks them against the schema. Empty args are
// treated as an empty object.
func (c *compiledSchema) validate(args json.RawMessage) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}

	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	if _, ok := value.(map[string]any); !ok {
		return fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments)
	}

	if err := c.schema.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		var multi openapi3.MultiError
		if errors.As(err, &multi) && len(multi) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidArguments, schemaErrorText(multi[0]))
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, schemaErrorText(err))
	}
	return nil
}

// schemaErrorText strips kin-openapi's value dump from schema errors, since
// the offending value can be an entire file body.
func schemaErrorText(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if path := se.JSONPointer(); len(path) > 0 {
			return fmt.Sprintf("%s: %s", joinPointer(path), se.Reason)
		}
		return se.Reason
	}
	return err.Error()
}

func joinPointer(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}
