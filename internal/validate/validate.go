// Package validate checks request bodies against embedded JSON schemas and
// reports field-level problems.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
)

// Schema names.
const (
	ProductCreate  = "product-create"
	ProductUpdate  = "product-update"
	ShipmentCreate = "shipment-create"
	ShipmentUpdate = "shipment-update"
	LineReturns    = "line-returns"
	ProductReturns = "product-returns"
	Login          = "login"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every field that failed. It matches store.ErrInvalidInput with errors.Is.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return store.ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return store.ErrInvalidInput
}

// Fail builds a single-field Error.
func Fail(field, message string) error {
	return &Error{Fields: []FieldError{{Field: field, Message: message}}}
}

// Collector accumulates field errors; Err returns nil when none were added.
type Collector struct {
	fields []FieldError
}

func (c *Collector) Add(field, message string) {
	c.fields = append(c.fields, FieldError{Field: field, Message: message})
}

func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &Error{Fields: c.fields}
}

// Fields extracts the field list from err, if it carries one.
func Fields(err error) []FieldError {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if err := c.AddResource(schemaURL(name), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		names = append(names, name)
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		compiled, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Decode validates body against the named schema and then decodes it into dest.
func (v *Validator) Decode(schema string, body []byte, dest any) error {
	compiled, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}

	// Numbers stay json.Number so integer keywords see the literal value.
	var doc any
	raw := json.NewDecoder(bytes.NewReader(body))
	raw.UseNumber()
	if err := raw.Decode(&doc); err != nil {
		return Fail("body", "must be valid JSON")
	}
	if err := compiled.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Fields: collect(verr)}
		}
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return Fail("body", err.Error())
	}
	return nil
}

func collect(root *jsonschema.ValidationError) []FieldError {
	var fields []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			fields = append(fields, FieldError{Field: fieldName(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields
}

// fieldName turns a JSON pointer such as /updates/0/quantity into updates[0].quantity.
func fieldName(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "body"
	}
	var b strings.Builder
	for i, part := range strings.Split(pointer, "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func schemaURL(name string) string {
	return "https://lavanderia.schemas.local/" + name + ".schema.json"
}
