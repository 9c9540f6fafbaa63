// Package jsonschema generates the JSON Schema documents of the protocol
// messages and validates record payloads against them.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	invopop "github.com/invopop/jsonschema"

	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/schemavalidator"
)

// enumType is implemented by the closed protocol enums.
type enumType interface {
	EnumValues() []string
}

var (
	enumIface      = reflect.TypeFor[enumType]()
	extensionsType = reflect.TypeFor[protocol.Extensions]()
)

// Generate reflects the protocol message types into schema documents keyed
// by file name.
func Generate() (map[string][]byte, error) {
	docs := map[string]any{
		schemavalidator.TaskEnvelopeSchema:     &protocol.Envelope{},
		schemavalidator.ExecutorResponseSchema: &protocol.Response{},
	}
	out := make(map[string][]byte, len(docs))
	for name, v := range docs {
		data, err := json.MarshalIndent(reflector().Reflect(v), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		out[name] = append(data, '\n')
	}
	return out, nil
}

// WriteFiles writes the generated documents into dir, creating it if needed.
func WriteFiles(dir string) ([]string, error) {
	docs, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create schema dir: %w", err)
	}
	var written []string
	for _, name := range []string{schemavalidator.TaskEnvelopeSchema, schemavalidator.ExecutorResponseSchema} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, docs[name], 0o644); err != nil { //nolint:gosec // schema documents are public
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func reflector() *invopop.Reflector {
	return &invopop.Reflector{
		Mapper: func(t reflect.Type) *invopop.Schema {
			if t == extensionsType {
				return &invopop.Schema{
					Type:          "object",
					PropertyNames: &invopop.Schema{Type: "string", Pattern: "^x_"},
				}
			}
			if !t.Implements(enumIface) {
				return nil
			}
			values := reflect.Zero(t).Interface().(enumType).EnumValues()
			enum := make([]any, len(values))
			for i, v := range values {
				enum[i] = v
			}
			return &invopop.Schema{Type: "string", Enum: enum}
		},
	}
}
