package jsonschema

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	sjs "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/port/schemavalidator"
)

const baseURL = "https://aopguard.local/schemas/"

// Validator validates JSON instances against schema documents read from a
// directory. Documents are compiled on first use and cached; a missing
// document is looked up again on the next call.
type Validator struct {
	dir string

	mu       sync.Mutex
	compiled map[string]*sjs.Schema
}

// NewValidator creates a Validator reading documents from dir.
func NewValidator(dir string) *Validator {
	return &Validator{dir: dir, compiled: map[string]*sjs.Schema{}}
}

// Validate checks instance against the named schema document.
func (v *Validator) Validate(schemaName string, instance []byte) error {
	sch, err := v.schema(schemaName)
	if err != nil {
		return err
	}
	doc, err := sjs.UnmarshalJSON(bytes.NewReader(instance))
	if err != nil {
		return aoperr.New(aoperr.CodeParseFailure, "instance is not valid JSON", map[string]any{"error": err.Error()})
	}
	if err := sch.Validate(doc); err != nil {
		return aoperr.New(aoperr.CodeSchemaValidation, "schema validation failed", map[string]any{
			"schema":           schemaName,
			"validation_error": err.Error(),
		})
	}
	return nil
}

func (v *Validator) schema(name string) (*sjs.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.compiled[name]; ok {
		return sch, nil
	}

	path := filepath.Join(v.dir, filepath.Base(name))
	data, err := os.ReadFile(path) //nolint:gosec // name is one of the fixed schema file names
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", schemavalidator.ErrSchemaUnavailable, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", schemavalidator.ErrSchemaInvalid, path, err)
	}
	doc, err := sjs.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", schemavalidator.ErrSchemaInvalid, path, err)
	}

	c := sjs.NewCompiler()
	url := baseURL + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schemavalidator.ErrSchemaInvalid, path, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", schemavalidator.ErrSchemaInvalid, path, err)
	}
	v.compiled[name] = sch
	return sch, nil
}
