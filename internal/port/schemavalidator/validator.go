// Package schemavalidator defines the port for deep validation of protocol
// messages against external JSON Schema documents.
package schemavalidator

import "errors"

// Schema document names.
const (
	TaskEnvelopeSchema     = "task_envelope.schema.json"
	ExecutorResponseSchema = "executor_response.schema.json"
)

var (
	// ErrSchemaUnavailable means the schema document does not exist; deep
	// validation is skipped.
	ErrSchemaUnavailable = errors.New("schema document unavailable")

	// ErrSchemaInvalid means the schema document exists but cannot be used.
	ErrSchemaInvalid = errors.New("schema document invalid")
)

// Validator validates a JSON instance against a named schema document.
// Instance failures are returned as *aoperr.Error with E_SCHEMA_VALIDATION;
// problems with the document itself wrap ErrSchemaUnavailable or ErrSchemaInvalid.
type Validator interface {
	Validate(schemaName string, instance []byte) error
}
