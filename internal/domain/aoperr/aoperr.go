// Package aoperr defines the closed error taxonomy of the orchestration protocol.
//
// Every protocol or policy failure is reported as an *Error carrying exactly one
// Code, a human message and a structured detail map. Codes received from the
// wire are resolved with ParseCode, which never fails: anything outside the
// catalog becomes CodeUnknown.
package aoperr

import (
	"errors"
	"fmt"
)

// Code is a canonical E_* error code.
type Code string

const (
	CodeTimeout            Code = "E_TIMEOUT"
	CodeHeartbeatFailure   Code = "E_HEARTBEAT_FAILURE"
	CodeParseFailure       Code = "E_PARSE_FAILURE"
	CodeSchemaValidation   Code = "E_SCHEMA_VALIDATION"
	CodeAgentNotFound      Code = "E_AGENT_NOT_FOUND"
	CodeModelUnavailable   Code = "E_MODEL_UNAVAILABLE"
	CodeAllModelsExhausted Code = "E_ALL_MODELS_EXHAUSTED"
	CodeFileNotFound       Code = "E_FILE_NOT_FOUND"
	CodePermissionDenied   Code = "E_PERMISSION_DENIED"
	CodeContextOverflow    Code = "E_CONTEXT_OVERFLOW"
	CodePayloadSizeWarning Code = "E_PAYLOAD_SIZE_WARNING"
	CodeMalformedResponse  Code = "E_MALFORMED_RESPONSE"
	CodeDependencyFailed   Code = "E_DEPENDENCY_FAILED"
	CodeMaxDepthExceeded   Code = "E_MAX_DEPTH_EXCEEDED"
	CodeProcessCrash       Code = "E_PROCESS_CRASH"
	CodeCostLimitExceeded  Code = "E_COST_LIMIT_EXCEEDED"
	CodeRollbackFailed     Code = "E_ROLLBACK_FAILED"
	CodeUnknown            Code = "E_UNKNOWN"
)

// Codes lists the full catalog in declaration order.
var Codes = []Code{
	CodeTimeout, CodeHeartbeatFailure, CodeParseFailure, CodeSchemaValidation,
	CodeAgentNotFound, CodeModelUnavailable, CodeAllModelsExhausted, CodeFileNotFound,
	CodePermissionDenied, CodeContextOverflow, CodePayloadSizeWarning, CodeMalformedResponse,
	CodeDependencyFailed, CodeMaxDepthExceeded, CodeProcessCrash, CodeCostLimitExceeded,
	CodeRollbackFailed, CodeUnknown,
}

// ParseCode resolves a wire string to a Code. Unrecognized input maps to CodeUnknown.
func ParseCode(s string) Code {
	switch c := Code(s); c {
	case CodeTimeout, CodeHeartbeatFailure, CodeParseFailure, CodeSchemaValidation,
		CodeAgentNotFound, CodeModelUnavailable, CodeAllModelsExhausted, CodeFileNotFound,
		CodePermissionDenied, CodeContextOverflow, CodePayloadSizeWarning, CodeMalformedResponse,
		CodeDependencyFailed, CodeMaxDepthExceeded, CodeProcessCrash, CodeCostLimitExceeded,
		CodeRollbackFailed, CodeUnknown:
		return c
	default:
		return CodeUnknown
	}
}

// DefaultMessage returns the catalog description of a code.
func (c Code) DefaultMessage() string {
	switch c {
	case CodeTimeout:
		return "task exceeded timeout"
	case CodeHeartbeatFailure:
		return "heartbeat failure detected"
	case CodeParseFailure:
		return "failed to parse input"
	case CodeSchemaValidation:
		return "schema validation failed"
	case CodeAgentNotFound:
		return "agent not found"
	case CodeModelUnavailable:
		return "model unavailable"
	case CodeAllModelsExhausted:
		return "all alternative models exhausted"
	case CodeFileNotFound:
		return "file not found"
	case CodePermissionDenied:
		return "permission denied"
	case CodeContextOverflow:
		return "payload exceeds hard size limit"
	case CodePayloadSizeWarning:
		return "payload exceeds soft size limit"
	case CodeMalformedResponse:
		return "malformed response"
	case CodeDependencyFailed:
		return "dependency task failed"
	case CodeMaxDepthExceeded:
		return "maximum delegation depth exceeded"
	case CodeProcessCrash:
		return "executor process crashed"
	case CodeCostLimitExceeded:
		return "cost limit exceeded"
	case CodeRollbackFailed:
		return "rollback failed"
	default:
		return "unknown error"
	}
}

// Error is a protocol error. It serializes to {error_code, message, details}.
type Error struct {
	Code    Code           `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// New builds an Error. An empty message falls back to the code's catalog text;
// a nil details map is replaced with an empty one.
func New(code Code, message string, details map[string]any) *Error {
	if message == "" {
		message = code.DefaultMessage()
	}
	if details == nil {
		details = map[string]any{}
	}
	return &Error{Code: ParseCode(string(code)), Message: message, Details: details}
}

// Newf builds an Error with a formatted message and no details.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is reports whether target is an *Error with the same code, so the sentinels
// below work with errors.Is regardless of message or details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err. Nil yields "", non-protocol errors yield CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Sentinels for errors.Is matching.
var (
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrParseFailure       = &Error{Code: CodeParseFailure}
	ErrSchemaValidation   = &Error{Code: CodeSchemaValidation}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied}
	ErrContextOverflow    = &Error{Code: CodeContextOverflow}
	ErrPayloadSizeWarning = &Error{Code: CodePayloadSizeWarning}
	ErrCostLimitExceeded  = &Error{Code: CodeCostLimitExceeded}
	ErrRollbackFailed     = &Error{Code: CodeRollbackFailed}
)
