// Package protocol defines the message model of the agent orchestration
// protocol: the TASK envelope sent to executors and the RESPONSE they return.
//
// Messages are decoded strictly. Unknown fields are rejected, every enum is
// checked against its closed value set while decoding, and Validate enforces
// the structural invariants (required fields, hard payload limits) so that a
// value that passed DecodeEnvelope or DecodeResponse is legal by construction.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
)

// Protocol identifiers written into the version header.
const (
	CurrentVersion     = "2.0.2-C"
	CurrentSchema      = "2.0.2"
	ProtocolFamily     = "AOP"
	CurrentMajorPrefix = "2."
)

// Payload limits. Hard limits block, soft limits only warn.
const (
	MaxEnvelopeBytes        = 200_000
	MaxResponseBytes        = 500_000
	MaxObjectiveChars       = 50_000
	SoftObjectiveChars      = 40_000
	MaxInputs               = 100
	MaxExpectedOutputs      = 50
	SoftPhases              = 10
	SoftCheckpointsPerPhase = 20
	SoftActions             = 200
	DefaultTimeoutSeconds   = 1800
)

// VersionHeader is embedded in every protocol message.
type VersionHeader struct {
	AOPVersion     string `json:"aop_version,omitempty"`
	SchemaVersion  string `json:"schema_version,omitempty"`
	ProtocolFamily string `json:"protocol_family,omitempty"`
}

func (h *VersionHeader) applyDefaults() {
	if h.AOPVersion == "" {
		h.AOPVersion = CurrentVersion
	}
	if h.SchemaVersion == "" {
		h.SchemaVersion = CurrentSchema
	}
	if h.ProtocolFamily == "" {
		h.ProtocolFamily = ProtocolFamily
	}
}

func (h *VersionHeader) validate(v *problems) {
	v.check(h.ProtocolFamily == ProtocolFamily, "protocol_family must be %q", ProtocolFamily)
}

// IsCurrentVersion reports whether a version string belongs to the current major revision.
func IsCurrentVersion(version string) bool {
	return strings.HasPrefix(version, CurrentMajorPrefix)
}

// Extensions carries vendor-specific data. Every key must start with "x_".
type Extensions map[string]any

func (e *Extensions) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k := range m {
		if !strings.HasPrefix(k, "x_") {
			return fmt.Errorf("extension key must start with 'x_': %s", k)
		}
	}
	*e = m
	return nil
}

// SerializedSize returns the length in bytes of v's compact JSON encoding
// without HTML escaping. This is the measure all byte limits apply to.
func SerializedSize(v any) (int, error) {
	data, err := MarshalCompact(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// MarshalCompact encodes v as compact JSON without HTML escaping and without
// the trailing newline json.Encoder appends.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeStrict unmarshals a single JSON value into dst, rejecting unknown
// fields and trailing data. Syntax errors map to E_PARSE_FAILURE, everything
// else (unknown field, wrong type, invalid enum) to E_SCHEMA_VALIDATION.
func decodeStrict(data []byte, dst any, kind string) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return classifyDecodeError(err, kind)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return aoperr.New(aoperr.CodeParseFailure, "trailing data after "+kind, nil)
	}
	return nil
}

func classifyDecodeError(err error, kind string) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return aoperr.New(aoperr.CodeParseFailure, "failed to parse "+kind+" JSON", map[string]any{
			"error": err.Error(),
		})
	}
	return aoperr.New(aoperr.CodeSchemaValidation, kind+" schema validation failed", map[string]any{
		"validation_error": err.Error(),
	})
}

// problems collects structural validation failures for one message.
type problems struct {
	list []string
}

func (p *problems) require(ok bool, field string) {
	if !ok {
		p.list = append(p.list, field+" is required")
	}
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.list = append(p.list, fmt.Sprintf(format, args...))
	}
}

func (p *problems) err(kind string) error {
	if len(p.list) == 0 {
		return nil
	}
	return aoperr.New(aoperr.CodeSchemaValidation, kind+" schema validation failed", map[string]any{
		"validation_error": strings.Join(p.list, "; "),
		"errors":           p.list,
	})
}
