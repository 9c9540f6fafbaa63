package protocol

// Kind is the terminal classification of an inbound message.
type Kind string

const (
	KindCurrent      Kind = "v2"
	KindLegacy       Kind = "v1"
	KindUnstructured Kind = "unstructured"
)

var kindValues = enumSet[Kind]{KindCurrent, KindLegacy, KindUnstructured}

func (k *Kind) UnmarshalText(b []byte) error { return kindValues.decode(k, "protocol kind", b) }

// LegacyKeywords mark free text as a legacy prompt. Matching is case-insensitive.
var LegacyKeywords = []string{"task:", "objective:", "agent:", "executor:", "context:", "requirements:"}

// LegacyPayload wraps legacy or unstructured text as an opaque payload.
type LegacyPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

const (
	LegacyPromptType   = "v1_prompt"
	LegacyResponseType = "v1_response"
)

// Detection is the result of classifying raw input.
type Detection struct {
	Kind              Kind           `json:"version"`
	Raw               string         `json:"-"`
	Envelope          *Envelope      `json:"parsed_envelope,omitempty"`
	Legacy            *LegacyPayload `json:"legacy,omitempty"`
	Err               error          `json:"-"`
	FallbackTriggered bool           `json:"fallback_triggered"`
}

// Routing is the executor routing metadata derived from a Detection.
type Routing struct {
	Version              Kind      `json:"version"`
	UseCurrentExecutor   bool      `json:"use_v2_executor"`
	TransformationNeeded bool      `json:"transformation_needed"`
	FallbackAvailable    bool      `json:"fallback_available"`
	ParsedEnvelope       *Envelope `json:"parsed_envelope,omitempty"`
	RawPrompt            *string   `json:"raw_prompt,omitempty"`
	RawInput             *string   `json:"raw_input,omitempty"`
	FallbackTriggered    *bool     `json:"fallback_triggered,omitempty"`
	Warning              string    `json:"warning,omitempty"`
}

// UnstructuredWarning accompanies routing of unstructured input.
const UnstructuredWarning = "Unstructured input may require manual interpretation"

// FallbackEvent is emitted when a current-protocol message fails validation
// and is downgraded to legacy handling.
type FallbackEvent struct {
	Event           string `json:"event"`
	Reason          string `json:"reason"`
	ValidationError string `json:"validation_error"`
	InputPreview    string `json:"input_preview"`
}

const (
	FallbackEventName   = "VERSION_FALLBACK"
	FallbackReasonV2    = "V2_SCHEMA_VALIDATION_FAILED"
	FallbackPreviewSize = 200
)

// ResponseResult is a validated executor response: a decoded Response for the
// current protocol, an opaque LegacyPayload otherwise.
type ResponseResult struct {
	Kind     Kind           `json:"version"`
	Response *Response      `json:"response,omitempty"`
	Legacy   *LegacyPayload `json:"legacy,omitempty"`
}
