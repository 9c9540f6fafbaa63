package messagequeue

import "time"

// RecordPublishedPayload is the schema for audit.records.{KIND} messages.
type RecordPublishedPayload struct {
	AuditRecordID string    `json:"audit_record_id"`
	SessionID     string    `json:"session_id"`
	TaskID        string    `json:"task_id"`
	RecordType    string    `json:"record_type"`
	Timestamp     time.Time `json:"timestamp"`
	Location      string    `json:"location"`
}

// FallbackEventPayload is the schema for audit.fallback messages.
type FallbackEventPayload struct {
	Event           string `json:"event"`
	Reason          string `json:"reason"`
	ValidationError string `json:"validation_error"`
	InputPreview    string `json:"input_preview"`
}
