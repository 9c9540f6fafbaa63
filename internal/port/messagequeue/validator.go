package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectAuditRecords+"."):
		var p RecordPublishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.AuditRecordID == "" || p.SessionID == "" {
			return fmt.Errorf("schema validation failed for %s: audit_record_id and session_id are required", subject)
		}
		if kind := strings.TrimPrefix(subject, SubjectAuditRecords+"."); p.RecordType != kind {
			return fmt.Errorf("schema validation failed for %s: record_type %q does not match subject", subject, p.RecordType)
		}
	case subject == SubjectAuditFallback:
		var p FallbackEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Event == "" {
			return fmt.Errorf("schema validation failed for %s: event is required", subject)
		}
	}
	return nil
}
