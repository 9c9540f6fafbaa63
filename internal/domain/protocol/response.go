package protocol

import "time"

// Response is a RESPONSE message returned by an executor.
type Response struct {
	VersionHeader
	MessageType       MessageType        `json:"message_type,omitempty"`
	SessionID         string             `json:"session_id"`
	TaskID            string             `json:"task_id"`
	Agent             Agent              `json:"agent"`
	TaskStatus        TaskStatus         `json:"task_status"`
	ExecutionSummary  ExecutionSummary   `json:"execution_summary"`
	CheckpointResults []CheckpointResult `json:"checkpoint_results,omitempty"`
	ErrorDetails      *ErrorDetails      `json:"error_details,omitempty"`
	Timing            Timing             `json:"timing"`
	CostTracking      *CostTracking      `json:"cost_tracking,omitempty"`
	ProgressLog       *ProgressLog       `json:"progress_log,omitempty"`
	Extensions        Extensions         `json:"extensions,omitempty"`
}

type Agent struct {
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
}

type TaskStatus struct {
	State       TaskState   `json:"state"`
	FinalSignal FinalSignal `json:"final_signal"`
	Message     string      `json:"message"`
}

type ExecutionSummary struct {
	Summary         string           `json:"summary"`
	Actions         []string         `json:"actions"`
	OutputArtifacts []OutputArtifact `json:"output_artifacts,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
	Extensions      Extensions       `json:"extensions,omitempty"`
}

type OutputArtifact struct {
	Type      string         `json:"type"`
	Path      string         `json:"path"`
	Hash      string         `json:"hash,omitempty"`
	Status    ArtifactStatus `json:"status"`
	SizeBytes *int64         `json:"size_bytes,omitempty"`
}

type CheckpointResult struct {
	CheckpointID     string           `json:"checkpoint_id"`
	Status           CheckpointStatus `json:"status"`
	ValidationOutput string           `json:"validation_output,omitempty"`
	Evidence         []string         `json:"evidence,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

// ErrorDetails is the executor's structured error report. ErrorCode is kept
// as received; resolve it with aoperr.ParseCode.
type ErrorDetails struct {
	ErrorCode           string   `json:"error_code"`
	Message             string   `json:"message"`
	StackTrace          string   `json:"stack_trace,omitempty"`
	RecoverySuggestions []string `json:"recovery_suggestions,omitempty"`
}

type Timing struct {
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationSeconds  int       `json:"duration_seconds"`
	RetriesAttempted int       `json:"retries_attempted,omitempty"`
}

type CostTracking struct {
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`
	ActualCostUSD    *float64 `json:"actual_cost_usd,omitempty"`
	TokensInput      *int     `json:"tokens_input,omitempty"`
	TokensOutput     *int     `json:"tokens_output,omitempty"`
	ModelPricingTier string   `json:"model_pricing_tier,omitempty"`
}

type ProgressLog struct {
	LastProgressEventAt *time.Time `json:"last_progress_event_at,omitempty"`
	ProgressPercentage  *int       `json:"progress_percentage,omitempty" jsonschema:"minimum=0,maximum=100"`
}

// DecodeResponse strictly decodes and validates a RESPONSE message.
func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := decodeStrict(data, &r, "response"); err != nil {
		return nil, err
	}
	if err := r.Normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Normalize fills the header defaults of a response built in code and
// validates the result.
func (r *Response) Normalize() error {
	r.ApplyDefaults()
	return r.Validate()
}

// ApplyDefaults fills the version header and message type RESPONSE.
func (r *Response) ApplyDefaults() {
	r.VersionHeader.applyDefaults()
	if r.MessageType == "" {
		r.MessageType = MessageTypeResponse
	}
}

// Validate enforces required fields and the hard size limit of a RESPONSE.
// The final signal, a non-empty summary and a non-empty action list are
// always required here, independent of any guard rail flags: audit and
// session summaries depend on them.
func (r *Response) Validate() error {
	var p problems
	r.VersionHeader.validate(&p)
	p.check(r.MessageType == MessageTypeResponse, "message_type must be RESPONSE, got %q", r.MessageType)

	p.require(r.SessionID != "", "session_id")
	p.require(r.TaskID != "", "task_id")
	p.require(r.Agent.Name != "", "agent.name")
	p.require(r.Agent.Provider != "", "agent.provider")
	p.require(r.Agent.Model != "", "agent.model")
	p.require(r.TaskStatus.State != "", "task_status.state")
	p.check(r.TaskStatus.FinalSignal != "", "require_final_signal: final_signal is required")
	p.check(r.ExecutionSummary.Summary != "" && len(r.ExecutionSummary.Actions) > 0,
		"require_minimal_report: summary and actions are required")
	p.require(!r.Timing.StartedAt.IsZero(), "timing.started_at")
	p.require(!r.Timing.CompletedAt.IsZero(), "timing.completed_at")

	for _, a := range r.ExecutionSummary.OutputArtifacts {
		p.require(a.Type != "" && a.Path != "" && a.Status != "",
			"execution_summary.output_artifacts[].{type,path,status}")
	}
	for _, c := range r.CheckpointResults {
		p.require(c.CheckpointID != "" && c.Status != "", "checkpoint_results[].{checkpoint_id,status}")
	}
	if r.ErrorDetails != nil {
		p.require(r.ErrorDetails.ErrorCode != "", "error_details.error_code")
	}
	if pl := r.ProgressLog; pl != nil && pl.ProgressPercentage != nil {
		pct := *pl.ProgressPercentage
		p.check(pct >= 0 && pct <= 100, "progress_log.progress_percentage must be within 0..100")
	}

	if err := p.err("response"); err != nil {
		return err
	}

	size, err := SerializedSize(r)
	if err != nil {
		return err
	}
	p.check(size <= MaxResponseBytes, "response exceeds %d byte limit: %d bytes", MaxResponseBytes, size)
	return p.err("response")
}

// ActualCost returns the reported actual cost, or 0 when none was tracked.
func (r *Response) ActualCost() float64 {
	if r.CostTracking == nil || r.CostTracking.ActualCostUSD == nil {
		return 0
	}
	return *r.CostTracking.ActualCostUSD
}
