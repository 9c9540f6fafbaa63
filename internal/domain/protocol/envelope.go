package protocol

import (
	"time"
	"unicode/utf8"
)

// Envelope is a TASK message sent from the orchestrator to an executor.
type Envelope struct {
	VersionHeader
	MessageType           MessageType            `json:"message_type,omitempty"`
	Session               Session                `json:"session"`
	Target                Target                 `json:"target"`
	Task                  Task                   `json:"task"`
	ExecutionPolicy       *ExecutionPolicy       `json:"execution_policy,omitempty"`
	GuardRails            *GuardRails            `json:"guard_rails,omitempty"`
	Phases                []Phase                `json:"phases,omitempty"`
	OrchestrationMetadata *OrchestrationMetadata `json:"orchestration_metadata,omitempty"`
	Extensions            Extensions             `json:"extensions,omitempty"`
}

type Session struct {
	SessionID       string           `json:"session_id"`
	CreatedAt       time.Time        `json:"created_at"`
	Orchestrator    string           `json:"orchestrator"`
	Origin          string           `json:"origin"`
	WorkflowPattern *WorkflowPattern `json:"workflow_pattern,omitempty"`
	Extensions      Extensions       `json:"extensions,omitempty"`
}

type Target struct {
	AgentName        string             `json:"agent_name"`
	Role             AgentRole          `json:"role"`
	Provider         Provider           `json:"provider"`
	Model            string             `json:"model"`
	ExecutionProfile *ExecutionProfile  `json:"execution_profile,omitempty"`
	Capabilities     *AgentCapabilities `json:"capabilities,omitempty"`
	Extensions       Extensions         `json:"extensions,omitempty"`
}

// AgentCapabilities is what the target agent declares it can do. Filesystem,
// when present, bounds the paths the agent may ever touch.
type AgentCapabilities struct {
	AOPVersionsSupported []string          `json:"aop_versions_supported,omitempty"`
	FileSystemAccess     *bool             `json:"file_system_access,omitempty"`
	NetworkAccess        *NetworkAccess    `json:"network_access,omitempty"`
	HeadlessMode         *bool             `json:"headless_mode,omitempty"`
	Filesystem           *FilesystemAccess `json:"filesystem,omitempty"`
}

type Task struct {
	TaskID          string           `json:"task_id"`
	ParentTaskID    string           `json:"parent_task_id,omitempty"`
	Attempt         int              `json:"attempt,omitempty"`
	Objective       string           `json:"objective" jsonschema:"maxLength=50000"`
	Category        TaskCategory     `json:"category"`
	Complexity      Complexity       `json:"complexity"`
	Priority        Priority         `json:"priority,omitempty"`
	Environment     Environment      `json:"environment"`
	Inputs          []TaskInput      `json:"inputs,omitempty" jsonschema:"maxItems=100"`
	ExpectedOutputs []ExpectedOutput `json:"expected_outputs,omitempty" jsonschema:"maxItems=50"`
	Constraints     *Constraints     `json:"constraints,omitempty"`
	Budgets         *Budgets         `json:"budgets,omitempty"`
	Access          *TaskAccess      `json:"access,omitempty"`
	Extensions      Extensions       `json:"extensions,omitempty"`
}

type Environment struct {
	WorkspaceRoot string `json:"workspace_root"`
	OS            string `json:"os,omitempty"`
	Shell         string `json:"shell,omitempty"`
	GitBranch     string `json:"git_branch,omitempty"`
}

type TaskInput struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Content  string `json:"content,omitempty"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

type ExpectedOutput struct {
	Type             string            `json:"type"`
	Path             string            `json:"path,omitempty"`
	Description      string            `json:"description"`
	Validation       *Validation       `json:"validation,omitempty"`
	RollbackSnapshot *RollbackSnapshot `json:"rollback_snapshot,omitempty"`
}

type Validation struct {
	Command string                `json:"command"`
	Expects ValidationExpectation `json:"expects"`
}

type RollbackSnapshot struct {
	Enabled          bool              `json:"enabled,omitempty"`
	SnapshotPath     string            `json:"snapshot_path,omitempty"`
	SnapshotStrategy *SnapshotStrategy `json:"snapshot_strategy,omitempty"`
}

// Constraints is the deprecated predecessor of Budgets and TaskAccess.
// It is still honored when Budgets is absent.
type Constraints struct {
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	MaxCostUSD        *float64       `json:"max_cost_usd,omitempty"`
	ReadOnlyMode      bool           `json:"read_only_mode,omitempty"`
	DelegationAllowed bool           `json:"delegation_allowed,omitempty"`
	NetworkAccess     *NetworkAccess `json:"network_access,omitempty"`
}

type Budgets struct {
	MaxCostUSD *float64 `json:"max_cost_usd,omitempty"`
	MaxTokens  *int     `json:"max_tokens,omitempty"`
}

type FilesystemAccess struct {
	ReadPaths  []string `json:"read_paths,omitempty"`
	WritePaths []string `json:"write_paths,omitempty"`
}

type TaskAccess struct {
	Filesystem *FilesystemAccess `json:"filesystem,omitempty"`
	Network    *NetworkAccess    `json:"network,omitempty"`
}

type Phase struct {
	PhaseID     string       `json:"phase_id"`
	PhaseOrder  int          `json:"phase_order"`
	Label       string       `json:"label"`
	Objective   string       `json:"objective"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
}

type Checkpoint struct {
	CheckpointID      string            `json:"checkpoint_id"`
	Description       string            `json:"description"`
	ExpectedArtifacts []ExpectedOutput  `json:"expected_artifacts,omitempty"`
	Validation        *Validation       `json:"validation,omitempty"`
	Status            CheckpointStatus  `json:"status,omitempty"`
	RecoveryStrategy  *RecoveryStrategy `json:"recovery_strategy,omitempty"`
}

type ExecutionPolicy struct {
	TimeoutSeconds            *int               `json:"timeout_seconds,omitempty"`
	MaxRetries                int                `json:"max_retries,omitempty"`
	RetryBackoffSeconds       []int              `json:"retry_backoff_seconds,omitempty"`
	AbortOnFirstCriticalError bool               `json:"abort_on_first_critical_error,omitempty"`
	AutoTerminateOnTimeout    *bool              `json:"auto_terminate_on_timeout,omitempty"`
	OnFailure                 OnFailureAction    `json:"on_failure,omitempty"`
	AlternativeModels         []AlternativeModel `json:"alternative_models,omitempty"`
	Heartbeat                 *HeartbeatConfig   `json:"heartbeat,omitempty"`
	Extensions                Extensions         `json:"extensions,omitempty"`
}

type AlternativeModel struct {
	Provider        Provider        `json:"provider"`
	Model           string          `json:"model"`
	FallbackTrigger FallbackTrigger `json:"fallback_trigger"`
}

type HeartbeatConfig struct {
	Enabled            bool            `json:"enabled,omitempty"`
	IntervalSeconds    int             `json:"interval_seconds,omitempty"`
	MaxMissedBeats     int             `json:"max_missed_beats,omitempty"`
	OnHeartbeatFailure HeartbeatAction `json:"on_heartbeat_failure,omitempty"`
}

// GuardRails overrides execution policy and mandates response contents.
// The two Require flags default to true when omitted.
type GuardRails struct {
	RequireMinimalReport      *bool      `json:"require_minimal_report,omitempty"`
	RequireFinalSignal        *bool      `json:"require_final_signal,omitempty"`
	AutoTerminateOnTimeout    *bool      `json:"auto_terminate_on_timeout,omitempty"`
	TimeoutSeconds            *int       `json:"timeout_seconds,omitempty"`
	AbortOnFirstCriticalError bool       `json:"abort_on_first_critical_error,omitempty"`
	Extensions                Extensions `json:"extensions,omitempty"`
}

// RequiresMinimalReport reports whether responses must carry a summary and actions.
func (g *GuardRails) RequiresMinimalReport() bool {
	return g != nil && (g.RequireMinimalReport == nil || *g.RequireMinimalReport)
}

// RequiresFinalSignal reports whether responses must carry a final signal.
func (g *GuardRails) RequiresFinalSignal() bool {
	return g != nil && (g.RequireFinalSignal == nil || *g.RequireFinalSignal)
}

type OrchestrationMetadata struct {
	Initiator  string     `json:"initiator,omitempty"`
	SpecAuthor string     `json:"spec_author,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Extensions Extensions `json:"extensions,omitempty"`
}

// DecodeEnvelope strictly decodes and validates a TASK envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeStrict(data, &env, "task envelope"); err != nil {
		return nil, err
	}
	if err := env.Normalize(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Normalize fills the header defaults of an envelope built in code and
// validates the result.
func (e *Envelope) Normalize() error {
	e.ApplyDefaults()
	return e.Validate()
}

// ApplyDefaults fills the fields a decoded envelope would default: version
// header, message type TASK, attempt 1 and NORMAL priority.
func (e *Envelope) ApplyDefaults() {
	e.VersionHeader.applyDefaults()
	if e.MessageType == "" {
		e.MessageType = MessageTypeTask
	}
	if e.Task.Attempt == 0 {
		e.Task.Attempt = 1
	}
	if e.Task.Priority == "" {
		e.Task.Priority = PriorityNormal
	}
}

// Validate enforces required fields and the hard limits of a TASK envelope.
// Soft limits (objective warning threshold, phase and checkpoint counts) are
// left to the guard rail engine.
func (e *Envelope) Validate() error {
	var p problems
	e.VersionHeader.validate(&p)
	p.check(e.MessageType == MessageTypeTask, "message_type must be TASK, got %q", e.MessageType)

	p.require(e.Session.SessionID != "", "session.session_id")
	p.require(!e.Session.CreatedAt.IsZero(), "session.created_at")
	p.require(e.Session.Orchestrator != "", "session.orchestrator")
	p.require(e.Session.Origin != "", "session.origin")

	p.require(e.Target.AgentName != "", "target.agent_name")
	p.require(e.Target.Role != "", "target.role")
	p.require(e.Target.Provider != "", "target.provider")
	p.require(e.Target.Model != "", "target.model")

	t := &e.Task
	p.require(t.TaskID != "", "task.task_id")
	p.require(t.Objective != "", "task.objective")
	p.require(t.Category != "", "task.category")
	p.require(t.Complexity != "", "task.complexity")
	p.require(t.Environment.WorkspaceRoot != "", "task.environment.workspace_root")
	p.check(t.Attempt >= 1, "task.attempt must be >= 1")
	p.check(utf8.RuneCountInString(t.Objective) <= MaxObjectiveChars,
		"task.objective exceeds %d characters", MaxObjectiveChars)
	p.check(len(t.Inputs) <= MaxInputs, "task.inputs cannot exceed %d entries", MaxInputs)
	p.check(len(t.ExpectedOutputs) <= MaxExpectedOutputs,
		"task.expected_outputs cannot exceed %d entries", MaxExpectedOutputs)

	for i := range t.Inputs {
		p.require(t.Inputs[i].Type != "", "task.inputs[].type")
	}
	for i := range t.ExpectedOutputs {
		t.ExpectedOutputs[i].validate(&p, "task.expected_outputs[]")
	}
	for i := range e.Phases {
		ph := &e.Phases[i]
		p.require(ph.PhaseID != "", "phases[].phase_id")
		p.require(ph.Label != "", "phases[].label")
		p.require(ph.Objective != "", "phases[].objective")
		for j := range ph.Checkpoints {
			cp := &ph.Checkpoints[j]
			p.require(cp.CheckpointID != "", "phases[].checkpoints[].checkpoint_id")
			p.require(cp.Description != "", "phases[].checkpoints[].description")
			for k := range cp.ExpectedArtifacts {
				cp.ExpectedArtifacts[k].validate(&p, "phases[].checkpoints[].expected_artifacts[]")
			}
			if cp.Validation != nil {
				cp.Validation.validate(&p, "phases[].checkpoints[].validation")
			}
		}
	}
	if ep := e.ExecutionPolicy; ep != nil {
		for _, alt := range ep.AlternativeModels {
			p.require(alt.Provider != "" && alt.Model != "" && alt.FallbackTrigger != "",
				"execution_policy.alternative_models[].{provider,model,fallback_trigger}")
		}
	}

	if err := p.err("task envelope"); err != nil {
		return err
	}

	size, err := SerializedSize(e)
	if err != nil {
		return err
	}
	if size > MaxEnvelopeBytes {
		p.check(false, "task envelope exceeds %d byte limit: %d bytes", MaxEnvelopeBytes, size)
	}
	return p.err("task envelope")
}

func (o *ExpectedOutput) validate(p *problems, path string) {
	p.require(o.Type != "", path+".type")
	p.require(o.Description != "", path+".description")
	if o.Validation != nil {
		o.Validation.validate(p, path+".validation")
	}
}

func (v *Validation) validate(p *problems, path string) {
	p.require(v.Command != "", path+".command")
	p.require(v.Expects != "", path+".expects")
}

// MaxCostUSD returns the task's cost budget, preferring Budgets over the
// deprecated Constraints. Nil means no budget is configured.
func (t *Task) MaxCostUSD() *float64 {
	if t.Budgets != nil && t.Budgets.MaxCostUSD != nil {
		return t.Budgets.MaxCostUSD
	}
	if t.Budgets == nil && t.Constraints != nil {
		return t.Constraints.MaxCostUSD
	}
	return nil
}

// SupportsCurrentVersion reports whether the declared capabilities include a
// current-major protocol revision.
func (c *AgentCapabilities) SupportsCurrentVersion() bool {
	if c == nil {
		return false
	}
	for _, v := range c.AOPVersionsSupported {
		if IsCurrentVersion(v) {
			return true
		}
	}
	return false
}

// Rank orders network access levels from most to least restrictive.
// Unrecognized values rank as NONE.
func (n NetworkAccess) Rank() int {
	switch n {
	case NetworkRestricted:
		return 1
	case NetworkFull:
		return 2
	default:
		return 0
	}
}
