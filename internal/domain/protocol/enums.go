package protocol

import (
	"fmt"
	"slices"
)

// enumSet is the closed value set of one enum type.
type enumSet[T ~string] []T

func (s enumSet[T]) decode(dst *T, kind string, text []byte) error {
	v := T(text)
	if !slices.Contains(s, v) {
		return fmt.Errorf("invalid %s %q", kind, text)
	}
	*dst = v
	return nil
}

func (s enumSet[T]) strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// MessageType is a closed enum checked at decode time.
type MessageType string

const (
	MessageTypeTask     MessageType = "TASK"
	MessageTypeResponse MessageType = "RESPONSE"
	MessageTypeEvent    MessageType = "EVENT"
)

var messageTypeValues = enumSet[MessageType]{MessageTypeTask, MessageTypeResponse, MessageTypeEvent}

func (v *MessageType) UnmarshalText(b []byte) error { return messageTypeValues.decode(v, "message type", b) }

// EnumValues lists the accepted wire values.
func (MessageType) EnumValues() []string { return messageTypeValues.strings() }

type AgentRole string

const (
	RoleOrchestrator AgentRole = "ORCHESTRATOR"
	RoleExecutor     AgentRole = "EXECUTOR"
	RoleSpecialist   AgentRole = "SPECIALIST"
)

var agentRoleValues = enumSet[AgentRole]{RoleOrchestrator, RoleExecutor, RoleSpecialist}

func (v *AgentRole) UnmarshalText(b []byte) error { return agentRoleValues.decode(v, "agent role", b) }

func (AgentRole) EnumValues() []string { return agentRoleValues.strings() }

type Provider string

const (
	ProviderClaude Provider = "CLAUDE"
	ProviderCodex  Provider = "CODEX"
	ProviderGemini Provider = "GEMINI"
	ProviderLocal  Provider = "LOCAL"
	ProviderOther  Provider = "OTHER"
)

var providerValues = enumSet[Provider]{ProviderClaude, ProviderCodex, ProviderGemini, ProviderLocal, ProviderOther}

func (v *Provider) UnmarshalText(b []byte) error { return providerValues.decode(v, "provider", b) }

func (Provider) EnumValues() []string { return providerValues.strings() }

type TaskCategory string

const (
	CategoryAnalysis        TaskCategory = "ANALYSIS"
	CategoryCodeGeneration  TaskCategory = "CODE_GENERATION"
	CategoryCodeRefactoring TaskCategory = "CODE_REFACTORING"
	CategoryTesting         TaskCategory = "TESTING"
	CategoryDebugging       TaskCategory = "DEBUGGING"
	CategoryDocumentation   TaskCategory = "DOCUMENTATION"
	CategoryPlanning        TaskCategory = "PLANNING"
	CategoryReview          TaskCategory = "REVIEW"
	CategoryOther           TaskCategory = "OTHER"
)

var taskCategoryValues = enumSet[TaskCategory]{CategoryAnalysis, CategoryCodeGeneration, CategoryCodeRefactoring, CategoryTesting, CategoryDebugging, CategoryDocumentation, CategoryPlanning, CategoryReview, CategoryOther}

func (v *TaskCategory) UnmarshalText(b []byte) error { return taskCategoryValues.decode(v, "task category", b) }

func (TaskCategory) EnumValues() []string { return taskCategoryValues.strings() }

type Complexity string

const (
	ComplexityLow      Complexity = "LOW"
	ComplexityMedium   Complexity = "MEDIUM"
	ComplexityHigh     Complexity = "HIGH"
	ComplexityCritical Complexity = "CRITICAL"
)

var complexityValues = enumSet[Complexity]{ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityCritical}

func (v *Complexity) UnmarshalText(b []byte) error { return complexityValues.decode(v, "task complexity", b) }

func (Complexity) EnumValues() []string { return complexityValues.strings() }

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorityValues = enumSet[Priority]{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

func (v *Priority) UnmarshalText(b []byte) error { return priorityValues.decode(v, "task priority", b) }

func (Priority) EnumValues() []string { return priorityValues.strings() }

type WorkflowPattern string

const (
	WorkflowSingle       WorkflowPattern = "SINGLE"
	WorkflowChain        WorkflowPattern = "CHAIN"
	WorkflowParallel     WorkflowPattern = "PARALLEL"
	WorkflowMapReduce    WorkflowPattern = "MAP_REDUCE"
	WorkflowHierarchical WorkflowPattern = "HIERARCHICAL"
)

var workflowPatternValues = enumSet[WorkflowPattern]{WorkflowSingle, WorkflowChain, WorkflowParallel, WorkflowMapReduce, WorkflowHierarchical}

func (v *WorkflowPattern) UnmarshalText(b []byte) error { return workflowPatternValues.decode(v, "workflow pattern", b) }

func (WorkflowPattern) EnumValues() []string { return workflowPatternValues.strings() }

type NetworkAccess string

const (
	NetworkNone       NetworkAccess = "NONE"
	NetworkRestricted NetworkAccess = "RESTRICTED"
	NetworkFull       NetworkAccess = "FULL"
)

var networkAccessValues = enumSet[NetworkAccess]{NetworkNone, NetworkRestricted, NetworkFull}

func (v *NetworkAccess) UnmarshalText(b []byte) error { return networkAccessValues.decode(v, "network access level", b) }

func (NetworkAccess) EnumValues() []string { return networkAccessValues.strings() }

type ExecutionProfile string

const (
	ProfileFast     ExecutionProfile = "fast"
	ProfileBalanced ExecutionProfile = "balanced"
	ProfileThorough ExecutionProfile = "thorough"
)

var executionProfileValues = enumSet[ExecutionProfile]{ProfileFast, ProfileBalanced, ProfileThorough}

func (v *ExecutionProfile) UnmarshalText(b []byte) error { return executionProfileValues.decode(v, "execution profile", b) }

func (ExecutionProfile) EnumValues() []string { return executionProfileValues.strings() }

type TaskState string

const (
	StatePending    TaskState = "PENDING"
	StateInProgress TaskState = "IN_PROGRESS"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
	StateAborted    TaskState = "ABORTED"
	StateSkipped    TaskState = "SKIPPED"
)

var taskStateValues = enumSet[TaskState]{StatePending, StateInProgress, StateCompleted, StateFailed, StateAborted, StateSkipped}

func (v *TaskState) UnmarshalText(b []byte) error { return taskStateValues.decode(v, "task state", b) }

func (TaskState) EnumValues() []string { return taskStateValues.strings() }

type FinalSignal string

const (
	SignalSuccess        FinalSignal = "SUCCESS"
	SignalPartialSuccess FinalSignal = "PARTIAL_SUCCESS"
	SignalFailure        FinalSignal = "FAILURE"
	SignalAborted        FinalSignal = "ABORTED"
)

var finalSignalValues = enumSet[FinalSignal]{SignalSuccess, SignalPartialSuccess, SignalFailure, SignalAborted}

func (v *FinalSignal) UnmarshalText(b []byte) error { return finalSignalValues.decode(v, "final signal", b) }

func (FinalSignal) EnumValues() []string { return finalSignalValues.strings() }

type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "PENDING"
	CheckpointPass    CheckpointStatus = "PASS"
	CheckpointFail    CheckpointStatus = "FAIL"
	CheckpointSkip    CheckpointStatus = "SKIP"
)

var checkpointStatusValues = enumSet[CheckpointStatus]{CheckpointPending, CheckpointPass, CheckpointFail, CheckpointSkip}

func (v *CheckpointStatus) UnmarshalText(b []byte) error { return checkpointStatusValues.decode(v, "checkpoint status", b) }

func (CheckpointStatus) EnumValues() []string { return checkpointStatusValues.strings() }

type RecoveryStrategy string

const (
	RecoveryRetry    RecoveryStrategy = "RETRY"
	RecoveryAbort    RecoveryStrategy = "ABORT"
	RecoveryContinue RecoveryStrategy = "CONTINUE"
)

var recoveryStrategyValues = enumSet[RecoveryStrategy]{RecoveryRetry, RecoveryAbort, RecoveryContinue}

func (v *RecoveryStrategy) UnmarshalText(b []byte) error { return recoveryStrategyValues.decode(v, "recovery strategy", b) }

func (RecoveryStrategy) EnumValues() []string { return recoveryStrategyValues.strings() }

type ValidationExpectation string

const (
	ExpectExitCode0  ValidationExpectation = "EXIT_CODE_0"
	ExpectMatchFound ValidationExpectation = "MATCH_FOUND"
	ExpectNoMatch    ValidationExpectation = "NO_MATCH"
	ExpectFileExists ValidationExpectation = "FILE_EXISTS"
)

var validationExpectationValues = enumSet[ValidationExpectation]{ExpectExitCode0, ExpectMatchFound, ExpectNoMatch, ExpectFileExists}

func (v *ValidationExpectation) UnmarshalText(b []byte) error { return validationExpectationValues.decode(v, "validation expectation", b) }

func (ValidationExpectation) EnumValues() []string { return validationExpectationValues.strings() }

type SnapshotStrategy string

const (
	SnapshotCopy     SnapshotStrategy = "COPY"
	SnapshotGitStash SnapshotStrategy = "GIT_STASH"
	SnapshotDiff     SnapshotStrategy = "DIFF"
)

var snapshotStrategyValues = enumSet[SnapshotStrategy]{SnapshotCopy, SnapshotGitStash, SnapshotDiff}

func (v *SnapshotStrategy) UnmarshalText(b []byte) error { return snapshotStrategyValues.decode(v, "snapshot strategy", b) }

func (SnapshotStrategy) EnumValues() []string { return snapshotStrategyValues.strings() }

type FallbackTrigger string

const (
	TriggerTimeout           FallbackTrigger = "TIMEOUT"
	TriggerFirstError        FallbackTrigger = "FIRST_ERROR"
	TriggerCriticalError     FallbackTrigger = "CRITICAL_ERROR"
	TriggerAllErrors         FallbackTrigger = "ALL_ERRORS"
	TriggerCostLimitExceeded FallbackTrigger = "COST_LIMIT_EXCEEDED"
)

var fallbackTriggerValues = enumSet[FallbackTrigger]{TriggerTimeout, TriggerFirstError, TriggerCriticalError, TriggerAllErrors, TriggerCostLimitExceeded}

func (v *FallbackTrigger) UnmarshalText(b []byte) error { return fallbackTriggerValues.decode(v, "fallback trigger", b) }

func (FallbackTrigger) EnumValues() []string { return fallbackTriggerValues.strings() }

type HeartbeatAction string

const (
	HeartbeatAbort    HeartbeatAction = "ABORT"
	HeartbeatWarn     HeartbeatAction = "WARN"
	HeartbeatContinue HeartbeatAction = "CONTINUE"
)

var heartbeatActionValues = enumSet[HeartbeatAction]{HeartbeatAbort, HeartbeatWarn, HeartbeatContinue}

func (v *HeartbeatAction) UnmarshalText(b []byte) error { return heartbeatActionValues.decode(v, "heartbeat action", b) }

func (HeartbeatAction) EnumValues() []string { return heartbeatActionValues.strings() }

type OnFailureAction string

const (
	OnFailureReportAndContinue OnFailureAction = "REPORT_AND_CONTINUE"
	OnFailureAbortSession      OnFailureAction = "ABORT_SESSION"
	OnFailureRetry             OnFailureAction = "RETRY"
)

var onFailureActionValues = enumSet[OnFailureAction]{OnFailureReportAndContinue, OnFailureAbortSession, OnFailureRetry}

func (v *OnFailureAction) UnmarshalText(b []byte) error { return onFailureActionValues.decode(v, "on-failure action", b) }

func (OnFailureAction) EnumValues() []string { return onFailureActionValues.strings() }

type ArtifactStatus string

const (
	ArtifactCreated   ArtifactStatus = "CREATED"
	ArtifactUpdated   ArtifactStatus = "UPDATED"
	ArtifactDeleted   ArtifactStatus = "DELETED"
	ArtifactUnchanged ArtifactStatus = "UNCHANGED"
)

var artifactStatusValues = enumSet[ArtifactStatus]{ArtifactCreated, ArtifactUpdated, ArtifactDeleted, ArtifactUnchanged}

func (v *ArtifactStatus) UnmarshalText(b []byte) error { return artifactStatusValues.decode(v, "artifact status", b) }

func (ArtifactStatus) EnumValues() []string { return artifactStatusValues.strings() }
