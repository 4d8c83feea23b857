package flow

import "time"

// StepStatus is the lifecycle state of a single step instance.
type StepStatus string

const (
	StepPending    StepStatus = "Pending"
	StepInProgress StepStatus = "InProgress"
	StepCompleted  StepStatus = "Completed"
	StepFailed     StepStatus = "Failed"
	StepSkipped    StepStatus = "Skipped"
	StepPaused     StepStatus = "Paused"
)

// Terminal reports whether a step in this status will not run again on its
// own (Paused steps are terminal only from the scheduler's current-tick
// point of view; the retry service can revive them).
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// SatisfiesDependency reports whether a step in this status satisfies
// another step's stepDependencies entry (spec §4.3: "Completed or Skipped").
func (s StepStatus) SatisfiesDependency() bool {
	return s == StepCompleted || s == StepSkipped
}

// DataDependency is one declared input a step requires from the data
// context before it becomes runnable.
type DataDependency struct {
	Key          string    `json:"key"`
	ExpectedKind ValueKind `json:"expectedKind"`
	SchemaTag    string    `json:"schemaTag,omitempty"`
}

// StepResult is what a step execution returns (spec §6 step execution
// contract). isSuccess = false is equivalent to a thrown error for retry
// classification purposes.
type StepResult struct {
	IsSuccess      bool                `json:"isSuccess"`
	Message        string              `json:"message,omitempty"`
	Data           map[string]Value    `json:"data,omitempty"`
	TriggeredFlows []TriggerRequest    `json:"triggeredFlows,omitempty"`
	BranchHint     string              `json:"branchHint,omitempty"`
	Error          *StepError          `json:"error,omitempty"`
}

// TriggerRequest asks the scheduler's host to start a new child flow.
type TriggerRequest struct {
	FlowType string `json:"flowType"`
}

// TriggeredFlow records a child flow spawned by a step, as observed by the
// parent (spec §3 "triggeredFlows").
type TriggeredFlow struct {
	FlowID          string     `json:"flowId,omitempty"`
	FlowType        string     `json:"flowType"`
	Status          Status     `json:"status,omitempty"`
	TriggeredByStep string     `json:"triggeredByStep"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
}

// ErrorKind classifies a step error for retry-policy purposes (spec §7).
type ErrorKind string

const (
	ErrorKindTransient             ErrorKind = "Transient"
	ErrorKindBusiness              ErrorKind = "Business"
	ErrorKindTimeout               ErrorKind = "Timeout"
	ErrorKindInterruptedNonIdempotent ErrorKind = "InterruptedNonIdempotent"
	ErrorKindInternal              ErrorKind = "Internal"
)

// StepError is the error payload attached to a failed step instance.
type StepError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace,omitempty"`
}

// Retryable reports whether this error kind is eligible for automatic retry.
func (e *StepError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == ErrorKindTransient || e.Kind == ErrorKindTimeout
}

// Branch is a conditional or default successor path emitted by a step.
type Branch struct {
	Name          string           `json:"name"`
	IsDefault     bool             `json:"isDefault"`
	IsConditional bool             `json:"isConditional"`
	// Condition is a pure predicate over the data context, evaluated by the
	// scheduler's condition evaluator (see scheduler's evaluateCondition).
	Condition string               `json:"condition,omitempty"`
	Steps     []StepDefinition     `json:"steps"`
}

// StepDefinition is the static, catalog-registered metadata and execution
// contract for one step (spec §4.1).
type StepDefinition struct {
	Name             string           `json:"name"`
	IsCritical       bool             `json:"isCritical"`
	IsIdempotent     bool             `json:"isIdempotent"`
	CanRunInParallel bool             `json:"canRunInParallel"`
	MaxRetries       int              `json:"maxRetries"`
	RetryDelay       time.Duration    `json:"retryDelay"`
	Timeout          time.Duration    `json:"timeout"`
	Priority         int              `json:"priority"`
	ResourceGroup    string           `json:"resourceGroup,omitempty"`
	StepDependencies []string         `json:"stepDependencies,omitempty"`
	DataDependencies []DataDependency `json:"dataDependencies,omitempty"`
	Branches         []Branch         `json:"branches,omitempty"`
	AwaitTriggered   bool             `json:"awaitTriggered,omitempty"`

	// Execute is the pure execution contract: given a read-only data view
	// and a cancellation signal, produce a StepResult. It must not be
	// invoked directly by engine callers; the scheduler owns dispatch.
	Execute func(ctx ExecContext) StepResult `json:"-"`
}

// ExecContext is what a step implementation receives (spec §6).
type ExecContext struct {
	FlowID        string
	FlowType      string
	Data          DataView
	Cancel        <-chan struct{}
	AttemptNumber int
}

// DataView is the read-only view of a data context a running step observes,
// captured at launch (spec §4.2 concurrency rule).
type DataView interface {
	Get(key string) (Value, bool)
}

// StepInstance is the durable, per-flow record of one step (spec §3).
type StepInstance struct {
	Name             string     `json:"name"`
	Status           StepStatus `json:"status"`
	IsCritical       bool       `json:"isCritical"`
	IsIdempotent     bool       `json:"isIdempotent"`
	CanRunInParallel bool       `json:"canRunInParallel"`
	MaxRetries       int        `json:"maxRetries"`
	RetryDelay       time.Duration `json:"retryDelay"`
	Timeout          time.Duration `json:"timeout"`
	Priority         int        `json:"priority"`
	ResourceGroup    string     `json:"resourceGroup,omitempty"`
	Index            int        `json:"index"`
	// BranchDepth is how many branch splices produced this step: 0 for a
	// top-level catalog step, parent.BranchDepth+1 for a spliced branch step
	// (spec §9 "BranchNestingExceeded" cap).
	BranchDepth int `json:"branchDepth,omitempty"`

	StepDependencies []string         `json:"stepDependencies,omitempty"`
	DataDependencies []DataDependency `json:"dataDependencies,omitempty"`
	Branches         []Branch         `json:"branches,omitempty"`
	AwaitTriggered   bool             `json:"awaitTriggered,omitempty"`

	Attempts int `json:"attempts"`

	Result *StepResult `json:"result,omitempty"`
	Error  *StepError  `json:"error,omitempty"`

	TriggeredFlows []TriggeredFlow `json:"triggeredFlows,omitempty"`

	// ResumeAt is set when Status == Paused due to retry backoff; the Retry
	// Service resumes the flow once time.Now() >= ResumeAt.
	ResumeAt *time.Time `json:"resumeAt,omitempty"`
}

func (s StepInstance) clone() StepInstance {
	clone := s
	clone.StepDependencies = append([]string(nil), s.StepDependencies...)
	clone.DataDependencies = append([]DataDependency(nil), s.DataDependencies...)
	clone.Branches = append([]Branch(nil), s.Branches...)
	clone.TriggeredFlows = append([]TriggeredFlow(nil), s.TriggeredFlows...)
	return clone
}

// FromDefinition builds a fresh Pending StepInstance from catalog metadata,
// at the given flow-sequence index.
func FromDefinition(def StepDefinition, index int) StepInstance {
	return StepInstance{
		Name:             def.Name,
		Status:           StepPending,
		IsCritical:       def.IsCritical,
		IsIdempotent:     def.IsIdempotent,
		CanRunInParallel: def.CanRunInParallel,
		MaxRetries:       def.MaxRetries,
		RetryDelay:       def.RetryDelay,
		Timeout:          def.Timeout,
		Priority:         def.Priority,
		ResourceGroup:    def.ResourceGroup,
		Index:            index,
		StepDependencies: def.StepDependencies,
		DataDependencies: def.DataDependencies,
		Branches:         def.Branches,
		AwaitTriggered:   def.AwaitTriggered,
	}
}
