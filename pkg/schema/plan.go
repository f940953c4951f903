package schema

// WorkflowPlan is the JSON-serializable plan format produced by an upstream
// planner. It is treated as an unvalidated DTO until the plan validator has
// run; after validation it is immutable for the lifetime of one run.
type WorkflowPlan struct {
	OriginalQuery    string          `json:"original_query"`
	Strategy         StrategyType    `json:"strategy"`
	Stages           []WorkflowStage `json:"stages"`
	SynthesizerID    int64           `json:"synthesizer_id,omitempty"` // 0 = NoopExecutorID = no synthesis
	RequiresQA       bool            `json:"requires_qa,omitempty"`
	EstimatedSeconds int             `json:"estimated_seconds,omitempty"` // advisory only
	InitialActions   []ActionConfig  `json:"initial_actions,omitempty"`
	FinalActions     []ActionConfig  `json:"final_actions,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// WorkflowStage is a barrier unit: the engine moves to the next stage only
// once every node of this one reached a terminal state.
type WorkflowStage struct {
	Type  StageType      `json:"type"`
	Nodes []WorkflowNode `json:"nodes"`
}

// WorkflowNode is one assigned unit of work, bound 1:1 to a task record.
type WorkflowNode struct {
	ExecutorID    int64          `json:"executor_id"`
	ExecutorName  string         `json:"executor_name,omitempty"` // display/audit; repaired from registry truth
	Input         string         `json:"input"`
	Rationale     string         `json:"rationale,omitempty"` // audit trail, never control flow
	InputActions  []ActionConfig `json:"input_actions,omitempty"`
	OutputActions []ActionConfig `json:"output_actions,omitempty"`
}

// ActionConfig is an inert side-effect/transform step dispatched through the
// action registry by method name. Lower priority runs first; ties keep
// declaration order.
type ActionConfig struct {
	Method   string         `json:"method"`
	Params   map[string]any `json:"params,omitempty"`
	Priority int            `json:"priority,omitempty"` // 0 means DefaultActionPriority
}

// DefaultActionPriority is applied when an ActionConfig omits priority.
const DefaultActionPriority = 100

// EffectivePriority returns the priority with the default applied.
func (a ActionConfig) EffectivePriority() int {
	if a.Priority == 0 {
		return DefaultActionPriority
	}
	return a.Priority
}

// StrategyType is the declared shape of a plan. It must agree with the
// stages structure (enforced by the plan validator).
type StrategyType string

const (
	StrategySimple     StrategyType = "simple"
	StrategySequential StrategyType = "sequential"
	StrategyParallel   StrategyType = "parallel"
	StrategyMixed      StrategyType = "mixed"
)

// StageType is the execution discipline for a stage's own nodes.
type StageType string

const (
	StageParallel   StageType = "parallel"
	StageSequential StageType = "sequential"
)

// ExecutorRole classifies what an executor can be assigned as.
type ExecutorRole string

const (
	RoleIndividual  ExecutorRole = "individual"
	RoleSynthesizer ExecutorRole = "synthesizer"
	RoleQA          ExecutorRole = "qa"
)

// NoopExecutorID is the registry's reserved sentinel. A SynthesizerID equal
// to it means "no synthesis", same as absent.
const NoopExecutorID int64 = 0

// NodeCount returns the total number of nodes across all stages.
func (p *WorkflowPlan) NodeCount() int {
	n := 0
	for _, st := range p.Stages {
		n += len(st.Nodes)
	}
	return n
}

// WantsSynthesis reports whether the plan requests a synthesis step.
func (p *WorkflowPlan) WantsSynthesis() bool {
	return p.SynthesizerID != NoopExecutorID
}
