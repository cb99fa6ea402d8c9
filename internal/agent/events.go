package agent

// EventKind discriminates the tagged variants an agent yields during a cycle.
type EventKind string

const (
	EventThought              EventKind = "agent_thought"
	EventToolRequests         EventKind = "tool_requests"
	EventStateChangeRequested EventKind = "state_change_requested"
	EventPlanCreated          EventKind = "plan_created"
	EventTaskListCreated      EventKind = "task_list_created"
	EventCreateWorkerRequest  EventKind = "create_worker_request"
	EventFinalResponse        EventKind = "final_response"
)

// Event is one item produced by Agent.ProcessMessage and consumed by the
// cycle handler. Exactly the fields matching Kind are populated; the rest
// stay zero.
type Event struct {
	Kind EventKind

	Thought   string         // EventThought
	Calls     []ToolCall     // EventToolRequests
	NewState  State          // EventStateChangeRequested
	Plan      *Plan          // EventPlanCreated
	Tasks     []Task         // EventTaskListCreated
	WorkerReq *WorkerRequest // EventCreateWorkerRequest
	Content   string         // EventFinalResponse
}

// ToolCall is a parsed request to invoke a named tool. Argument values are
// strings as extracted from the XML wire format; tools coerce as needed.
type ToolCall struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// Plan is the structured decomposition artifact an Admin agent produces to
// hand a project to a Manager.
type Plan struct {
	ProjectName  string   `json:"project_name"`
	Description  string   `json:"description"`
	Objectives   []string `json:"objectives"`
	Deliverables []string `json:"deliverables"`
}

// Task is one unit of work a Manager defines for its team. Fields captures
// any additional tags present in the task block.
type Task struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	RequiredSkills string            `json:"required_skills,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// WorkerRequest asks the runtime to create a worker agent for a task.
// TaskID is mandatory; Fields carries any extra tags.
type WorkerRequest struct {
	TaskID    string            `json:"task_id"`
	Specialty string            `json:"specialty,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}
