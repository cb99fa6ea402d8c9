package agent

// State is one position in the agent lifecycle state machine. The current
// state selects the system prompt used for the next cycle and constrains
// which transitions are legal.
type State string

const (
	StateIdle            State = "idle"
	StateStartup         State = "startup"
	StatePlanning        State = "planning"
	StateConversation    State = "conversation"
	StateWork            State = "work"
	StateWait            State = "wait"
	StateStandby         State = "standby"
	StateManage          State = "manage"
	StateBuildTeamTasks  State = "build_team_tasks"
	StateActivateWorkers State = "activate_workers"
	StateMaintenance     State = "maintenance"
	StateShutdown        State = "shutdown"
	StateError           State = "error"
	// StateProcessing marks an agent currently running a cycle. Only the
	// cycle handler sets it; the transition into it bypasses the table.
	StateProcessing State = "processing"
)

// Role determines an agent's place in the delegation hierarchy.
type Role string

const (
	RoleAdmin    Role = "admin"    // user-facing primary agent
	RoleManager  Role = "manager"  // project-decomposing agent
	RoleWorker   Role = "worker"   // task-executing agent
	RoleGuardian Role = "guardian" // compliance oversight agent
)

// Capability tags what kinds of work an agent can take on.
type Capability string

const (
	CapTextGeneration  Capability = "text_generation"
	CapConversation    Capability = "conversation"
	CapTaskPlanning    Capability = "task_planning"
	CapCodeGeneration  Capability = "code_generation"
	CapResearch        Capability = "research"
	CapMonitoring      Capability = "monitoring"
	CapCoordination    Capability = "coordination"
	CapComplianceCheck Capability = "compliance_check"
)

// roleCapabilities returns the default capability set for a role.
func roleCapabilities(role Role) map[Capability]bool {
	caps := make(map[Capability]bool)
	switch role {
	case RoleAdmin:
		caps[CapConversation] = true
		caps[CapTaskPlanning] = true
		caps[CapCoordination] = true
		caps[CapMonitoring] = true
	case RoleManager:
		caps[CapTaskPlanning] = true
		caps[CapCoordination] = true
		caps[CapMonitoring] = true
	case RoleWorker:
		caps[CapTextGeneration] = true
		caps[CapResearch] = true
		caps[CapCodeGeneration] = true
	case RoleGuardian:
		caps[CapMonitoring] = true
		caps[CapComplianceCheck] = true
	}
	return caps
}

// validTransitions enumerates every legal state transition. Transitions not
// listed here are rejected. The manager-workflow states (build_team_tasks,
// activate_workers, manage, standby, wait) are reachable from processing
// because workflow progression happens mid-cycle.
var validTransitions = map[State][]State{
	StateIdle: {StateStartup, StatePlanning, StateConversation, StateWork,
		StateMaintenance, StateShutdown, StateProcessing},
	StateProcessing: {StateIdle, StateError, StatePlanning, StateConversation,
		StateWork, StateWait, StateStandby, StateManage,
		StateBuildTeamTasks, StateActivateWorkers},
	StateStartup:         {StateIdle, StatePlanning, StateBuildTeamTasks, StateError, StateProcessing},
	StatePlanning:        {StateIdle, StateConversation, StateWork, StateMaintenance, StateError, StateProcessing},
	StateConversation:    {StateIdle, StatePlanning, StateWork, StateError, StateProcessing},
	StateWork:            {StateIdle, StatePlanning, StateConversation, StateMaintenance, StateWait, StateError, StateProcessing},
	StateWait:            {StateIdle, StateWork, StateError, StateProcessing},
	StateStandby:         {StateIdle, StateStartup, StateManage, StateError, StateProcessing},
	StateManage:          {StateIdle, StateStandby, StateActivateWorkers, StateError, StateProcessing},
	StateBuildTeamTasks:  {StateIdle, StateActivateWorkers, StateError, StateProcessing},
	StateActivateWorkers: {StateIdle, StateManage, StateError, StateProcessing},
	StateMaintenance:     {StateIdle, StateShutdown, StateError},
	StateShutdown:        {StateStartup},
	StateError:           {StateIdle, StateMaintenance, StateShutdown},
}

// IsValidTransition reports whether from → to is in the transition table.
func IsValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidTransitions returns the legal target states from the given state.
func ValidTransitions(from State) []State {
	out := make([]State, len(validTransitions[from]))
	copy(out, validTransitions[from])
	return out
}

// StateTransition is one recorded entry in an agent's state history.
type StateTransition struct {
	From      State  `json:"from_state"`
	To        State  `json:"to_state"`
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	Context   string `json:"context,omitempty"`
}
