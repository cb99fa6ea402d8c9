package agent

import "errors"

// Sentinel errors shared across the orchestration core.
var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrMaxAgents         = errors.New("agent limit reached")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyProcessing = errors.New("agent is already processing")
	ErrManagerClosed     = errors.New("agent manager is shut down")
)
