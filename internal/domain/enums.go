// Package domain defines the core domain models for the orchestration core.
package domain

// RunStatus represents the lifecycle status of a request run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// StageStatus represents the outcome of a single stage execution.
type StageStatus string

const (
	StageStatusCompleted StageStatus = "COMPLETED"
	StageStatusFailed    StageStatus = "FAILED"
	StageStatusSkipped   StageStatus = "SKIPPED"
)

// EventType represents the type of an event delivered on a thread channel.
type EventType string

// Critical lifecycle events. Every successful run that performs at least
// one tool call produces all five, in order, on its thread channel.
const (
	EventTypeAgentStarted   EventType = "agent_started"
	EventTypeAgentThinking  EventType = "agent_thinking"
	EventTypeToolExecuting  EventType = "tool_executing"
	EventTypeToolCompleted  EventType = "tool_completed"
	EventTypeAgentCompleted EventType = "agent_completed"
)

// Auxiliary events for transport health and non-business messages. These
// carry no ordering guarantee relative to the critical kinds.
const (
	EventTypeError                 EventType = "error"
	EventTypePong                  EventType = "pong"
	EventTypeEcho                  EventType = "echo"
	EventTypeConnectionEstablished EventType = "connection_established"
)
