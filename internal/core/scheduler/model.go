package scheduler

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle of a job: pending → running → {completed, failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four job statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one request to run a built-in or user function, and its outcome.
// Result, ExecutionTimeMs and CompletedAt are only written on the transition
// into a terminal status.
type Job struct {
	ID              uint64         `gorm:"primaryKey;autoIncrement" json:"job_id"`
	FunctionName    string         `gorm:"index;not null" json:"function_name"`
	Payload         datatypes.JSON `json:"payload,omitempty"`
	Status          Status         `gorm:"type:varchar(16);index;not null" json:"status"`
	Result          datatypes.JSON `json:"result"`
	ExecutionTimeMs *float64       `json:"execution_time_ms"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
}

func (Job) TableName() string { return "jobs" }

// UserFunctionJobName is the synthetic function reference stored on jobs that
// target a user function.
func UserFunctionJobName(functionID string) string {
	return "user_function_" + functionID
}

// Queue topics.
const (
	TopicBuiltin      = "job_queue"
	TopicUserFunction = "user_function_queue"
)

// Kind tells dispatchers which executor a message is meant for.
type Kind string

const (
	KindBuiltin      Kind = "pre-loaded"
	KindUserFunction Kind = "user-uploaded"
)

// FunctionSnapshot is the user function metadata captured at submit time.
type FunctionSnapshot struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ImageURL       string `json:"image_url"`
	MemoryLimitMB  int    `json:"memory_limit_mb"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Message is the queue representation of a job.
type Message struct {
	JobID        uint64            `json:"job_id"`
	Kind         Kind              `json:"type"`
	FunctionName string            `json:"function_name,omitempty"`
	FunctionID   string            `json:"function_id,omitempty"`
	ExecutionID  string            `json:"execution_id,omitempty"`
	Function     *FunctionSnapshot `json:"function_metadata,omitempty"`
	Payload      json.RawMessage   `json:"payload"`
}

// Outcome is what a dispatcher persists when a job reaches a terminal status.
type Outcome struct {
	Status Status
	// Result is stored on the job row.
	Result json.RawMessage
	// Output is the raw output channel of a sandboxed execution.
	Output string
	// Error is the failure reason, empty on success.
	Error           string
	ExecutionTimeMs float64
}

// Completed builds a successful outcome.
func Completed(result json.RawMessage) Outcome {
	return Outcome{Status: StatusCompleted, Result: result}
}

// Failed builds a failed outcome whose result is {"error": reason} plus any extra fields.
func Failed(reason string, extra map[string]any) Outcome {
	body := map[string]any{"error": reason}
	for k, v := range extra {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": reason})
	}
	return Outcome{Status: StatusFailed, Result: raw, Error: reason}
}

// Stats summarises the job tables and queues.
type Stats struct {
	StatusCounts           map[Status]int64 `json:"status_counts"`
	AverageExecutionTimeMs float64          `json:"average_execution_time_ms"`
	BuiltinQueueSize       int64            `json:"pre_loaded_queue_size"`
	UserFunctionQueueSize  int64            `json:"user_function_queue_size"`
	UserFunctionsReady     int64            `json:"user_functions_ready"`
}

// JobStats is the part of Stats computed by the store.
type JobStats struct {
	StatusCounts           map[Status]int64
	AverageExecutionTimeMs float64
}
