package functions

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the build lifecycle of a user function.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

// Runtime is one of the supported language runtimes.
type Runtime string

const (
	RuntimePython311 Runtime = "python3.11"
	RuntimePython310 Runtime = "python3.10"
	RuntimeNode18    Runtime = "node18"
)

// Runtimes lists every runtime a function may be submitted with.
var Runtimes = []Runtime{RuntimePython311, RuntimePython310, RuntimeNode18}

// Supported reports whether rt is a known runtime.
func (rt Runtime) Supported() bool {
	for _, known := range Runtimes {
		if rt == known {
			return true
		}
	}
	return false
}

// Extension is the file extension of source written for the runtime.
func (rt Runtime) Extension() string {
	if rt == RuntimeNode18 {
		return ".js"
	}
	return ".py"
}

// UserFunction is a registered, user-owned function definition.
// ImageURL is non-empty iff Status is ready; ErrorMessage is non-empty iff
// Status is failed.
type UserFunction struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    string    `json:"description"`
	Runtime        Runtime   `gorm:"type:varchar(32);not null" json:"runtime"`
	CodeReference  string    `gorm:"not null" json:"-"`
	Dependencies   string    `gorm:"type:text" json:"dependencies,omitempty"`
	MemoryLimitMB  int       `gorm:"not null;default:128" json:"memory_limit_mb"`
	TimeoutSeconds int       `gorm:"not null;default:30" json:"timeout_seconds"`
	Status         Status    `gorm:"type:varchar(16);index;not null" json:"status"`
	ImageURL       string    `json:"image_url,omitempty"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserFunction) TableName() string { return "user_functions" }

// ExecutionStatus mirrors the status of the job an execution belongs to.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one sandboxed run of a user function, paired 1:1 with a job.
type Execution struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FunctionID      string          `gorm:"index;not null" json:"function_id"`
	JobID           uint64          `gorm:"uniqueIndex;not null" json:"job_id"`
	Status          ExecutionStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	InputData       datatypes.JSON  `json:"input_data,omitempty"`
	OutputData      string          `gorm:"type:text" json:"output_data,omitempty"`
	ErrorMessage    string          `gorm:"type:text" json:"error_message,omitempty"`
	ExecutionTimeMs *float64        `json:"execution_time_ms"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
}

func (Execution) TableName() string { return "function_executions" }
