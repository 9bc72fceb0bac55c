package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	JobSkipped JobStatus = "skipped"
)

// Job is an execution record for a background task.
type Job struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	TaskName    string         `gorm:"column:task_name;index;type:varchar(100);not null" json:"task_name"`
	QueueTaskID string         `gorm:"column:queue_task_id;type:varchar(64)" json:"queue_task_id,omitempty"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func Models() []any {
	return []any{&Job{}}
}
