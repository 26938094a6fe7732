package coordinator

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one a Task cannot leave.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a unit of delegated work, owned exclusively by the Coordinator
// that created it.
type Task struct {
	ID            string
	Title         string
	Description   string
	Domain        string
	AssignedTo    string
	CreatedBy     string
	Status        TaskStatus
	CreatedAt     time.Time
	CompletedAt   time.Time
	Requirements  []string
	DueDate       *time.Time
	ParentTaskID  string
	Result        string
	Confidence    float64
	Learnings     []string
	FollowUps     []string
	Error         string

	span trace.Span
}

func newTask(title, description, domain, assignedTo, createdBy string, requirements []string, dueDate *time.Time, parentTaskID, id string) *Task {
	return &Task{
		ID:           id,
		Title:        title,
		Description:  description,
		Domain:       domain,
		AssignedTo:   assignedTo,
		CreatedBy:    createdBy,
		Status:       TaskInProgress,
		CreatedAt:    time.Now(),
		Requirements: requirements,
		DueDate:      dueDate,
		ParentTaskID: parentTaskID,
	}
}

func (t *Task) markCompleted(result string, confidence float64) {
	t.Status = TaskCompleted
	t.Result = result
	t.Confidence = confidence
	t.CompletedAt = time.Now()
	if t.span != nil {
		t.span.End()
		t.span = nil
	}
}

func (t *Task) markFailed(errText string) {
	t.Status = TaskFailed
	t.Error = errText
	t.CompletedAt = time.Now()
	if t.span != nil {
		t.span.RecordError(errors.New(errText))
		t.span.End()
		t.span = nil
	}
}
